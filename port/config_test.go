package port

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/logger"
)

func TestNewConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig()
	require.NoError(err)
	require.Equal(frame.TypeASCII, cfg.FrameType())
	require.Equal([]byte("\n"), cfg.EndOfFrame())
	require.Equal(1024, cfg.ReadFrameSize())
	require.Equal(1024, cfg.WriteFrameSize())
	require.Equal(10, cfg.ReadQueueSize())
	require.Equal(10, cfg.WriteQueueSize())
	require.Equal(500*time.Millisecond, cfg.ReadTimeout())
	require.Equal(500*time.Millisecond, cfg.WriteTimeout())
	require.Equal(500*time.Millisecond, cfg.ConnectTimeout())
	require.Equal(5, cfg.ConnectMaxTry())
	require.Equal(language.English, cfg.Language())
	require.NotNil(cfg.GetLogger())

	enabled, _ := cfg.BytePerByteWrite()
	require.False(enabled)
}

func TestNewConfig_Options(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	cfg, err := NewConfig(
		WithFrameType(frame.TypeModbusTCP),
		WithFrameSize(260),
		WithWriteQueueSize(3),
		WithReadTimeout(time.Second),
		WithConnectMaxTry(2),
		WithBytePerByteWrite(true, time.Millisecond),
		WithParity(ParityEven),
		WithLanguage(language.French),
		WithLogger(l),
	)
	require.NoError(err)
	require.Equal(frame.TypeModbusTCP, cfg.FrameType())
	require.Equal(260, cfg.ReadFrameSize())
	require.Equal(260, cfg.WriteFrameSize())
	require.Equal(3, cfg.WriteQueueSize())
	require.Equal(time.Second, cfg.ReadTimeout())
	require.Equal(2, cfg.ConnectMaxTry())
	require.Equal(ParityEven, cfg.Parity())
	require.Equal(language.French, cfg.Language())
	require.Same(l, cfg.GetLogger())

	enabled, wait := cfg.BytePerByteWrite()
	require.True(enabled)
	require.Equal(time.Millisecond, wait)

	clone, err := cfg.Clone(WithReadQueueSize(2))
	require.NoError(err)
	require.Equal(2, clone.ReadQueueSize())
	require.Equal(10, cfg.ReadQueueSize())
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty end of frame", WithEndOfFrame(nil)},
		{"zero frame size", WithReadFrameSize(0)},
		{"huge frame size", WithWriteFrameSize(MaxFrameSize + 1)},
		{"zero queue size", WithReadQueueSize(0)},
		{"zero read timeout", WithReadTimeout(0)},
		{"huge write timeout", WithWriteTimeout(time.Hour)},
		{"zero max try", WithConnectMaxTry(0)},
		{"negative step", WithConnectTimeoutStep(-time.Second)},
		{"negative min wait", WithReadMinWaitTime(-1)},
		{"data bits", WithDataBits(9)},
		{"stop bits", WithStopBits(3)},
		{"baud rate", WithBaudRate(0)},
		{"nil logger", WithLogger(nil)},
		{"frame type", WithFrameType(frame.Type(42))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.opt)
			require.Error(t, err)
			require.Nil(t, cfg)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "port.toml")
	content := `
backend = "tcp"
address = "127.0.0.1:502"
frame_type = "ascii"
end_of_frame = "\r\n"
read_frame_size = 128
read_timeout = "250ms"
connect_max_try = 3
byte_per_byte_write = true
byte_per_byte_wait = "2ms"
language = "de"

[serial]
baud_rate = 115200
parity = "odd"
stop_bits = 2
`
	require.NoError(os.WriteFile(path, []byte(content), 0o600))

	fc, err := LoadConfigFile(path)
	require.NoError(err)
	require.Equal("tcp", fc.Backend)
	require.Equal("127.0.0.1:502", fc.Address)

	opts, err := fc.Options()
	require.NoError(err)
	cfg, err := NewConfig(opts...)
	require.NoError(err)

	require.Equal(frame.TypeASCII, cfg.FrameType())
	require.Equal([]byte("\r\n"), cfg.EndOfFrame())
	require.Equal(128, cfg.ReadFrameSize())
	require.Equal(250*time.Millisecond, cfg.ReadTimeout())
	require.Equal(3, cfg.ConnectMaxTry())
	require.Equal(115200, cfg.BaudRate())
	require.Equal(ParityOdd, cfg.Parity())
	require.Equal(2, cfg.StopBits())
	require.Equal(language.German, cfg.Language())
	enabled, wait := cfg.BytePerByteWrite()
	require.True(enabled)
	require.Equal(2*time.Millisecond, wait)

	t.Run("invalid duration", func(t *testing.T) {
		_, err := FileConfig{ReadTimeout: "soon"}.Options()
		require.Error(err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "none.toml"))
		require.Error(err)
	})
}
