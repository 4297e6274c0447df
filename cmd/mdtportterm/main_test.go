package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/manager"
	"github.com/scandyna/multidiagtools-sub015/port"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "port.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestBuildSession_Flags(t *testing.T) {
	require := require.New(t)

	o := defaultCLIOptions()
	o.Address = "127.0.0.1:5025"
	o.EndOfFrame = `\r\n`
	o.Language = "fr"

	s, err := buildSession(o, map[string]bool{})
	require.NoError(err)
	require.Equal("tcp", s.backend)
	require.Equal(frame.TypeASCII, s.cfg.FrameType())
	require.Equal([]byte("\r\n"), s.cfg.EndOfFrame())
	require.Equal(language.French, s.cfg.Language())
	require.Same(s.log, s.cfg.GetLogger())

	b, err := s.newBackend()
	require.NoError(err)
	require.Equal("127.0.0.1:5025", b.Core().Name())
}

func TestBuildSession_ConfigFile(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
backend = "tcp"
address = "10.0.0.5:502"
frame_type = "modbus-tcp"
read_timeout = "250ms"
connect_max_try = 2
`)

	o := defaultCLIOptions()
	o.ConfigPath = path

	s, err := buildSession(o, map[string]bool{})
	require.NoError(err)
	require.Equal("10.0.0.5:502", s.address)
	require.Equal(frame.TypeModbusTCP, s.cfg.FrameType())
	require.Equal(250*time.Millisecond, s.cfg.ReadTimeout())
	require.Equal(2, s.cfg.ConnectMaxTry())

	// flags set on the command line win over the file
	o.Address = "10.0.0.6:1502"
	o.ReadTimeout = time.Second
	s, err = buildSession(o, map[string]bool{"address": true, "read-timeout": true})
	require.NoError(err)
	require.Equal("10.0.0.6:1502", s.address)
	require.Equal(time.Second, s.cfg.ReadTimeout())
	require.Equal(frame.TypeModbusTCP, s.cfg.FrameType())
}

func TestBuildSession_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *cliOptions)
	}{
		{"no address", func(o *cliOptions) {}},
		{"log level", func(o *cliOptions) { o.Address = "h:1"; o.LogLevel = "loud" }},
		{"frame type", func(o *cliOptions) { o.Address = "h:1"; o.FrameType = "hdlc" }},
		{"parity", func(o *cliOptions) { o.Address = "h:1"; o.Parity = "sometimes" }},
		{"eof escape", func(o *cliOptions) { o.Address = "h:1"; o.EndOfFrame = `\q` }},
		{"missing file", func(o *cliOptions) { o.Address = "h:1"; o.ConfigPath = "/nonexistent/port.toml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultCLIOptions()
			tt.modify(o)
			_, err := buildSession(o, map[string]bool{})
			require.Error(t, err)
		})
	}

	s := &session{backend: "carrier-pigeon", address: "x"}
	_, err := s.newBackend()
	require.Error(t, err)
}

func TestHelpers(t *testing.T) {
	require := require.New(t)

	values, err := parseUint16s([]string{"10", "0x20", "65535"})
	require.NoError(err)
	require.Equal([]uint16{10, 0x20, 0xFFFF}, values)
	_, err = parseUint16s([]string{"65536"})
	require.Error(err)

	host, p, err := splitModbusAddress("plc.local")
	require.NoError(err)
	require.Equal("plc.local", host)
	require.Equal(manager.DefaultModbusTCPPort, p)

	host, p, err = splitModbusAddress("10.0.0.5:1502")
	require.NoError(err)
	require.Equal("10.0.0.5", host)
	require.Equal(1502, p)

	_, _, err = splitModbusAddress("10.0.0.5:http")
	require.Error(err)

	require.Equal("1010", formatBits([]bool{true, false, true, false}))

	cfg, err := port.NewConfig(port.WithEndOfFrame([]byte("\r\n")))
	require.NoError(err)
	require.Equal([]byte("*IDN?\r\n"), withPayloadEOF(cfg, "*IDN?"))

	cfg, err = port.NewConfig(port.WithFrameType(frame.TypeRaw))
	require.NoError(err)
	require.Equal([]byte("*IDN?"), withPayloadEOF(cfg, "*IDN?"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestMonitor(t *testing.T) {
	require := require.New(t)

	p := port.NewMemPort()
	require.NoError(p.SetAttributes("mem"))
	p.SetResponder(bytes.ToUpper)

	cfg, err := port.NewConfig(port.WithReadTimeout(30*time.Millisecond), port.WithConnectTimeout(10*time.Millisecond))
	require.NoError(err)
	m, err := manager.New(p, cfg)
	require.NoError(err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out syncBuffer
	require.NoError(monitor(ctx, m, strings.NewReader("volt?\ncurr?\n"), &out, time.Second))

	require.Eventually(func() bool {
		s := out.String()
		return strings.Contains(s, "> VOLT?") && strings.Contains(s, "> CURR?")
	}, 2*time.Second, 5*time.Millisecond, out.String())

	s := out.String()
	require.Contains(s, ">1> volt?")
	require.Contains(s, "# connection attempt 1/5")
	require.Contains(s, "# Ready (green)")
	require.Equal("volt?\ncurr?\n", string(p.Written()))
}
