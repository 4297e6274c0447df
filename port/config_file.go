package port

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/frame"
)

// FileConfig mirrors Config with TOML friendly fields. Durations are strings
// parsed with time.ParseDuration, zero values keep the defaults.
//
//	backend = "tcp"
//	address = "192.168.1.10:502"
//	frame_type = "modbus-tcp"
//	read_timeout = "500ms"
//
//	[serial]
//	baud_rate = 115200
//	parity = "even"
type FileConfig struct {
	Backend string `toml:"backend"`
	Address string `toml:"address"`

	FrameType       string `toml:"frame_type"`
	EndOfFrame      string `toml:"end_of_frame"`
	IgnoreNullBytes *bool  `toml:"ignore_null_bytes"`
	ReadFrameSize   int    `toml:"read_frame_size"`
	WriteFrameSize  int    `toml:"write_frame_size"`
	ReadQueueSize   int    `toml:"read_queue_size"`
	WriteQueueSize  int    `toml:"write_queue_size"`

	ReadTimeout        string `toml:"read_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ConnectTimeoutStep string `toml:"connect_timeout_step"`
	ConnectMaxTry      int    `toml:"connect_max_try"`

	BytePerByteWrite       *bool  `toml:"byte_per_byte_write"`
	BytePerByteWait        string `toml:"byte_per_byte_wait"`
	ReadMinWaitTime        string `toml:"read_min_wait_time"`
	WriteMinWaitTime       string `toml:"write_min_wait_time"`
	UseReadTimeoutProtocol *bool  `toml:"use_read_timeout_protocol"`

	Language string `toml:"language"`

	Serial SerialFileConfig `toml:"serial"`
}

// SerialFileConfig holds the serial line attributes of a FileConfig.
type SerialFileConfig struct {
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits int    `toml:"stop_bits"`
}

// LoadConfigFile reads and parses a TOML config file from the given path.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("port: parse %s: %w", path, err)
	}

	return fc, nil
}

// Options converts the file configuration into options to pass to NewConfig.
// Options given on the command line should be appended after them.
func (fc FileConfig) Options() ([]Option, error) {
	var opts []Option

	if fc.FrameType != "" {
		typ, err := frame.ParseType(fc.FrameType)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithFrameType(typ))
	}
	if fc.EndOfFrame != "" {
		opts = append(opts, WithEndOfFrame([]byte(fc.EndOfFrame)))
	}
	if fc.IgnoreNullBytes != nil {
		opts = append(opts, WithIgnoreNullBytes(*fc.IgnoreNullBytes))
	}

	ints := []struct {
		v   int
		opt func(int) Option
	}{
		{fc.ReadFrameSize, WithReadFrameSize},
		{fc.WriteFrameSize, WithWriteFrameSize},
		{fc.ReadQueueSize, WithReadQueueSize},
		{fc.WriteQueueSize, WithWriteQueueSize},
		{fc.ConnectMaxTry, WithConnectMaxTry},
		{fc.Serial.BaudRate, WithBaudRate},
		{fc.Serial.DataBits, WithDataBits},
		{fc.Serial.StopBits, WithStopBits},
	}
	for _, it := range ints {
		if it.v != 0 {
			opts = append(opts, it.opt(it.v))
		}
	}

	durations := []struct {
		name string
		v    string
		opt  func(time.Duration) Option
	}{
		{"read_timeout", fc.ReadTimeout, WithReadTimeout},
		{"write_timeout", fc.WriteTimeout, WithWriteTimeout},
		{"connect_timeout", fc.ConnectTimeout, WithConnectTimeout},
		{"connect_timeout_step", fc.ConnectTimeoutStep, WithConnectTimeoutStep},
		{"read_min_wait_time", fc.ReadMinWaitTime, WithReadMinWaitTime},
		{"write_min_wait_time", fc.WriteMinWaitTime, WithWriteMinWaitTime},
	}
	for _, it := range durations {
		if it.v == "" {
			continue
		}
		d, err := time.ParseDuration(it.v)
		if err != nil {
			return nil, fmt.Errorf("port: invalid %s: %w", it.name, err)
		}
		opts = append(opts, it.opt(d))
	}

	if fc.BytePerByteWrite != nil {
		var wait time.Duration
		if fc.BytePerByteWait != "" {
			d, err := time.ParseDuration(fc.BytePerByteWait)
			if err != nil {
				return nil, fmt.Errorf("port: invalid byte_per_byte_wait: %w", err)
			}
			wait = d
		}
		opts = append(opts, WithBytePerByteWrite(*fc.BytePerByteWrite, wait))
	}
	if fc.UseReadTimeoutProtocol != nil {
		opts = append(opts, WithUseReadTimeoutProtocol(*fc.UseReadTimeoutProtocol))
	}

	if fc.Serial.Parity != "" {
		p, err := ParseParity(fc.Serial.Parity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithParity(p))
	}
	if fc.Language != "" {
		tag, err := language.Parse(fc.Language)
		if err != nil {
			return nil, fmt.Errorf("port: invalid language: %w", err)
		}
		opts = append(opts, WithLanguage(tag))
	}

	return opts, nil
}
