package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	pflag "github.com/spf13/pflag"
	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/logger"
	"github.com/scandyna/multidiagtools-sub015/port"
)

// cliOptions holds the command line flags shared by every command.
type cliOptions struct {
	ConfigPath string
	Backend    string
	Address    string

	FrameType      string
	EndOfFrame     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	ConnectMaxTry  int
	BaudRate       int
	Parity         string
	Language       string

	ReplyTimeout time.Duration
	LogLevel     string
}

func defaultCLIOptions() *cliOptions {
	return &cliOptions{
		Backend:        "tcp",
		FrameType:      frame.TypeASCII.String(),
		EndOfFrame:     `\n`,
		ReadTimeout:    port.DefaultReadTimeout,
		WriteTimeout:   port.DefaultWriteTimeout,
		ConnectTimeout: port.DefaultConnectTimeout,
		ConnectMaxTry:  port.DefaultConnectMaxTry,
		BaudRate:       port.DefaultBaudRate,
		Parity:         "none",
		Language:       "en",
		ReplyTimeout:   time.Second,
		LogLevel:       "warn",
	}
}

func bindFlags(fs *pflag.FlagSet, o *cliOptions) {
	fs.StringVar(&o.ConfigPath, "config", "", "path to a TOML port configuration file")
	fs.StringVar(&o.Backend, "backend", o.Backend, "transport: tcp, serial or device")
	fs.StringVar(&o.Address, "address", "", `"host:port" for tcp, device path otherwise`)

	fs.StringVar(&o.FrameType, "frame-type", o.FrameType, "framing: raw, ascii, modbus-tcp or usbtmc")
	fs.StringVar(&o.EndOfFrame, "eof", o.EndOfFrame, `end of frame sequence of ascii frames, Go escapes allowed (e.g. '\r\n')`)
	fs.DurationVar(&o.ReadTimeout, "read-timeout", o.ReadTimeout, "read timeout")
	fs.DurationVar(&o.WriteTimeout, "write-timeout", o.WriteTimeout, "write timeout")
	fs.DurationVar(&o.ConnectTimeout, "connect-timeout", o.ConnectTimeout, "timeout of the first connection attempt")
	fs.IntVar(&o.ConnectMaxTry, "connect-max-try", o.ConnectMaxTry, "connection attempts before giving up")
	fs.IntVar(&o.BaudRate, "baud", o.BaudRate, "serial baud rate")
	fs.StringVar(&o.Parity, "parity", o.Parity, "serial parity: none, odd or even")
	fs.StringVar(&o.Language, "language", o.Language, "language of the state labels")

	fs.DurationVar(&o.ReplyTimeout, "timeout", o.ReplyTimeout, "reply timeout")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level: debug, info, warn or error")
}

func parseLogLevel(s string) (logger.Level, error) {
	switch s {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "warn":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// unescape interprets Go escape sequences of s.
func unescape(s string) (string, error) {
	u, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid escape sequence in %q", s)
	}

	return u, nil
}

// session is what a command needs to open a port.
type session struct {
	backend string
	address string
	cfg     *port.Config
	log     logger.Logger
}

// buildSession merges the configuration file, if any, with the flags set on
// the command line. Flags win.
func buildSession(o *cliOptions, changed map[string]bool) (*session, error) {
	level, err := parseLogLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logger.NewSlogWriter(os.Stderr, level, false)
	logger.SetDefault(log)

	s := &session{backend: o.Backend, address: o.Address, log: log}
	var opts []port.Option

	if o.ConfigPath != "" {
		fc, err := port.LoadConfigFile(o.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		fileOpts, err := fc.Options()
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", o.ConfigPath, err)
		}
		opts = append(opts, fileOpts...)

		if fc.Backend != "" && !changed["backend"] {
			s.backend = fc.Backend
		}
		if fc.Address != "" && !changed["address"] {
			s.address = fc.Address
		}
	}

	flagOpts, err := o.portOptions(changed, o.ConfigPath == "")
	if err != nil {
		return nil, err
	}
	opts = append(opts, flagOpts...)
	opts = append(opts, port.WithLogger(log))

	if s.cfg, err = port.NewConfig(opts...); err != nil {
		return nil, err
	}
	if s.address == "" {
		return nil, errors.New("no address, set --address or the address of the config file")
	}

	return s, nil
}

// portOptions converts the flags into port options. Without a config file
// every flag applies, otherwise only the changed ones.
func (o *cliOptions) portOptions(changed map[string]bool, all bool) ([]port.Option, error) {
	set := func(name string) bool { return all || changed[name] }

	var opts []port.Option

	if set("frame-type") {
		typ, err := frame.ParseType(o.FrameType)
		if err != nil {
			return nil, err
		}
		opts = append(opts, port.WithFrameType(typ))
	}
	if set("eof") {
		eof, err := unescape(o.EndOfFrame)
		if err != nil {
			return nil, err
		}
		opts = append(opts, port.WithEndOfFrame([]byte(eof)))
	}
	if set("read-timeout") {
		opts = append(opts, port.WithReadTimeout(o.ReadTimeout))
	}
	if set("write-timeout") {
		opts = append(opts, port.WithWriteTimeout(o.WriteTimeout))
	}
	if set("connect-timeout") {
		opts = append(opts, port.WithConnectTimeout(o.ConnectTimeout))
	}
	if set("connect-max-try") {
		opts = append(opts, port.WithConnectMaxTry(o.ConnectMaxTry))
	}
	if set("baud") {
		opts = append(opts, port.WithBaudRate(o.BaudRate))
	}
	if set("parity") {
		p, err := port.ParseParity(o.Parity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, port.WithParity(p))
	}
	if set("language") {
		tag, err := language.Parse(o.Language)
		if err != nil {
			return nil, fmt.Errorf("invalid language: %w", err)
		}
		opts = append(opts, port.WithLanguage(tag))
	}

	return opts, nil
}

// newBackend creates the backend selected by the session.
func (s *session) newBackend() (port.Backend, error) {
	switch s.backend {
	case "tcp":
		return port.NewTCPPort(s.address)
	case "serial":
		return port.NewSerialPort(s.address), nil
	case "device":
		return port.NewDeviceFile(s.address), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", s.backend)
	}
}
