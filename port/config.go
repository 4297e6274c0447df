package port

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/logger"
)

// Default values of a Config.
const (
	DefaultFrameSize          = 1024
	DefaultQueueSize          = 10
	DefaultReadTimeout        = 500 * time.Millisecond
	DefaultWriteTimeout       = 500 * time.Millisecond
	DefaultConnectTimeout     = 500 * time.Millisecond
	DefaultConnectTimeoutStep = 100 * time.Millisecond
	DefaultConnectMaxTry      = 5
	DefaultPoolRetryDelay     = 50 * time.Millisecond
	DefaultBaudRate           = 9600
	DefaultDataBits           = 8
	DefaultStopBits           = 1
)

// Limits of a Config.
const (
	MaxFrameSize     = 1 << 20
	MaxQueueSize     = 1 << 12
	MinTimeout       = time.Millisecond
	MaxTimeout       = time.Minute
	MaxConnectMaxTry = 1000
)

// Parity is the parity mode of a serial line.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return "unknown"
	}
}

// ParseParity parses a parity name.
func ParseParity(s string) (Parity, error) {
	for p := ParityNone; p <= ParitySpace; p++ {
		if strings.EqualFold(strings.TrimSpace(s), p.String()) {
			return p, nil
		}
	}

	return ParityNone, fmt.Errorf("port: unknown parity %q", s)
}

// Config holds the configuration shared by a backend, its workers and the manager.
type Config struct {
	frameType       frame.Type
	endOfFrame      []byte
	ignoreNullBytes bool
	readFrameSize   int
	writeFrameSize  int
	readQueueSize   int
	writeQueueSize  int

	readTimeout  time.Duration
	writeTimeout time.Duration

	// reconnection: each try waits connectTimeout plus connectTimeoutStep per previous try
	connectTimeout     time.Duration
	connectTimeoutStep time.Duration
	connectMaxTry      int

	bytePerByteWrite bool
	bytePerByteWait  time.Duration
	readMinWaitTime  time.Duration
	writeMinWaitTime time.Duration
	poolRetryDelay   time.Duration

	// timeout based protocols end a frame on a read timeout
	useReadTimeoutProtocol bool

	baudRate int
	dataBits int
	parity   Parity
	stopBits int

	language language.Tag
	logger   logger.Logger
}

// NewConfig creates a configuration from defaults and opts, applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		frameType:          frame.TypeASCII,
		endOfFrame:         []byte{'\n'},
		readFrameSize:      DefaultFrameSize,
		writeFrameSize:     DefaultFrameSize,
		readQueueSize:      DefaultQueueSize,
		writeQueueSize:     DefaultQueueSize,
		readTimeout:        DefaultReadTimeout,
		writeTimeout:       DefaultWriteTimeout,
		connectTimeout:     DefaultConnectTimeout,
		connectTimeoutStep: DefaultConnectTimeoutStep,
		connectMaxTry:      DefaultConnectMaxTry,
		poolRetryDelay:     DefaultPoolRetryDelay,
		baudRate:           DefaultBaudRate,
		dataBits:           DefaultDataBits,
		parity:             ParityNone,
		stopBits:           DefaultStopBits,
		language:           language.English,
		logger:             logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Clone returns a copy of cfg with opts applied.
func (cfg *Config) Clone(opts ...Option) (*Config, error) {
	c := *cfg
	c.endOfFrame = bytes.Clone(cfg.endOfFrame)
	for _, opt := range opts {
		if err := opt.apply(&c); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// --- Getters ---

// FrameType returns the end-of-message policy of read frames.
func (cfg *Config) FrameType() frame.Type { return cfg.frameType }

// EndOfFrame returns the end-of-frame sequence of ASCII frames.
func (cfg *Config) EndOfFrame() []byte { return cfg.endOfFrame }

// IgnoreNullBytes reports whether ASCII frames drop NUL bytes.
func (cfg *Config) IgnoreNullBytes() bool { return cfg.ignoreNullBytes }

func (cfg *Config) ReadFrameSize() int  { return cfg.readFrameSize }
func (cfg *Config) WriteFrameSize() int { return cfg.writeFrameSize }
func (cfg *Config) ReadQueueSize() int  { return cfg.readQueueSize }
func (cfg *Config) WriteQueueSize() int { return cfg.writeQueueSize }

func (cfg *Config) ReadTimeout() time.Duration  { return cfg.readTimeout }
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// ConnectTimeout returns the timeout of the first connection attempt.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// ConnectTimeoutStep returns the timeout increment added per failed attempt.
func (cfg *Config) ConnectTimeoutStep() time.Duration { return cfg.connectTimeoutStep }

// ConnectMaxTry returns the number of connection attempts before giving up.
func (cfg *Config) ConnectMaxTry() int { return cfg.connectMaxTry }

// BytePerByteWrite reports whether frames are written one byte at a time,
// and the pause between two bytes.
func (cfg *Config) BytePerByteWrite() (bool, time.Duration) {
	return cfg.bytePerByteWrite, cfg.bytePerByteWait
}

func (cfg *Config) ReadMinWaitTime() time.Duration  { return cfg.readMinWaitTime }
func (cfg *Config) WriteMinWaitTime() time.Duration { return cfg.writeMinWaitTime }

// PoolRetryDelay returns how long the reader backs off when no read frame is free.
func (cfg *Config) PoolRetryDelay() time.Duration { return cfg.poolRetryDelay }

// UseReadTimeoutProtocol reports whether a read timeout completes the current frame.
func (cfg *Config) UseReadTimeoutProtocol() bool { return cfg.useReadTimeoutProtocol }

func (cfg *Config) BaudRate() int          { return cfg.baudRate }
func (cfg *Config) DataBits() int          { return cfg.dataBits }
func (cfg *Config) Parity() Parity         { return cfg.parity }
func (cfg *Config) StopBits() int          { return cfg.stopBits }
func (cfg *Config) Language() language.Tag { return cfg.language }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// NewReadFrame allocates a read frame following the configuration.
func (cfg *Config) NewReadFrame() *frame.Frame {
	return frame.New(cfg.frameType, cfg.readFrameSize,
		frame.WithEndOfFrame(cfg.endOfFrame),
		frame.WithIgnoreNullBytes(cfg.ignoreNullBytes),
	)
}

// NewWriteFrame allocates a write frame following the configuration.
func (cfg *Config) NewWriteFrame() *frame.Frame {
	return frame.New(frame.TypeRaw, cfg.writeFrameSize)
}

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("port: %s %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}

// WithFrameType sets the end-of-message policy of read frames.
func WithFrameType(typ frame.Type) Option {
	return optFunc(func(cfg *Config) error {
		if typ > frame.TypeUsbtmc {
			return fmt.Errorf("port: invalid frame type %d", typ)
		}
		cfg.frameType = typ

		return nil
	})
}

// WithEndOfFrame sets the end-of-frame sequence of ASCII frames.
func WithEndOfFrame(seq []byte) Option {
	return optFunc(func(cfg *Config) error {
		if len(seq) == 0 {
			return errors.New("port: end-of-frame sequence must not be empty")
		}
		cfg.endOfFrame = bytes.Clone(seq)

		return nil
	})
}

// WithIgnoreNullBytes makes ASCII frames drop NUL bytes.
func WithIgnoreNullBytes(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.ignoreNullBytes = enabled
		return nil
	})
}

// WithFrameSize sets both read and write frame capacities.
func WithFrameSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if err := WithReadFrameSize(size).apply(cfg); err != nil {
			return err
		}

		return WithWriteFrameSize(size).apply(cfg)
	})
}

// WithReadFrameSize sets the capacity of read frames.
func WithReadFrameSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxFrameSize {
			return fmt.Errorf("port: read frame size %d out of range [1, %d]", size, MaxFrameSize)
		}
		cfg.readFrameSize = size

		return nil
	})
}

// WithWriteFrameSize sets the capacity of write frames.
func WithWriteFrameSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxFrameSize {
			return fmt.Errorf("port: write frame size %d out of range [1, %d]", size, MaxFrameSize)
		}
		cfg.writeFrameSize = size

		return nil
	})
}

// WithReadQueueSize sets the number of read frames.
func WithReadQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxQueueSize {
			return fmt.Errorf("port: read queue size %d out of range [1, %d]", size, MaxQueueSize)
		}
		cfg.readQueueSize = size

		return nil
	})
}

// WithWriteQueueSize sets the number of write frames.
func WithWriteQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxQueueSize {
			return fmt.Errorf("port: write queue size %d out of range [1, %d]", size, MaxQueueSize)
		}
		cfg.writeQueueSize = size

		return nil
	})
}

// WithReadTimeout sets the timeout of a single wait for incoming data.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("read timeout", d); err != nil {
			return err
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the timeout of a single wait for the line to accept data.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("write timeout", d); err != nil {
			return err
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithConnectTimeout sets the timeout of the first connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("connect timeout", d); err != nil {
			return err
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithConnectTimeoutStep sets the timeout added to each new connection attempt.
func WithConnectTimeoutStep(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxTimeout {
			return fmt.Errorf("port: connect timeout step %v out of range [0, %v]", d, MaxTimeout)
		}
		cfg.connectTimeoutStep = d

		return nil
	})
}

// WithConnectMaxTry sets the number of connection attempts before ConnectionFailed.
func WithConnectMaxTry(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxConnectMaxTry {
			return fmt.Errorf("port: connect max try %d out of range [1, %d]", n, MaxConnectMaxTry)
		}
		cfg.connectMaxTry = n

		return nil
	})
}

// WithBytePerByteWrite writes frames one byte at a time, pausing wait between bytes.
func WithBytePerByteWrite(enabled bool, wait time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if wait < 0 {
			return errors.New("port: byte per byte wait must not be negative")
		}
		cfg.bytePerByteWrite = enabled
		cfg.bytePerByteWait = wait

		return nil
	})
}

// WithReadMinWaitTime sets a pause before each wait for incoming data.
func WithReadMinWaitTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("port: read min wait time must not be negative")
		}
		cfg.readMinWaitTime = d

		return nil
	})
}

// WithWriteMinWaitTime sets a pause before each frame write.
func WithWriteMinWaitTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("port: write min wait time must not be negative")
		}
		cfg.writeMinWaitTime = d

		return nil
	})
}

// WithPoolRetryDelay sets the reader back off when no read frame is free.
func WithPoolRetryDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("port: pool retry delay must be positive")
		}
		cfg.poolRetryDelay = d

		return nil
	})
}

// WithUseReadTimeoutProtocol makes a read timeout complete a non empty frame.
func WithUseReadTimeoutProtocol(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.useReadTimeoutProtocol = enabled
		return nil
	})
}

// WithBaudRate sets the serial line speed.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("port: invalid baud rate %d", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithDataBits sets the serial character size, 5 to 8 bits.
func WithDataBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("port: data bits %d out of range [5, 8]", bits)
		}
		cfg.dataBits = bits

		return nil
	})
}

// WithParity sets the serial parity.
func WithParity(p Parity) Option {
	return optFunc(func(cfg *Config) error {
		if p > ParitySpace {
			return fmt.Errorf("port: invalid parity %d", p)
		}
		cfg.parity = p

		return nil
	})
}

// WithStopBits sets the number of serial stop bits, 1 or 2.
func WithStopBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits != 1 && bits != 2 {
			return fmt.Errorf("port: stop bits %d must be 1 or 2", bits)
		}
		cfg.stopBits = bits

		return nil
	})
}

// WithLanguage sets the language of the state labels published by the manager.
func WithLanguage(tag language.Tag) Option {
	return optFunc(func(cfg *Config) error {
		cfg.language = tag
		return nil
	})
}

// WithLogger sets the logger used by the backend, the workers and the manager.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("port: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
