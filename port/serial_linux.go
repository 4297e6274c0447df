//go:build linux

package port

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// cmspar selects mark/space parity, missing from the unix package on some arches.
const cmspar = 0x40000000

var baudRates = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// SerialPort is a backend over a POSIX serial tty.
type SerialPort struct {
	Base

	state AtomicOpState
	path  string
	fdEngine
}

var _ Backend = (*SerialPort)(nil)

// NewSerialPort creates a serial backend for the tty at path.
func NewSerialPort(path string) *SerialPort {
	p := &SerialPort{path: path}
	p.fdEngine = newFdEngine(&p.Base)
	p.setName(path)

	return p
}

func (p *SerialPort) SetAttributes(path string) error {
	if path == "" {
		return errors.New("port: serial device path not set")
	}
	p.path = path
	p.setName(path)

	return nil
}

// Open opens the tty and applies the line attributes of cfg.
func (p *SerialPort) Open(cfg *Config) error {
	if !p.state.ToOpening() {
		return ErrAlreadyOpen
	}

	p.Init(cfg)
	p.readTimeout = cfg.ReadTimeout()
	p.writeTimeout = cfg.WriteTimeout()

	if err := p.open(p.path); err != nil {
		p.state.Set(ClosedState)
		return err
	}
	if err := setTermios(p.fd, cfg); err != nil {
		_ = p.close()
		p.state.Set(ClosedState)

		return err
	}
	p.state.ToOpened()

	return nil
}

func (p *SerialPort) Close() error {
	if !p.state.ToClosing() {
		return nil
	}
	defer p.state.ToClosed()

	return p.close()
}

func (p *SerialPort) SetReadTimeout(d time.Duration)  { p.readTimeout = d }
func (p *SerialPort) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

func (p *SerialPort) CancelWait()                   { p.cancelWait() }
func (p *SerialPort) WaitForReadable() error        { return p.waitForReadable() }
func (p *SerialPort) WaitForWritable() error        { return p.waitForWritable() }
func (p *SerialPort) Read(buf []byte) (int, error)  { return p.read(buf) }
func (p *SerialPort) Write(buf []byte) (int, error) { return p.write(buf) }

// setTermios puts the tty in raw mode with the speed, character size, parity
// and stop bits of cfg, without flow control.
func setTermios(fd int, cfg *Config) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("port: tcgetattr: %w", err)
	}

	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK | unix.IXON | unix.IXOFF | unix.INPCK | unix.ISTRIP
	t.Cflag &^= unix.CRTSCTS

	speed, ok := baudRates[cfg.BaudRate()]
	if !ok {
		return fmt.Errorf("port: unsupported baud rate %d", cfg.BaudRate())
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed

	t.Cflag &^= unix.CSIZE
	switch cfg.DataBits() {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}

	if cfg.StopBits() == 2 {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}

	t.Cflag &^= unix.PARENB | unix.PARODD | cmspar
	switch cfg.Parity() {
	case ParityEven:
		t.Cflag |= unix.PARENB
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityMark:
		t.Cflag |= unix.PARENB | unix.PARODD | cmspar
	case ParitySpace:
		t.Cflag |= unix.PARENB | cmspar
	}
	if cfg.Parity() != ParityNone {
		t.Iflag |= unix.INPCK
	}

	// non blocking reads, select does the waiting
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("port: tcsetattr: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("port: flush: %w", err)
	}

	return nil
}
