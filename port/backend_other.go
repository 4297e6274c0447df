//go:build !linux

package port

import "time"

// SerialPort is only available on Linux.
type SerialPort struct {
	Base
}

// NewSerialPort returns a backend whose Open fails with ErrUnsupported.
func NewSerialPort(path string) *SerialPort {
	p := &SerialPort{}
	p.setName(path)

	return p
}

// DeviceFile is only available on Linux.
type DeviceFile struct {
	SerialPort
}

// NewDeviceFile returns a backend whose Open fails with ErrUnsupported.
func NewDeviceFile(path string) *DeviceFile {
	p := &DeviceFile{}
	p.setName(path)

	return p
}

func (p *DeviceFile) Connect(time.Duration) error { return ErrUnsupported }
func (p *DeviceFile) IsConnected() bool           { return false }

// UsbBulk is only available on Linux.
type UsbBulk struct {
	SerialPort
}

// NewUsbBulk returns a backend whose Open fails with ErrUnsupported.
func NewUsbBulk(path string, _, _ byte) *UsbBulk {
	p := &UsbBulk{}
	p.setName(path)

	return p
}

func (p *UsbBulk) Connect(time.Duration) error { return ErrUnsupported }
func (p *UsbBulk) IsConnected() bool           { return false }

func (p *SerialPort) SetAttributes(path string) error {
	p.setName(path)
	return nil
}

func (p *SerialPort) Open(*Config) error            { return ErrUnsupported }
func (p *SerialPort) Close() error                  { return nil }
func (p *SerialPort) SetReadTimeout(time.Duration)  {}
func (p *SerialPort) SetWriteTimeout(time.Duration) {}
func (p *SerialPort) WaitForReadable() error        { return ErrUnsupported }
func (p *SerialPort) Read([]byte) (int, error)      { return 0, ErrUnsupported }
func (p *SerialPort) WaitForWritable() error        { return ErrUnsupported }
func (p *SerialPort) Write([]byte) (int, error)     { return 0, ErrUnsupported }
func (p *SerialPort) CancelWait()                   {}
