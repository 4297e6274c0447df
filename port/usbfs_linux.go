//go:build linux

package port

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNoBulkInterface is returned by UsbBulk.Connect when the device has no
// interface of the requested class with a bulk IN and a bulk OUT endpoint.
var ErrNoBulkInterface = errors.New("port: no matching bulk interface")

// usbfs ioctl requests of linux/usbdevice_fs.h, with the asm-generic encoding.
var (
	usbdevfsBulk             = usbIoc(3, 2, unsafe.Sizeof(usbBulkTransfer{}))
	usbdevfsClaimInterface   = usbIoc(2, 15, 4)
	usbdevfsReleaseInterface = usbIoc(2, 16, 4)
	usbdevfsClearHalt        = usbIoc(2, 21, 4)
	usbdevfsDisconnectClaim  = usbIoc(2, 27, unsafe.Sizeof(usbDisconnectClaim{}))
)

func usbIoc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | 'U'<<8 | nr
}

// usbBulkTransfer is struct usbdevfs_bulktransfer.
type usbBulkTransfer struct {
	ep      uint32
	len     uint32
	timeout uint32 // ms
	data    unsafe.Pointer
}

// usbDisconnectClaim is struct usbdevfs_disconnect_claim.
type usbDisconnectClaim struct {
	iface  uint32
	flags  uint32
	driver [256]byte
}

func usbIoctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}

	return int(r), nil
}

func bulkTransfer(fd int, ep byte, buf []byte, timeout time.Duration) (int, error) {
	xfer := usbBulkTransfer{
		ep:      uint32(ep),
		len:     uint32(len(buf)),
		timeout: uint32(max(timeout.Milliseconds(), 1)), // 0 would wait forever
	}
	if len(buf) > 0 {
		xfer.data = unsafe.Pointer(&buf[0])
	}

	return usbIoctl(fd, usbdevfsBulk, unsafe.Pointer(&xfer))
}

// usbInterface is a bulk interface found in the device descriptors.
type usbInterface struct {
	number    byte
	epIn      byte
	epOut     byte
	maxPacket int
}

const (
	descInterface = 4
	descEndpoint  = 5

	epDirIn        = 0x80
	epTransferMask = 0x03
	epTransferBulk = 0x02
)

// findBulkInterface walks the descriptors returned by a read on a usbfs node
// and returns the first interface, alternate setting 0, of class/subClass
// having a bulk IN and a bulk OUT endpoint.
func findBulkInterface(desc []byte, class, subClass byte) (usbInterface, error) {
	var (
		cur      usbInterface
		matching bool
	)
	complete := func() bool { return matching && cur.epIn != 0 && cur.epOut != 0 }

	for i := 0; i+2 <= len(desc); {
		l := int(desc[i])
		if l < 2 || i+l > len(desc) {
			return usbInterface{}, fmt.Errorf("port: malformed descriptor at offset %d", i)
		}
		d := desc[i : i+l]
		i += l

		switch d[1] {
		case descInterface:
			if complete() {
				return cur, nil
			}
			if l < 9 {
				continue
			}
			matching = d[3] == 0 && d[5] == class && d[6] == subClass
			cur = usbInterface{number: d[2]}

		case descEndpoint:
			if !matching || l < 7 || d[3]&epTransferMask != epTransferBulk {
				continue
			}
			if d[2]&epDirIn != 0 {
				cur.epIn = d[2]
				cur.maxPacket = int(binary.LittleEndian.Uint16(d[4:6]) & 0x7FF)
			} else {
				cur.epOut = d[2]
			}
		}
	}

	if complete() {
		return cur, nil
	}

	return usbInterface{}, fmt.Errorf("%w: class %#02x subclass %#02x", ErrNoBulkInterface, class, subClass)
}

// UsbBulk is a backend over the bulk endpoints of a USB interface, reached
// through usbfs, such as /dev/bus/usb/001/004. Bytes go to and come from the
// endpoints as they are: protocol headers, like the USBTMC bulk header, are
// written and parsed by the frame codec.
//
// Connect detaches the kernel driver bound to the interface, if any, then
// claims it. Like DeviceFile it is a Connector: when the device disappears
// the reader waits for the node to come back.
//
// A bulk transfer can not be interrupted, so CancelWait takes effect once the
// in-flight transfer ends, within the read timeout.
type UsbBulk struct {
	Base

	state    AtomicOpState
	path     string
	class    byte
	subClass byte

	fd           int
	iface        usbInterface
	rx           []byte
	rxBuf        []byte
	canceled     atomic.Bool
	readTimeout  time.Duration
	writeTimeout time.Duration
}

var (
	_ Backend   = (*UsbBulk)(nil)
	_ Connector = (*UsbBulk)(nil)
)

// NewUsbBulk creates a backend for the first interface of class/subClass of
// the usbfs device node at path.
func NewUsbBulk(path string, class, subClass byte) *UsbBulk {
	p := &UsbBulk{path: path, class: class, subClass: subClass, fd: -1}
	p.setName(path)

	return p
}

func (p *UsbBulk) SetAttributes(path string) error {
	if path == "" {
		return errors.New("port: usb device path not set")
	}
	p.path = path
	p.setName(path)

	return nil
}

// Open prepares the backend. The device itself is opened by Connect.
func (p *UsbBulk) Open(cfg *Config) error {
	if !p.state.ToOpening() {
		return ErrAlreadyOpen
	}

	p.Init(cfg)
	p.readTimeout = cfg.ReadTimeout()
	p.writeTimeout = cfg.WriteTimeout()
	p.canceled.Store(false)
	p.state.ToOpened()

	return nil
}

func (p *UsbBulk) Close() error {
	if !p.state.ToClosing() {
		return nil
	}
	defer p.state.ToClosed()

	p.Lock()
	defer p.Unlock()

	return p.close()
}

// Connect waits up to timeout for the device node, opens it and claims the
// bulk interface.
func (p *UsbBulk) Connect(timeout time.Duration) error {
	if !p.state.IsOpened() {
		return ErrNotOpen
	}

	if err := waitForNode(p.path, timeout); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	_ = p.close()

	fd, err := unix.Open(p.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("port: open %s: %w", p.path, err)
	}

	iface, err := readBulkInterface(fd, p.class, p.subClass)
	if err == nil {
		err = claimInterface(fd, iface.number)
	}
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("port: %s: %w", p.path, err)
	}

	p.fd = fd
	p.iface = iface
	p.rx = p.rx[:0]
	p.rxBuf = make([]byte, roundUp(p.Config().ReadFrameSize(), max(iface.maxPacket, 1)))

	return nil
}

func readBulkInterface(fd int, class, subClass byte) (usbInterface, error) {
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return usbInterface{}, fmt.Errorf("read descriptors: %w", err)
	}

	return findBulkInterface(buf[:n], class, subClass)
}

// claimInterface detaches the kernel driver of iface and claims it. Kernels
// without USBDEVFS_DISCONNECT_CLAIM fall back to a plain claim.
func claimInterface(fd int, iface byte) error {
	dc := usbDisconnectClaim{iface: uint32(iface)}
	_, err := usbIoctl(fd, usbdevfsDisconnectClaim, unsafe.Pointer(&dc))
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		n := uint32(iface)
		_, err = usbIoctl(fd, usbdevfsClaimInterface, unsafe.Pointer(&n))
	}
	if err != nil {
		return fmt.Errorf("claim interface %d: %w", iface, err)
	}

	return nil
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

func (p *UsbBulk) close() error {
	if p.fd < 0 {
		return nil
	}

	n := uint32(p.iface.number)
	_, _ = usbIoctl(p.fd, usbdevfsReleaseInterface, unsafe.Pointer(&n))
	err := unix.Close(p.fd)
	p.fd = -1
	p.rx = p.rx[:0]

	return err
}

func (p *UsbBulk) IsConnected() bool {
	p.Lock()
	defer p.Unlock()

	return p.fd >= 0
}

func (p *UsbBulk) SetReadTimeout(d time.Duration)  { p.readTimeout = d }
func (p *UsbBulk) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

func (p *UsbBulk) CancelWait() {
	p.canceled.Store(true)
}

// WaitForReadable runs a bulk IN transfer bounded by the read timeout. The
// received bytes are kept for Read.
func (p *UsbBulk) WaitForReadable() error {
	p.SetReadTimeoutOccurred(false)

	if p.fd < 0 {
		return ErrDisconnected
	}
	if len(p.rx) > 0 {
		return nil
	}
	if p.canceled.Swap(false) {
		return ErrWaitCanceled
	}

	fd, ep, buf := p.fd, p.iface.epIn, p.rxBuf
	p.Unlock()
	n, err := bulkTransfer(fd, ep, buf, p.readTimeout)
	p.Lock()

	switch {
	case errors.Is(err, unix.ETIMEDOUT):
		if p.canceled.Swap(false) {
			return ErrWaitCanceled
		}
		p.SetReadTimeoutOccurred(true)

		return nil
	case err != nil:
		return p.transferError(fd, ep, err)
	}

	p.rx = append(p.rx, buf[:n]...)

	return nil
}

// Read returns the bytes received by the last bulk IN transfer.
func (p *UsbBulk) Read(buf []byte) (int, error) {
	if p.fd < 0 {
		return 0, ErrDisconnected
	}

	n := copy(buf, p.rx)
	p.rx = p.rx[:copy(p.rx, p.rx[n:])]

	return n, nil
}

func (p *UsbBulk) WaitForWritable() error {
	p.SetWriteTimeoutOccurred(false)

	if p.fd < 0 {
		return ErrDisconnected
	}

	return nil
}

// Write sends buf in one bulk OUT transfer bounded by the write timeout. The
// backend lock is released during the transfer.
func (p *UsbBulk) Write(buf []byte) (int, error) {
	if p.fd < 0 {
		return 0, ErrDisconnected
	}

	fd, ep := p.fd, p.iface.epOut
	p.Unlock()
	n, err := bulkTransfer(fd, ep, buf, p.writeTimeout)
	p.Lock()

	switch {
	case errors.Is(err, unix.ETIMEDOUT):
		p.SetWriteTimeoutOccurred(true)
		return 0, nil
	case err != nil:
		return 0, p.transferError(fd, ep, err)
	}

	return n, nil
}

// transferError maps a failed transfer on ep. A stalled endpoint is cleared
// and reported as a timeout.
func (p *UsbBulk) transferError(fd int, ep byte, err error) error {
	switch {
	case errors.Is(err, unix.EPIPE):
		p.Logger().Warn("endpoint stalled, clearing halt", "endpoint", ep)
		n := uint32(ep)
		if _, cerr := usbIoctl(fd, usbdevfsClearHalt, unsafe.Pointer(&n)); cerr != nil {
			return fmt.Errorf("port: clear halt of endpoint %#02x: %w", ep, cerr)
		}
		if ep&epDirIn != 0 {
			p.SetReadTimeoutOccurred(true)
		} else {
			p.SetWriteTimeoutOccurred(true)
		}

		return nil

	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ESHUTDOWN),
		errors.Is(err, unix.EBADF), errors.Is(err, unix.EPROTO), errors.Is(err, unix.ENOENT):
		if fd == p.fd {
			_ = p.close()
		}

		return fmt.Errorf("%w: %w", ErrDisconnected, err)

	default:
		return fmt.Errorf("port: bulk transfer on endpoint %#02x: %w", ep, err)
	}
}
