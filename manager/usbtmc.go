package manager

import (
	"context"
	"time"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/port"
	"github.com/scandyna/multidiagtools-sub015/usbtmc"
)

// UsbtmcManager is a Manager speaking USBTMC over a bulk pipe.
type UsbtmcManager struct {
	*Manager
}

// NewUsbtmc creates a manager for the USBTMC interface of the usbfs device
// node at path, such as /dev/bus/usb/001/004. cfg may be nil; the frame type
// is forced to USBTMC.
//
// Instruments bound to the usbtmc kernel driver (/dev/usbtmcN) are reached
// with New over a port.DeviceFile and ASCII framing instead: the driver
// handles the bulk headers.
func NewUsbtmc(path string, cfg *port.Config, opts ...Option) (*UsbtmcManager, error) {
	return NewUsbtmcWithBackend(port.NewUsbBulk(path, usbtmc.InterfaceClass, usbtmc.InterfaceSubClass), cfg, opts...)
}

// NewUsbtmcWithBackend creates a USBTMC manager over an existing backend.
func NewUsbtmcWithBackend(b port.Backend, cfg *port.Config, opts ...Option) (*UsbtmcManager, error) {
	var (
		ucfg *port.Config
		err  error
	)
	if cfg == nil {
		ucfg, err = port.NewConfig(port.WithFrameType(frame.TypeUsbtmc))
	} else {
		ucfg, err = cfg.Clone(port.WithFrameType(frame.TypeUsbtmc))
	}
	if err != nil {
		return nil, err
	}

	m, err := New(b, ucfg, opts...)
	if err != nil {
		return nil, err
	}

	return &UsbtmcManager{Manager: m}, nil
}

// Write sends a DEV_DEP_MSG_OUT message. No reply is expected.
func (m *UsbtmcManager) Write(ctx context.Context, data []byte) error {
	tx := m.NewTransaction()
	tx.Data = append(tx.Data, data...)
	tx.MsgID = usbtmc.MsgDevDepMsgOut
	tx.NoReply = true

	if _, err := m.SendData(ctx, tx); err != nil {
		m.RestoreTransaction(tx)
		return err
	}

	return nil
}

// Read sends a REQUEST_DEV_DEP_MSG_IN and returns the device reply.
// A zero maxSize requests as much as a read frame holds.
func (m *UsbtmcManager) Read(ctx context.Context, maxSize uint32, timeout time.Duration) ([]byte, error) {
	tx := m.NewTransaction()
	tx.MsgID = usbtmc.MsgRequestDevDepMsgIn
	tx.TransferSize = maxSize
	tx.QueryReply = true

	return m.query(ctx, tx, timeout)
}

// Query writes cmd and reads the reply.
func (m *UsbtmcManager) Query(ctx context.Context, cmd []byte, timeout time.Duration) ([]byte, error) {
	if err := m.Write(ctx, cmd); err != nil {
		return nil, err
	}

	return m.Read(ctx, 0, timeout)
}
