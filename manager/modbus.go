package manager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/modbus"
	"github.com/scandyna/multidiagtools-sub015/port"
)

// MODBUS/TCP defaults.
const (
	DefaultModbusTCPPort = 502
	// ModbusTCPWriteQueueSize is the write queue size of a MODBUS/TCP
	// manager. Servers handle few requests in parallel.
	ModbusTCPWriteQueueSize = 3
)

// ModbusTCPManager is a Manager speaking MODBUS/TCP, with helpers for the
// common functions.
type ModbusTCPManager struct {
	*Manager

	unitID  atomic.Uint32
	timeout time.Duration
}

// NewModbusTCP creates a manager for the MODBUS/TCP server at host:portNum.
// A zero portNum selects port 502. cfg may be nil; the frame type, frame
// sizes and write queue size are forced to MODBUS/TCP values.
func NewModbusTCP(host string, portNum int, cfg *port.Config, opts ...Option) (*ModbusTCPManager, error) {
	if portNum == 0 {
		portNum = DefaultModbusTCPPort
	}

	b, err := port.NewTCPPort(net.JoinHostPort(host, strconv.Itoa(portNum)))
	if err != nil {
		return nil, err
	}

	return NewModbusTCPWithBackend(b, cfg, opts...)
}

// NewModbusTCPWithBackend creates a MODBUS/TCP manager over an existing backend.
func NewModbusTCPWithBackend(b port.Backend, cfg *port.Config, opts ...Option) (*ModbusTCPManager, error) {
	mcfg, err := modbusConfig(cfg)
	if err != nil {
		return nil, err
	}

	m, err := New(b, mcfg, opts...)
	if err != nil {
		return nil, err
	}

	return &ModbusTCPManager{Manager: m}, nil
}

func modbusConfig(cfg *port.Config) (*port.Config, error) {
	opts := []port.Option{
		port.WithFrameType(frame.TypeModbusTCP),
		port.WithFrameSize(modbus.MaxADULen),
		port.WithWriteQueueSize(ModbusTCPWriteQueueSize),
	}
	if cfg == nil {
		return port.NewConfig(opts...)
	}

	return cfg.Clone(opts...)
}

// SetUnitID sets the unit identifier of the following requests.
func (m *ModbusTCPManager) SetUnitID(id byte) { m.unitID.Store(uint32(id)) }

// UnitID returns the unit identifier of the requests.
func (m *ModbusTCPManager) UnitID() byte { return byte(m.unitID.Load()) }

// SetTimeout sets the reply timeout of the helpers. Zero selects the read
// timeout plus the reply grace time.
func (m *ModbusTCPManager) SetTimeout(d time.Duration) { m.timeout = d }

// Request sends pdu and returns the decoded reply. A server exception is
// returned as a *modbus.ExceptionError.
func (m *ModbusTCPManager) Request(ctx context.Context, pdu []byte) (*modbus.Reply, error) {
	if len(pdu) == 0 {
		return nil, modbus.ErrEmptyPDU
	}

	tx := m.NewTransaction()
	tx.Data = append(tx.Data, pdu...)
	tx.UnitID = m.UnitID()
	tx.QueryReply = true

	data, err := m.query(ctx, tx, m.timeout)
	if err != nil {
		return nil, err
	}

	reply, err := modbus.Decode(data)
	if err != nil {
		return nil, err
	}
	if reply.Function != pdu[0] {
		return nil, fmt.Errorf("%w: reply function 0x%02X to request 0x%02X", modbus.ErrUnknownFunction, reply.Function, pdu[0])
	}

	return reply, nil
}

func (m *ModbusTCPManager) readBits(ctx context.Context, pdu []byte, err error, n int) ([]bool, error) {
	if err != nil {
		return nil, err
	}

	reply, err := m.Request(ctx, pdu)
	if err != nil {
		return nil, err
	}
	if len(reply.Bits) < n {
		return nil, fmt.Errorf("%w: %d bits for %d requested", modbus.ErrLengthMismatch, len(reply.Bits), n)
	}

	return reply.Bits[:n], nil
}

func (m *ModbusTCPManager) readRegisters(ctx context.Context, pdu []byte, err error, n int) ([]uint16, error) {
	if err != nil {
		return nil, err
	}

	reply, err := m.Request(ctx, pdu)
	if err != nil {
		return nil, err
	}
	if len(reply.Values) != n {
		return nil, fmt.Errorf("%w: %d registers for %d requested", modbus.ErrLengthMismatch, len(reply.Values), n)
	}

	return reply.Values, nil
}

// ReadCoils reads n coils from start.
func (m *ModbusTCPManager) ReadCoils(ctx context.Context, start uint16, n int) ([]bool, error) {
	pdu, err := modbus.EncodeReadCoils(start, n)
	return m.readBits(ctx, pdu, err, n)
}

// ReadDiscreteInputs reads n discrete inputs from start.
func (m *ModbusTCPManager) ReadDiscreteInputs(ctx context.Context, start uint16, n int) ([]bool, error) {
	pdu, err := modbus.EncodeReadDiscreteInputs(start, n)
	return m.readBits(ctx, pdu, err, n)
}

// ReadHoldingRegisters reads n holding registers from start.
func (m *ModbusTCPManager) ReadHoldingRegisters(ctx context.Context, start uint16, n int) ([]uint16, error) {
	pdu, err := modbus.EncodeReadHoldingRegisters(start, n)
	return m.readRegisters(ctx, pdu, err, n)
}

// ReadInputRegisters reads n input registers from start.
func (m *ModbusTCPManager) ReadInputRegisters(ctx context.Context, start uint16, n int) ([]uint16, error) {
	pdu, err := modbus.EncodeReadInputRegisters(start, n)
	return m.readRegisters(ctx, pdu, err, n)
}

// WriteSingleCoil sets the coil at address.
func (m *ModbusTCPManager) WriteSingleCoil(ctx context.Context, address uint16, on bool) error {
	_, err := m.Request(ctx, modbus.EncodeWriteSingleCoil(address, on))
	return err
}

// WriteSingleRegister writes value to the holding register at address.
func (m *ModbusTCPManager) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	_, err := m.Request(ctx, modbus.EncodeWriteSingleRegister(address, value))
	return err
}

// WriteMultipleCoils writes coils from start.
func (m *ModbusTCPManager) WriteMultipleCoils(ctx context.Context, start uint16, coils []bool) error {
	pdu, err := modbus.EncodeWriteMultipleCoils(start, coils)
	if err != nil {
		return err
	}
	_, err = m.Request(ctx, pdu)

	return err
}

// WriteMultipleRegisters writes values from start.
func (m *ModbusTCPManager) WriteMultipleRegisters(ctx context.Context, start uint16, values []uint16) error {
	pdu, err := modbus.EncodeWriteMultipleRegisters(start, values)
	if err != nil {
		return err
	}
	_, err = m.Request(ctx, pdu)

	return err
}
