// Package modbus encodes MODBUS requests, decodes server replies and wraps PDUs
// into MODBUS/TCP application data units.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Function codes supported by the codec.
const (
	FuncReadCoils              byte = 0x01
	FuncReadDiscreteInputs     byte = 0x02
	FuncReadHoldingRegisters   byte = 0x03
	FuncReadInputRegisters     byte = 0x04
	FuncWriteSingleCoil        byte = 0x05
	FuncWriteSingleRegister    byte = 0x06
	FuncWriteMultipleCoils     byte = 0x0F
	FuncWriteMultipleRegisters byte = 0x10

	exceptionBit byte = 0x80
)

// MaxPDULen is the largest PDU allowed on the wire.
const MaxPDULen = 253

var (
	ErrEmptyPDU           = errors.New("modbus: empty PDU")
	ErrLengthMismatch     = errors.New("modbus: PDU length does not match its byte count")
	ErrUnknownFunction    = errors.New("modbus: unknown function code")
	ErrQuantityOutOfRange = errors.New("modbus: quantity out of range")
)

// Reply is a decoded server reply.
//
// Read functions fill Bits (coils, discrete inputs) or Values (registers).
// Write functions echo the start Address and either the written Value or the
// written Quantity.
type Reply struct {
	Function byte
	Address  uint16
	Quantity uint16
	Values   []uint16
	Bits     []bool
}

func checkQuantity(fc byte, n, lo, hi int) error {
	if n < lo || n > hi {
		return fmt.Errorf("%w: function 0x%02X, quantity %d not in [%d, %d]", ErrQuantityOutOfRange, fc, n, lo, hi)
	}

	return nil
}

func encodeRead(fc byte, start uint16, n, hi int) ([]byte, error) {
	if err := checkQuantity(fc, n, 1, hi); err != nil {
		return nil, err
	}

	pdu := make([]byte, 5)
	pdu[0] = fc
	binary.BigEndian.PutUint16(pdu[1:], start)
	binary.BigEndian.PutUint16(pdu[3:], uint16(n))

	return pdu, nil
}

// EncodeReadCoils encodes a read coils request for n coils (1..2000).
func EncodeReadCoils(start uint16, n int) ([]byte, error) {
	return encodeRead(FuncReadCoils, start, n, 2000)
}

// EncodeReadDiscreteInputs encodes a read discrete inputs request for n inputs (1..2000).
func EncodeReadDiscreteInputs(start uint16, n int) ([]byte, error) {
	return encodeRead(FuncReadDiscreteInputs, start, n, 2000)
}

// EncodeReadHoldingRegisters encodes a read holding registers request for n registers (1..125).
func EncodeReadHoldingRegisters(start uint16, n int) ([]byte, error) {
	return encodeRead(FuncReadHoldingRegisters, start, n, 125)
}

// EncodeReadInputRegisters encodes a read input registers request for n registers (1..125).
func EncodeReadInputRegisters(start uint16, n int) ([]byte, error) {
	return encodeRead(FuncReadInputRegisters, start, n, 125)
}

// EncodeWriteSingleCoil encodes a write single coil request.
func EncodeWriteSingleCoil(address uint16, on bool) []byte {
	pdu := []byte{FuncWriteSingleCoil, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(pdu[1:], address)
	if on {
		pdu[3] = 0xFF
	}

	return pdu
}

// EncodeWriteSingleRegister encodes a write single register request.
func EncodeWriteSingleRegister(address, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(pdu[1:], address)
	binary.BigEndian.PutUint16(pdu[3:], value)

	return pdu
}

// EncodeWriteMultipleCoils encodes a write multiple coils request (1..1968 coils).
// Coils are packed LSB first.
func EncodeWriteMultipleCoils(start uint16, coils []bool) ([]byte, error) {
	if err := checkQuantity(FuncWriteMultipleCoils, len(coils), 1, 1968); err != nil {
		return nil, err
	}

	byteCount := (len(coils) + 7) / 8
	pdu := make([]byte, 6+byteCount)
	pdu[0] = FuncWriteMultipleCoils
	binary.BigEndian.PutUint16(pdu[1:], start)
	binary.BigEndian.PutUint16(pdu[3:], uint16(len(coils)))
	pdu[5] = byte(byteCount)
	for i, on := range coils {
		if on {
			pdu[6+i/8] |= 1 << (i % 8)
		}
	}

	return pdu, nil
}

// EncodeWriteMultipleRegisters encodes a write multiple registers request (1..123 registers).
func EncodeWriteMultipleRegisters(start uint16, values []uint16) ([]byte, error) {
	if err := checkQuantity(FuncWriteMultipleRegisters, len(values), 1, 123); err != nil {
		return nil, err
	}

	pdu := make([]byte, 6+2*len(values))
	pdu[0] = FuncWriteMultipleRegisters
	binary.BigEndian.PutUint16(pdu[1:], start)
	binary.BigEndian.PutUint16(pdu[3:], uint16(len(values)))
	pdu[5] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+2*i:], v)
	}

	return pdu, nil
}

// Decode decodes a reply PDU.
//
// An exception reply returns a *ExceptionError. Bit replies return every bit of
// the received bytes, LSB first; callers trim to the requested quantity.
func Decode(pdu []byte) (*Reply, error) {
	if len(pdu) == 0 {
		return nil, ErrEmptyPDU
	}

	fc := pdu[0]
	if fc&exceptionBit != 0 {
		if len(pdu) != 2 {
			return nil, fmt.Errorf("%w: exception PDU of %d bytes", ErrLengthMismatch, len(pdu))
		}

		return nil, &ExceptionError{Function: fc &^ exceptionBit, Code: exceptionFromByte(pdu[1])}
	}

	reply := &Reply{Function: fc}
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		data, err := byteCountData(pdu)
		if err != nil {
			return nil, err
		}
		reply.Bits = make([]bool, 0, 8*len(data))
		for _, b := range data {
			for bit := 0; bit < 8; bit++ {
				reply.Bits = append(reply.Bits, b&(1<<bit) != 0)
			}
		}

	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		data, err := byteCountData(pdu)
		if err != nil {
			return nil, err
		}
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%w: odd register byte count %d", ErrLengthMismatch, len(data))
		}
		reply.Values = make([]uint16, len(data)/2)
		for i := range reply.Values {
			reply.Values[i] = binary.BigEndian.Uint16(data[2*i:])
		}

	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		if len(pdu) != 5 {
			return nil, fmt.Errorf("%w: function 0x%02X, %d bytes", ErrLengthMismatch, fc, len(pdu))
		}
		reply.Address = binary.BigEndian.Uint16(pdu[1:])
		value := binary.BigEndian.Uint16(pdu[3:])
		reply.Values = []uint16{value}
		if fc == FuncWriteSingleCoil {
			reply.Bits = []bool{value == 0xFF00}
		}

	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		if len(pdu) != 5 {
			return nil, fmt.Errorf("%w: function 0x%02X, %d bytes", ErrLengthMismatch, fc, len(pdu))
		}
		reply.Address = binary.BigEndian.Uint16(pdu[1:])
		reply.Quantity = binary.BigEndian.Uint16(pdu[3:])

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownFunction, fc)
	}

	return reply, nil
}

func byteCountData(pdu []byte) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: function 0x%02X without byte count", ErrLengthMismatch, pdu[0])
	}
	if int(pdu[1]) != len(pdu)-2 {
		return nil, fmt.Errorf("%w: byte count %d, %d data bytes", ErrLengthMismatch, pdu[1], len(pdu)-2)
	}

	return pdu[2:], nil
}
