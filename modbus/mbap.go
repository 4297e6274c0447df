package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MBAPLen is the size of the MODBUS application protocol header.
const MBAPLen = 7

// MaxADULen is the largest MODBUS/TCP application data unit.
const MaxADULen = MBAPLen + MaxPDULen

var (
	ErrShortADU   = errors.New("modbus: ADU shorter than MBAP header")
	ErrProtocolID = errors.New("modbus: MBAP protocol id is not MODBUS")
)

// MBAP is the MODBUS/TCP application protocol header.
type MBAP struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
}

// EncodeADU prefixes pdu with a MBAP header. The protocol id is always 0 and the
// length is computed from pdu.
func EncodeADU(transactionID uint16, unitID byte, pdu []byte) []byte {
	adu := make([]byte, MBAPLen, MBAPLen+len(pdu))
	binary.BigEndian.PutUint16(adu[0:], transactionID)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+len(pdu)))
	adu[6] = unitID

	return append(adu, pdu...)
}

// DecodeADU splits an ADU into its header and PDU.
func DecodeADU(adu []byte) (MBAP, []byte, error) {
	if len(adu) < MBAPLen {
		return MBAP{}, nil, ErrShortADU
	}

	h := MBAP{
		TransactionID: binary.BigEndian.Uint16(adu[0:]),
		ProtocolID:    binary.BigEndian.Uint16(adu[2:]),
		Length:        binary.BigEndian.Uint16(adu[4:]),
		UnitID:        adu[6],
	}
	if h.ProtocolID != 0 {
		return h, nil, fmt.Errorf("%w: %d", ErrProtocolID, h.ProtocolID)
	}
	if int(h.Length) != len(adu)-MBAPLen+1 {
		return h, nil, fmt.Errorf("%w: MBAP length %d, %d bytes follow", ErrLengthMismatch, h.Length, len(adu)-MBAPLen+1)
	}

	return h, adu[MBAPLen:], nil
}
