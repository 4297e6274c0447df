// Package usbtmc encodes and decodes USBTMC bulk transfer headers.
package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the size of a bulk transfer header.
const HeaderLen = 12

// Class and subclass of a USBTMC interface descriptor.
const (
	InterfaceClass    byte = 0xFE
	InterfaceSubClass byte = 0x03
)

// Message ids of the bulk header. Bulk-OUT requests and the matching bulk-IN
// replies share the same id.
const (
	MsgDevDepMsgOut        byte = 1
	MsgRequestDevDepMsgIn  byte = 2
	MsgDevDepMsgIn         byte = 2
	MsgVendorSpecificOut   byte = 126
	MsgRequestVendorSpecIn byte = 127
	MsgVendorSpecificIn    byte = 127
)

const (
	attrEOM             byte = 0x01
	attrTermCharEnabled byte = 0x02
)

var (
	ErrShortHeader   = errors.New("usbtmc: header shorter than 12 bytes")
	ErrBadTagInverse = errors.New("usbtmc: bTagInverse is not the complement of bTag")
	ErrBadTag        = errors.New("usbtmc: bTag 0 is reserved")
	ErrShortPayload  = errors.New("usbtmc: payload shorter than transfer size")
)

// Header is a USBTMC bulk transfer header.
//
// For DEV_DEP_MSG_OUT, TransferSize is the payload size and EOM marks the last
// transfer of a message. For REQUEST_DEV_DEP_MSG_IN, TransferSize is the maximum
// size the device may return and TermChar is honored when TermCharEnabled is set.
type Header struct {
	MsgID           byte
	BTag            byte
	TransferSize    uint32
	EOM             bool
	TermCharEnabled bool
	TermChar        byte
}

// Encode returns the header followed by payload, padded with zeros to a 4 byte
// boundary. TransferSize is set from payload for message ids that carry data.
func (h Header) Encode(payload []byte) []byte {
	if h.BTag == 0 {
		h.BTag = 1
	}
	if len(payload) > 0 || h.MsgID == MsgDevDepMsgOut || h.MsgID == MsgVendorSpecificOut {
		h.TransferSize = uint32(len(payload))
	}

	size := HeaderLen + len(payload)
	size += (4 - size%4) % 4
	b := make([]byte, size)
	b[0] = h.MsgID
	b[1] = h.BTag
	b[2] = ^h.BTag
	binary.LittleEndian.PutUint32(b[4:], h.TransferSize)

	if h.EOM {
		b[8] |= attrEOM
	}
	if h.TermCharEnabled {
		b[8] |= attrTermCharEnabled
		b[9] = h.TermChar
	}
	copy(b[HeaderLen:], payload)

	return b
}

// DecodeHeader decodes the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}

	h := Header{
		MsgID:        b[0],
		BTag:         b[1],
		TransferSize: binary.LittleEndian.Uint32(b[4:]),
	}
	if b[2] != ^b[1] {
		return h, fmt.Errorf("%w: bTag 0x%02X, bTagInverse 0x%02X", ErrBadTagInverse, b[1], b[2])
	}
	if h.BTag == 0 {
		return h, ErrBadTag
	}

	h.EOM = b[8]&attrEOM != 0
	h.TermCharEnabled = b[8]&attrTermCharEnabled != 0
	if h.TermCharEnabled {
		h.TermChar = b[9]
	}

	return h, nil
}

// Decode decodes a complete bulk-IN message and returns its header and payload.
// Alignment bytes after the payload are ignored.
func Decode(b []byte) (Header, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return h, nil, err
	}
	if uint64(len(b)-HeaderLen) < uint64(h.TransferSize) {
		return h, nil, fmt.Errorf("%w: %d bytes, transfer size %d", ErrShortPayload, len(b)-HeaderLen, h.TransferSize)
	}

	return h, b[HeaderLen : HeaderLen+int(h.TransferSize)], nil
}

// NextTag returns the bTag following tag. Tags run from 1 to 255, 0 is skipped.
func NextTag(tag byte) byte {
	tag++
	if tag == 0 {
		tag = 1
	}

	return tag
}
