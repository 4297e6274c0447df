package manager

import (
	"fmt"
	"sync/atomic"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/modbus"
	"github.com/scandyna/multidiagtools-sub015/usbtmc"
)

// inbound is a decoded received frame.
type inbound struct {
	id      int
	unitID  byte
	msgID   byte
	payload []byte
}

// protocol encodes requests into write frames and extracts the correlation id
// of received frames.
type protocol interface {
	// encode assigns tx.ID when zero and stores the request in f.
	encode(tx *Transaction, f *frame.Frame) error
	// decode decodes a completed read frame. The payload is a copy.
	decode(f *frame.Frame) (inbound, error)
}

// newProtocol returns the protocol of frame type typ. readFrameSize bounds
// the replies requested from USBTMC devices.
func newProtocol(typ frame.Type, idLimit uint32, readFrameSize int) protocol {
	switch typ {
	case frame.TypeModbusTCP:
		return &modbusTCPProtocol{ids: newIDGenerator(0xFFFF)}
	case frame.TypeUsbtmc:
		return &usbtmcProtocol{maxTransfer: uint32(max(readFrameSize-usbtmc.HeaderLen, 0)) &^ 3}
	default:
		return &rawProtocol{ids: newIDGenerator(idLimit)}
	}
}

func storeRequest(f *frame.Frame, data []byte) error {
	if n := f.Append(data); n < len(data) {
		return fmt.Errorf("%w: %d bytes, frame capacity %d", ErrPayloadTooLarge, len(data), f.Capacity())
	}

	return nil
}

// rawProtocol sends payloads as is. Frames carry no id: a received frame is
// the reply of the last transaction sent.
type rawProtocol struct {
	ids *idGenerator
}

func (p *rawProtocol) encode(tx *Transaction, f *frame.Frame) error {
	if tx.ID == 0 {
		tx.ID = p.ids.next()
	} else {
		if !p.ids.validID(tx.ID) {
			return fmt.Errorf("%w: %d", ErrInvalidID, tx.ID)
		}
		p.ids.use(tx.ID)
	}

	return storeRequest(f, tx.Data)
}

func (p *rawProtocol) decode(f *frame.Frame) (inbound, error) {
	return inbound{
		id:      p.ids.current(),
		payload: append([]byte(nil), f.Bytes()...),
	}, nil
}

// modbusTCPProtocol wraps PDUs in an MBAP header and correlates replies with
// the MBAP transaction id.
type modbusTCPProtocol struct {
	ids *idGenerator
}

func (p *modbusTCPProtocol) encode(tx *Transaction, f *frame.Frame) error {
	if tx.ID == 0 {
		tx.ID = p.ids.next()
	} else if !p.ids.validID(tx.ID) {
		return fmt.Errorf("%w: %d", ErrInvalidID, tx.ID)
	}
	if len(tx.Data) > modbus.MaxPDULen {
		return fmt.Errorf("%w: PDU of %d bytes", ErrPayloadTooLarge, len(tx.Data))
	}

	return storeRequest(f, modbus.EncodeADU(uint16(tx.ID), tx.UnitID, tx.Data))
}

func (p *modbusTCPProtocol) decode(f *frame.Frame) (inbound, error) {
	hdr, pdu, err := modbus.DecodeADU(f.Bytes())
	if err != nil {
		return inbound{}, err
	}

	return inbound{
		id:      int(hdr.TransactionID),
		unitID:  hdr.UnitID,
		payload: append([]byte(nil), pdu...),
	}, nil
}

// usbtmcProtocol prefixes payloads with a bulk header and correlates replies
// with the bTag.
type usbtmcProtocol struct {
	tag         atomic.Uint32
	maxTransfer uint32
}

func (p *usbtmcProtocol) nextTag() byte {
	for {
		cur := p.tag.Load()
		next := usbtmc.NextTag(byte(cur))
		if p.tag.CompareAndSwap(cur, uint32(next)) {
			return next
		}
	}
}

func (p *usbtmcProtocol) encode(tx *Transaction, f *frame.Frame) error {
	if tx.ID == 0 {
		tx.ID = int(p.nextTag())
	} else if tx.ID < 1 || tx.ID > 0xFF {
		return fmt.Errorf("%w: bTag %d", ErrInvalidID, tx.ID)
	}

	h := usbtmc.Header{
		MsgID: tx.MsgID,
		BTag:  byte(tx.ID),
	}
	if h.MsgID == 0 {
		h.MsgID = usbtmc.MsgDevDepMsgOut
	}
	switch h.MsgID {
	case usbtmc.MsgDevDepMsgOut:
		h.EOM = true
	case usbtmc.MsgRequestDevDepMsgIn:
		h.TransferSize = tx.TransferSize
		if h.TransferSize == 0 || h.TransferSize > p.maxTransfer {
			h.TransferSize = p.maxTransfer
		}
	}

	return storeRequest(f, h.Encode(tx.Data))
}

func (p *usbtmcProtocol) decode(f *frame.Frame) (inbound, error) {
	hdr, payload, err := usbtmc.Decode(f.Bytes())
	if err != nil {
		return inbound{}, err
	}

	return inbound{
		id:      int(hdr.BTag),
		msgID:   hdr.MsgID,
		payload: append([]byte(nil), payload...),
	}, nil
}
