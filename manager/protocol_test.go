package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/modbus"
	"github.com/scandyna/multidiagtools-sub015/usbtmc"
)

func TestRawProtocol(t *testing.T) {
	require := require.New(t)

	p := newProtocol(frame.TypeASCII, 0, 64)

	f := frame.New(frame.TypeASCII, 64)
	tx := &Transaction{Data: []byte("*IDN?\n")}
	require.NoError(p.encode(tx, f))
	require.Equal(1, tx.ID)
	require.Equal([]byte("*IDN?\n"), f.Bytes())

	f.Clear()
	tx = &Transaction{ID: 42, Data: []byte("x")}
	require.NoError(p.encode(tx, f))

	// replies correlate to the last sent id
	rf := frame.New(frame.TypeASCII, 64)
	rf.PutData([]byte("ACME,1\n"))
	require.True(rf.IsComplete())
	in, err := p.decode(rf)
	require.NoError(err)
	require.Equal(42, in.id)
	require.Equal([]byte("ACME,1"), in.payload)

	f.Clear()
	require.ErrorIs(p.encode(&Transaction{ID: DefaultTransactionIDLimit + 1}, f), ErrInvalidID)

	small := frame.New(frame.TypeRaw, 4)
	require.ErrorIs(p.encode(&Transaction{Data: []byte("too long")}, small), ErrPayloadTooLarge)
}

func TestModbusTCPProtocol(t *testing.T) {
	require := require.New(t)

	p := newProtocol(frame.TypeModbusTCP, 3, modbus.MaxADULen)

	f := frame.New(frame.TypeModbusTCP, modbus.MaxADULen)
	tx := &Transaction{Data: []byte{0x01, 0x00, 0x00, 0x00, 0x08}, UnitID: 0x11}
	require.NoError(p.encode(tx, f))
	require.Equal(1, tx.ID)
	require.Equal([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x01, 0x00, 0x00, 0x00, 0x08}, f.Bytes())

	// the transaction id limit of raw frames does not apply
	f.Clear()
	require.NoError(p.encode(&Transaction{ID: 0x1234, Data: []byte{0x03}}, f))

	rf := frame.New(frame.TypeModbusTCP, modbus.MaxADULen)
	rf.PutData(modbus.EncodeADU(0x1234, 0x11, []byte{0x01, 0x01, 0xFF}))
	require.True(rf.IsComplete())
	in, err := p.decode(rf)
	require.NoError(err)
	require.Equal(0x1234, in.id)
	require.Equal(byte(0x11), in.unitID)
	require.Equal([]byte{0x01, 0x01, 0xFF}, in.payload)

	f.Clear()
	require.ErrorIs(p.encode(&Transaction{Data: make([]byte, modbus.MaxPDULen+1)}, f), ErrPayloadTooLarge)
	require.ErrorIs(p.encode(&Transaction{ID: 0x10000}, f), ErrInvalidID)
}

func TestUsbtmcProtocol(t *testing.T) {
	require := require.New(t)

	p := newProtocol(frame.TypeUsbtmc, 0, 64)

	f := frame.New(frame.TypeUsbtmc, 64)
	tx := &Transaction{Data: []byte("*IDN?\n")}
	require.NoError(p.encode(tx, f))
	require.Equal(1, tx.ID)

	hdr, payload, err := usbtmc.Decode(f.Bytes())
	require.NoError(err)
	require.Equal(usbtmc.MsgDevDepMsgOut, hdr.MsgID)
	require.True(hdr.EOM)
	require.Equal([]byte("*IDN?\n"), payload)
	require.Zero(f.Len() % 4)

	// transfer size is bounded by the read frame
	f.Clear()
	tx = &Transaction{MsgID: usbtmc.MsgRequestDevDepMsgIn, TransferSize: 1000}
	require.NoError(p.encode(tx, f))
	require.Equal(2, tx.ID)
	hdr, err = usbtmc.DecodeHeader(f.Bytes())
	require.NoError(err)
	require.Equal(uint32(52), hdr.TransferSize)
	require.False(hdr.EOM)

	f.Clear()
	require.NoError(p.encode(&Transaction{MsgID: usbtmc.MsgRequestDevDepMsgIn, TransferSize: 16}, f))
	hdr, err = usbtmc.DecodeHeader(f.Bytes())
	require.NoError(err)
	require.Equal(uint32(16), hdr.TransferSize)

	f.Clear()
	require.ErrorIs(p.encode(&Transaction{ID: 256}, f), ErrInvalidID)

	rf := frame.New(frame.TypeUsbtmc, 64)
	rf.PutData(usbtmc.Header{MsgID: usbtmc.MsgDevDepMsgIn, BTag: 2, EOM: true}.Encode([]byte("ACME\n")))
	require.True(rf.IsComplete())
	in, err := p.decode(rf)
	require.NoError(err)
	require.Equal(2, in.id)
	require.Equal(usbtmc.MsgDevDepMsgIn, in.msgID)
	require.Equal([]byte("ACME\n"), in.payload)
}

func TestUsbtmcProtocol_TagWraps(t *testing.T) {
	p := &usbtmcProtocol{maxTransfer: 52}
	p.tag.Store(254)

	require.Equal(t, byte(255), p.nextTag())
	require.Equal(t, byte(1), p.nextTag())
}
