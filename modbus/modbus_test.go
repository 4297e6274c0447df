package modbus

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	require := require.New(t)

	pdu, err := EncodeReadCoils(0, 8)
	require.NoError(err)
	require.Equal([]byte{0x01, 0x00, 0x00, 0x00, 0x08}, pdu)

	pdu, err = EncodeReadHoldingRegisters(0x006B, 3)
	require.NoError(err)
	require.Equal([]byte{0x03, 0x00, 0x6B, 0x00, 0x03}, pdu)

	require.Equal([]byte{0x05, 0x00, 0xAC, 0xFF, 0x00}, EncodeWriteSingleCoil(0xAC, true))
	require.Equal([]byte{0x05, 0x00, 0xAC, 0x00, 0x00}, EncodeWriteSingleCoil(0xAC, false))
	require.Equal([]byte{0x06, 0x00, 0x01, 0x00, 0x03}, EncodeWriteSingleRegister(1, 3))

	pdu, err = EncodeWriteMultipleCoils(0x13, []bool{true, false, true, true, false, false, true, true, true, false})
	require.NoError(err)
	require.Equal([]byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}, pdu)

	pdu, err = EncodeWriteMultipleRegisters(1, []uint16{0x000A, 0x0102})
	require.NoError(err)
	require.Equal([]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}, pdu)
}

func TestEncode_QuantityRange(t *testing.T) {
	tests := []struct {
		name string
		fn   func(n int) error
		max  int
	}{
		{"read coils", func(n int) error { _, err := EncodeReadCoils(0, n); return err }, 2000},
		{"read discrete inputs", func(n int) error { _, err := EncodeReadDiscreteInputs(0, n); return err }, 2000},
		{"read holding registers", func(n int) error { _, err := EncodeReadHoldingRegisters(0, n); return err }, 125},
		{"read input registers", func(n int) error { _, err := EncodeReadInputRegisters(0, n); return err }, 125},
		{"write multiple coils", func(n int) error { _, err := EncodeWriteMultipleCoils(0, make([]bool, n)); return err }, 1968},
		{"write multiple registers", func(n int) error { _, err := EncodeWriteMultipleRegisters(0, make([]uint16, n)); return err }, 123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			require.ErrorIs(tt.fn(0), ErrQuantityOutOfRange)
			require.NoError(tt.fn(1))
			require.NoError(tt.fn(tt.max))
			require.ErrorIs(tt.fn(tt.max+1), ErrQuantityOutOfRange)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("read coils", func(t *testing.T) {
		require := require.New(t)

		reply, err := Decode([]byte{0x01, 0x01, 0xFF})
		require.NoError(err)
		require.Equal(FuncReadCoils, reply.Function)
		require.Equal([]bool{true, true, true, true, true, true, true, true}, reply.Bits)
	})

	t.Run("read discrete inputs LSB first", func(t *testing.T) {
		require := require.New(t)

		reply, err := Decode([]byte{0x02, 0x01, 0x05})
		require.NoError(err)
		require.Equal([]bool{true, false, true, false, false, false, false, false}, reply.Bits)
	})

	t.Run("read registers", func(t *testing.T) {
		require := require.New(t)

		reply, err := Decode([]byte{0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64})
		require.NoError(err)
		require.Equal([]uint16{0x022B, 0, 0x64}, reply.Values)
	})

	t.Run("write echoes", func(t *testing.T) {
		require := require.New(t)

		reply, err := Decode(EncodeWriteSingleCoil(0xAC, true))
		require.NoError(err)
		require.Equal(uint16(0xAC), reply.Address)
		require.Equal([]bool{true}, reply.Bits)

		reply, err = Decode([]byte{0x10, 0x00, 0x01, 0x00, 0x02})
		require.NoError(err)
		require.Equal(uint16(1), reply.Address)
		require.Equal(uint16(2), reply.Quantity)
	})

	t.Run("exception", func(t *testing.T) {
		require := require.New(t)

		_, err := Decode([]byte{0x83, 0x02})
		var exc *ExceptionError
		require.ErrorAs(err, &exc)
		require.Equal(FuncReadHoldingRegisters, exc.Function)
		require.Equal(IllegalDataAddress, exc.Code)
		require.Contains(exc.Error(), "illegal data address")
	})

	t.Run("exception code mapping", func(t *testing.T) {
		require := require.New(t)

		expected := map[byte]ExceptionCode{
			0x01: IllegalFunction,
			0x04: ServerDeviceFailure,
			0x08: MemoryParityError,
			0x09: UnknownError,
			0x0A: GatewayPathUnavailable,
			0x0B: GatewayTargetResponse,
			0x0C: UnknownError,
			0x1B: GatewayTargetResponse,
		}
		for b, code := range expected {
			require.Equal(code, exceptionFromByte(b), "byte 0x%02X", b)
		}
	})

	t.Run("errors", func(t *testing.T) {
		require := require.New(t)

		_, err := Decode(nil)
		require.ErrorIs(err, ErrEmptyPDU)
		_, err = Decode([]byte{0x03, 0x04, 0x00})
		require.ErrorIs(err, ErrLengthMismatch)
		_, err = Decode([]byte{0x03, 0x03, 0x00, 0x01, 0x02})
		require.ErrorIs(err, ErrLengthMismatch)
		_, err = Decode([]byte{0x01})
		require.ErrorIs(err, ErrLengthMismatch)
		_, err = Decode([]byte{0x2B, 0x0E})
		require.ErrorIs(err, ErrUnknownFunction)
	})
}

func TestADU(t *testing.T) {
	require := require.New(t)

	pdu, err := EncodeReadCoils(0, 8)
	require.NoError(err)

	adu := EncodeADU(0x1234, 0x11, pdu)
	require.Equal([]byte{0x12, 0x34, 0x00, 0x00, 0x00, 0x06, 0x11, 0x01, 0x00, 0x00, 0x00, 0x08}, adu)

	h, got, err := DecodeADU(adu)
	require.NoError(err)
	require.Equal(MBAP{TransactionID: 0x1234, Length: 6, UnitID: 0x11}, h)
	require.Equal(pdu, got)

	_, _, err = DecodeADU(adu[:5])
	require.ErrorIs(err, ErrShortADU)

	bad := append([]byte(nil), adu...)
	bad[3] = 1
	_, _, err = DecodeADU(bad)
	require.ErrorIs(err, ErrProtocolID)

	_, _, err = DecodeADU(adu[:len(adu)-1])
	require.ErrorIs(err, ErrLengthMismatch)
}

func FuzzADU_RoundTrip(f *testing.F) {
	f.Add(uint16(1), byte(1), []byte{0x01, 0x01, 0xFF})
	f.Add(uint16(0xFFFF), byte(0xFF), []byte{0x83, 0x02})

	f.Fuzz(func(t *testing.T, id uint16, unit byte, pdu []byte) {
		if len(pdu) == 0 || len(pdu) > MaxPDULen {
			t.Skip()
		}

		adu := EncodeADU(id, unit, pdu)
		require.Equal(t, uint16(1+len(pdu)), binary.BigEndian.Uint16(adu[4:]))

		h, got, err := DecodeADU(adu)
		require.NoError(t, err)
		require.Equal(t, id, h.TransactionID)
		require.Equal(t, unit, h.UnitID)
		require.Equal(t, pdu, got)
	})
}
