package usbtmc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("dev dep msg out", func(t *testing.T) {
		require := require.New(t)

		b := Header{MsgID: MsgDevDepMsgOut, BTag: 1, EOM: true}.Encode([]byte("*IDN?\n"))
		require.Equal([]byte{
			0x01, 0x01, 0xFE, 0x00,
			0x06, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
			'*', 'I', 'D', 'N', '?', '\n', 0x00, 0x00,
		}, b)
		require.Zero(len(b) % 4)
	})

	t.Run("request dev dep msg in", func(t *testing.T) {
		require := require.New(t)

		h := Header{MsgID: MsgRequestDevDepMsgIn, BTag: 2, TransferSize: 1024, TermCharEnabled: true, TermChar: '\n'}
		b := h.Encode(nil)
		require.Equal([]byte{
			0x02, 0x02, 0xFD, 0x00,
			0x00, 0x04, 0x00, 0x00,
			0x02, '\n', 0x00, 0x00,
		}, b)

		got, err := DecodeHeader(b)
		require.NoError(err)
		require.Equal(h, got)
	})
}

func TestDecode(t *testing.T) {
	require := require.New(t)

	msg := Header{MsgID: MsgDevDepMsgIn, BTag: 9, EOM: true}.Encode([]byte("1.5"))
	h, payload, err := Decode(msg)
	require.NoError(err)
	require.Equal(Header{MsgID: MsgDevDepMsgIn, BTag: 9, TransferSize: 3, EOM: true}, h)
	require.Equal("1.5", string(payload))

	_, err = DecodeHeader(msg[:11])
	require.ErrorIs(err, ErrShortHeader)

	bad := append([]byte(nil), msg...)
	bad[2] = 0
	_, err = DecodeHeader(bad)
	require.ErrorIs(err, ErrBadTagInverse)

	bad = append([]byte(nil), msg...)
	bad[1], bad[2] = 0, 0xFF
	_, err = DecodeHeader(bad)
	require.ErrorIs(err, ErrBadTag)

	_, _, err = Decode(msg[:13])
	require.ErrorIs(err, ErrShortPayload)
}

func TestNextTag(t *testing.T) {
	require := require.New(t)

	require.Equal(byte(2), NextTag(1))
	require.Equal(byte(1), NextTag(255))

	seen := map[byte]bool{}
	tag := byte(1)
	for i := 0; i < 255; i++ {
		require.NotZero(tag)
		require.False(seen[tag])
		seen[tag] = true
		tag = NextTag(tag)
	}
	require.Equal(byte(1), tag)
}
