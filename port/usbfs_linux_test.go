//go:build linux

package port

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestUsbIoctlRequests(t *testing.T) {
	require := require.New(t)

	require.Equal(uintptr(0x8004550F), usbdevfsClaimInterface)
	require.Equal(uintptr(0x80045510), usbdevfsReleaseInterface)
	require.Equal(uintptr(0x80045515), usbdevfsClearHalt)
	require.Equal(uintptr(0x8108551B), usbdevfsDisconnectClaim)

	if unsafe.Sizeof(uintptr(0)) == 8 {
		require.Equal(uintptr(0xC0185502), usbdevfsBulk)
	} else {
		require.Equal(uintptr(0xC0105502), usbdevfsBulk)
	}
}

func usbInterfaceDesc(num, alt, class, subClass, numEP byte) []byte {
	return []byte{9, descInterface, num, alt, numEP, class, subClass, 1, 0}
}

func usbEndpointDesc(addr, attr byte, maxPacket uint16) []byte {
	return []byte{7, descEndpoint, addr, attr, byte(maxPacket), byte(maxPacket >> 8), 0}
}

func usbDescriptors(parts ...[]byte) []byte {
	device := []byte{18, 1, 0x00, 0x02, 0, 0, 0, 64, 0x57, 0x09, 0x07, 0x04, 0x00, 0x01, 1, 2, 3, 1}
	config := []byte{9, 2, 0x3B, 0, 2, 1, 0, 0xC0, 50}

	return bytes.Join(append([][]byte{device, config}, parts...), nil)
}

func TestFindBulkInterface(t *testing.T) {
	const (
		tmcClass    = 0xFE
		tmcSubClass = 0x03
	)
	hid := bytes.Join([][]byte{usbInterfaceDesc(0, 0, 0x03, 0, 1), usbEndpointDesc(0x84, 0x03, 8)}, nil)

	tests := []struct {
		name    string
		desc    []byte
		want    usbInterface
		wantErr error
	}{
		{
			name: "second interface",
			desc: usbDescriptors(hid,
				usbInterfaceDesc(1, 0, tmcClass, tmcSubClass, 3),
				usbEndpointDesc(0x02, 0x02, 512),
				usbEndpointDesc(0x81, 0x02, 512),
				usbEndpointDesc(0x83, 0x03, 8),
			),
			want: usbInterface{number: 1, epIn: 0x81, epOut: 0x02, maxPacket: 512},
		},
		{
			name: "followed by another interface",
			desc: usbDescriptors(
				usbInterfaceDesc(0, 0, tmcClass, tmcSubClass, 2),
				usbEndpointDesc(0x86, 0x02, 64),
				usbEndpointDesc(0x05, 0x02, 64),
				hid,
			),
			want: usbInterface{number: 0, epIn: 0x86, epOut: 0x05, maxPacket: 64},
		},
		{
			name: "alternate setting only",
			desc: usbDescriptors(
				usbInterfaceDesc(0, 1, tmcClass, tmcSubClass, 2),
				usbEndpointDesc(0x02, 0x02, 512),
				usbEndpointDesc(0x81, 0x02, 512),
			),
			wantErr: ErrNoBulkInterface,
		},
		{
			name: "no bulk out",
			desc: usbDescriptors(
				usbInterfaceDesc(0, 0, tmcClass, tmcSubClass, 2),
				usbEndpointDesc(0x81, 0x02, 512),
				usbEndpointDesc(0x02, 0x03, 512),
			),
			wantErr: ErrNoBulkInterface,
		},
		{
			name:    "other class",
			desc:    usbDescriptors(hid),
			wantErr: ErrNoBulkInterface,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findBulkInterface(tt.desc, tmcClass, tmcSubClass)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := findBulkInterface([]byte{9, 2, 0}, tmcClass, tmcSubClass)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoBulkInterface)
}

func TestUsbBulk_NotConnected(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig()
	require.NoError(err)

	p := NewUsbBulk("/dev/bus/usb/001/004", 0xFE, 0x03)
	require.ErrorIs(p.Connect(0), ErrNotOpen)
	require.NoError(p.Open(cfg))
	defer p.Close()

	require.False(p.IsConnected())

	p.Lock()
	defer p.Unlock()

	require.ErrorIs(p.WaitForReadable(), ErrDisconnected)
	require.ErrorIs(p.WaitForWritable(), ErrDisconnected)
	_, err = p.Write([]byte{1})
	require.ErrorIs(err, ErrDisconnected)
	_, err = p.Read(make([]byte, 4))
	require.ErrorIs(err, ErrDisconnected)
}
