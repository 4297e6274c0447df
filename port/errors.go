package port

import "errors"

var (
	// ErrDisconnected is returned by backend calls when the peer is gone.
	ErrDisconnected = errors.New("port: disconnected")
	// ErrWaitCanceled is returned by a wait call interrupted by CancelWait.
	ErrWaitCanceled = errors.New("port: wait canceled")
	// ErrNotOpen is returned when using a backend that is not open.
	ErrNotOpen = errors.New("port: backend not open")
	// ErrAlreadyOpen is returned when opening a backend twice.
	ErrAlreadyOpen = errors.New("port: backend already open")
	// ErrConnectionFailed is reported when every connection attempt failed.
	ErrConnectionFailed = errors.New("port: connection failed")
	// ErrUnsupported is returned by backends not available on the platform.
	ErrUnsupported = errors.New("port: backend not supported on this platform")
)
