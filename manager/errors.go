package manager

import "errors"

var (
	// ErrDuplicateTransaction is returned by SendData when the id of the
	// transaction is already pending or done.
	ErrDuplicateTransaction = errors.New("manager: transaction id already in use")
	// ErrWriteCanceled is returned by SendData when no write frame became
	// free before the context was done or the port closed.
	ErrWriteCanceled = errors.New("manager: write canceled")
	// ErrReplyTimeout is returned when a reply did not arrive in time.
	ErrReplyTimeout = errors.New("manager: reply timeout")
	// ErrNotReady is returned by waits interrupted because the port left the
	// ready states.
	ErrNotReady = errors.New("manager: port not ready")
	// ErrPortClosed is returned by operations on a closed manager.
	ErrPortClosed = errors.New("manager: port closed")
	// ErrInvalidID is returned when a caller supplied id does not fit the
	// id space of the protocol.
	ErrInvalidID = errors.New("manager: transaction id out of range")
	// ErrPayloadTooLarge is returned when an encoded request does not fit a
	// write frame.
	ErrPayloadTooLarge = errors.New("manager: payload larger than write frame")
	// ErrInvalidTransition is returned when an event is not accepted in the
	// current state.
	ErrInvalidTransition = errors.New("manager: invalid state transition")
)
