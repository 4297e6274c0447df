package port

// EventKind enumerates the notifications emitted by the workers.
type EventKind uint8

const (
	// EventFrameReaden is emitted after a completed frame was queued.
	EventFrameReaden EventKind = iota + 1
	// EventFrameWritten is emitted after a frame was fully written.
	EventFrameWritten
	// EventConnecting is emitted before each connection attempt.
	EventConnecting
	// EventConnectionAttempt carries the attempt number of a connection try.
	EventConnectionAttempt
	// EventConnected is emitted once the backend is connected.
	EventConnected
	// EventDisconnected is emitted when the peer is lost.
	EventDisconnected
	// EventConnectionFailed is emitted when every connection attempt failed.
	EventConnectionFailed
	// EventUnhandledError is emitted before a worker exits on an unexpected error.
	EventUnhandledError
)

func (k EventKind) String() string {
	switch k {
	case EventFrameReaden:
		return "FrameReaden"
	case EventFrameWritten:
		return "FrameWritten"
	case EventConnecting:
		return "Connecting"
	case EventConnectionAttempt:
		return "ConnectionAttempt"
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventConnectionFailed:
		return "ConnectionFailed"
	case EventUnhandledError:
		return "UnhandledError"
	default:
		return "Unknown"
	}
}

// Event is a worker notification.
type Event struct {
	Kind   EventKind
	Worker string
	// Attempt and MaxTry are set for EventConnectionAttempt.
	Attempt int
	MaxTry  int
	Err     error
}

// EventHandler receives worker events. It is called from the worker goroutines
// without the backend lock and must not block for long.
type EventHandler func(Event)
