package port

import "time"

// Backend is the capability set of a transport.
//
// All methods except Lock, Unlock and CancelWait are called with the backend
// lock held. Wait methods release the lock while blocking.
type Backend interface {
	// SetAttributes selects the target: a device path or a "host:port" address.
	SetAttributes(name string) error
	// Open prepares the backend and its frame pools following cfg.
	Open(cfg *Config) error
	// Close releases the system resources of the backend.
	Close() error

	SetReadTimeout(d time.Duration)
	SetWriteTimeout(d time.Duration)

	// WaitForReadable waits until data can be read or the read timeout elapses.
	// A timeout returns nil and sets ReadTimeoutOccurred.
	WaitForReadable() error
	// Read reads the available bytes into buf without blocking.
	Read(buf []byte) (int, error)
	// WaitForWritable waits until data can be written or the write timeout elapses.
	// A timeout returns nil and sets WriteTimeoutOccurred.
	WaitForWritable() error
	// Write writes up to len(buf) bytes and returns the number written.
	Write(buf []byte) (int, error)

	// CancelWait makes the in-flight or next wait return ErrWaitCanceled.
	CancelWait()

	Lock()
	Unlock()
	ReadTimeoutOccurred() bool
	WriteTimeoutOccurred() bool

	// Core returns the shared frame pools and queues.
	Core() *Base
}

// Connector is implemented by backends that need a connection to a peer and
// can be reconnected by the reader.
//
// Connect and IsConnected are called without the backend lock.
type Connector interface {
	Connect(timeout time.Duration) error
	IsConnected() bool
}
