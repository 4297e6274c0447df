package port

import (
	"sync"
	"time"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/internal/queue"
	"github.com/scandyna/multidiagtools-sub015/logger"
)

// lockWarnDelay is how long Lock waits before reporting a suspicious wait.
// The backend lock is never held across an unbounded call, so a longer wait
// means a goroutine is trying to take a lock it already holds.
const lockWarnDelay = 5 * time.Second

// Base holds the state shared by a backend, its workers and the manager:
// the backend mutex, the read and write frame pools and queues, and the
// timeout flags. Backends embed it.
//
// Every method except Lock, Unlock and WriteSignal requires the lock.
type Base struct {
	mu     sync.Mutex
	cfg    *Config
	logger logger.Logger
	name   string

	readPool    queue.Queue[*frame.Frame]
	readenQueue queue.Queue[*frame.Frame]
	writePool   queue.Queue[*frame.Frame]
	writeQueue  queue.Queue[*frame.Frame]

	readTimeoutOccurred  bool
	writeTimeoutOccurred bool

	writeSignal chan struct{}
}

// Init allocates the frame pools following cfg. Backends call it from Open.
func (c *Base) Init(cfg *Config) {
	c.Lock()
	defer c.Unlock()

	c.cfg = cfg
	c.logger = cfg.GetLogger()
	if c.writeSignal == nil {
		c.writeSignal = make(chan struct{}, 1)
	}

	c.readPool = queue.NewSliceQueue[*frame.Frame](cfg.ReadQueueSize())
	c.readenQueue = queue.NewSliceQueue[*frame.Frame](cfg.ReadQueueSize())
	for n := cfg.ReadQueueSize(); n > 0; n-- {
		c.readPool.Enqueue(cfg.NewReadFrame())
	}

	c.writePool = queue.NewSliceQueue[*frame.Frame](cfg.WriteQueueSize())
	c.writeQueue = queue.NewSliceQueue[*frame.Frame](cfg.WriteQueueSize())
	for n := cfg.WriteQueueSize(); n > 0; n-- {
		c.writePool.Enqueue(cfg.NewWriteFrame())
	}

	c.readTimeoutOccurred = false
	c.writeTimeoutOccurred = false
}

// Core returns c. Backends embedding Base satisfy Backend.Core through it.
func (c *Base) Core() *Base { return c }

// Config returns the configuration given to Init.
func (c *Base) Config() *Config { return c.cfg }

// Logger returns the configured logger, or the process default before Init.
func (c *Base) Logger() logger.Logger {
	if c.logger == nil {
		return logger.GetLogger()
	}

	return c.logger
}

// Name returns the target set by SetAttributes.
func (c *Base) Name() string { return c.name }

func (c *Base) setName(name string) { c.name = name }

// Lock acquires the backend mutex.
func (c *Base) Lock() {
	if c.mu.TryLock() {
		return
	}

	t := time.AfterFunc(lockWarnDelay, func() {
		logger.Report(c.Logger(), logger.SeverityWarning, "port.Base",
			"waiting for the backend lock, re-entrant lock suspected", "name", c.name, "wait", lockWarnDelay)
	})
	c.mu.Lock()
	t.Stop()
}

// Unlock releases the backend mutex.
func (c *Base) Unlock() { c.mu.Unlock() }

func (c *Base) ReadTimeoutOccurred() bool  { return c.readTimeoutOccurred }
func (c *Base) WriteTimeoutOccurred() bool { return c.writeTimeoutOccurred }

// SetReadTimeoutOccurred is called by backends at the end of each read wait.
func (c *Base) SetReadTimeoutOccurred(v bool) { c.readTimeoutOccurred = v }

// SetWriteTimeoutOccurred is called by backends at the end of each write wait.
func (c *Base) SetWriteTimeoutOccurred(v bool) { c.writeTimeoutOccurred = v }

// --- read side ---

// TakeReadFrame returns a free read frame, or nil when the pool is empty.
func (c *Base) TakeReadFrame() *frame.Frame {
	f, _ := c.readPool.Dequeue()
	return f
}

// PushReaden appends a completed frame to the readen queue.
func (c *Base) PushReaden(f *frame.Frame) { c.readenQueue.Enqueue(f) }

// PopReaden removes the oldest completed frame, or returns nil.
func (c *Base) PopReaden() *frame.Frame {
	f, _ := c.readenQueue.Dequeue()
	return f
}

// ReleaseReadFrame clears f and returns it to the read pool.
func (c *Base) ReleaseReadFrame(f *frame.Frame) {
	f.Clear()
	c.readPool.Enqueue(f)
}

func (c *Base) ReadPoolLen() int    { return c.readPool.Length() }
func (c *Base) ReadenQueueLen() int { return c.readenQueue.Length() }

// --- write side ---

// TakeWriteFrame returns a free write frame, or nil when the pool is empty.
func (c *Base) TakeWriteFrame() *frame.Frame {
	f, _ := c.writePool.Dequeue()
	return f
}

// PushWrite queues f for the writer and wakes it up.
func (c *Base) PushWrite(f *frame.Frame) {
	c.writeQueue.Enqueue(f)
	select {
	case c.writeSignal <- struct{}{}:
	default:
	}
}

// PopWrite removes the oldest queued write frame, or returns nil.
func (c *Base) PopWrite() *frame.Frame {
	f, _ := c.writeQueue.Dequeue()
	return f
}

// ReleaseWriteFrame clears f and returns it to the write pool.
func (c *Base) ReleaseWriteFrame(f *frame.Frame) {
	f.Clear()
	c.writePool.Enqueue(f)
}

// WriteSignal is ready after PushWrite. It does not require the lock.
func (c *Base) WriteSignal() <-chan struct{} { return c.writeSignal }

func (c *Base) WritePoolLen() int  { return c.writePool.Length() }
func (c *Base) WriteQueueLen() int { return c.writeQueue.Length() }

// Flush returns every queued frame to its pool.
func (c *Base) Flush() {
	for f := c.PopReaden(); f != nil; f = c.PopReaden() {
		c.ReleaseReadFrame(f)
	}
	for f := c.PopWrite(); f != nil; f = c.PopWrite() {
		c.ReleaseWriteFrame(f)
	}
}
