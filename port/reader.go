package port

import (
	"context"
	"errors"
	"time"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/internal/pool"
	"github.com/scandyna/multidiagtools-sub015/logger"
)

const readerName = "reader"

// Reader is the reader worker: it waits for incoming data, assembles frames
// and queues the completed ones in the readen queue.
//
// For Connector backends it also owns the connection: it connects on start
// and reconnects when the peer is lost.
type Reader struct {
	backend Backend
	cfg     *Config
	logger  logger.Logger
	notify  EventHandler

	// guarded by the backend lock
	running bool

	// owned by the worker goroutine
	buf       []byte
	frame     *frame.Frame
	connected bool
	starved   bool
}

// NewReader creates a reader worker for b.
func NewReader(b Backend, cfg *Config, notify EventHandler) *Reader {
	return &Reader{
		backend: b,
		cfg:     cfg,
		logger:  cfg.GetLogger().With("worker", readerName),
		notify:  notify,
		buf:     make([]byte, cfg.ReadFrameSize()),
	}
}

// Start marks the reader running. Run iterations exit once Stop is called.
func (r *Reader) Start() {
	r.backend.Lock()
	r.running = true
	r.backend.Unlock()

	r.connected = false
	r.frame = nil
	r.starved = false
}

// Stop clears the running flag and interrupts a pending wait.
func (r *Reader) Stop() {
	r.backend.Lock()
	r.running = false
	r.backend.Unlock()

	r.backend.CancelWait()
}

func (r *Reader) isRunning() bool {
	r.backend.Lock()
	defer r.backend.Unlock()

	return r.running
}

func (r *Reader) emit(ev Event) {
	ev.Worker = readerName
	if r.notify != nil {
		r.notify(ev)
	}
}

// Run is one iteration of the reader loop. It returns false when the worker
// must exit.
func (r *Reader) Run(ctx context.Context) bool {
	if conn, ok := r.backend.(Connector); ok && !r.connected {
		if !r.connect(ctx, conn, false) {
			return false
		}
	}

	if d := r.cfg.ReadMinWaitTime(); d > 0 {
		if !pool.Sleep(ctx, d) {
			return false
		}
	}

	b := r.backend
	b.Lock()
	if !r.running {
		b.Unlock()
		return false
	}

	if err := b.WaitForReadable(); err != nil {
		b.Unlock()
		return r.handleError(ctx, err)
	}

	if b.ReadTimeoutOccurred() {
		completed := 0
		if r.cfg.UseReadTimeoutProtocol() && r.frame != nil && !r.frame.IsEmpty() {
			r.frame.MarkComplete()
			b.Core().PushReaden(r.frame)
			r.frame = nil
			completed++
		}
		b.Unlock()
		r.emitFrames(completed)

		return true
	}

	n, err := b.Read(r.buf)
	if err != nil {
		b.Unlock()
		return r.handleError(ctx, err)
	}

	completed, ok := r.store(ctx, r.buf[:n])
	b.Unlock()
	r.emitFrames(completed)

	return ok
}

func (r *Reader) emitFrames(n int) {
	for j := 0; j < n; j++ {
		r.emit(Event{Kind: EventFrameReaden})
	}
}

// store feeds data into frames and returns the number of completed frames.
// It is called with the backend lock held and may release it while waiting
// for a free frame.
func (r *Reader) store(ctx context.Context, data []byte) (int, bool) {
	core := r.backend.Core()
	completed := 0

	for len(data) > 0 {
		if r.frame == nil {
			r.frame = core.TakeReadFrame()
			if r.frame == nil {
				if !r.starved {
					r.starved = true
					r.logger.Warn("no free read frame, waiting", "pending_bytes", len(data))
				}

				// frames completed so far must reach the manager to free the pool
				r.backend.Unlock()
				r.emitFrames(completed)
				completed = 0
				ok := pool.Sleep(ctx, r.cfg.PoolRetryDelay())
				r.backend.Lock()

				if !ok || !r.running {
					return completed, false
				}

				continue
			}
			r.starved = false
		}

		n := r.frame.PutData(data)
		data = data[n:]

		switch {
		case r.frame.IsComplete():
			core.PushReaden(r.frame)
			r.frame = nil
			completed++
		case n == 0:
			// full frame without end-of-frame condition
			r.logger.Warn("frame full without end of frame, discarded", "size", r.frame.Len())
			r.frame.Clear()
		}
	}

	return completed, true
}

func (r *Reader) dropFrame() {
	r.backend.Lock()
	if r.frame != nil {
		r.backend.Core().ReleaseReadFrame(r.frame)
		r.frame = nil
	}
	r.backend.Unlock()
}

func (r *Reader) handleError(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, ErrWaitCanceled):
		return r.isRunning() && ctx.Err() == nil

	case errors.Is(err, ErrDisconnected):
		r.dropFrame()
		conn, ok := r.backend.(Connector)
		if !ok {
			r.emit(Event{Kind: EventDisconnected, Err: err})
			r.emit(Event{Kind: EventUnhandledError, Err: err})

			return false
		}
		r.connected = false

		return r.connect(ctx, conn, true)

	default:
		logger.Report(r.logger, logger.SeverityError, "port.Reader", "read failed", "error", err)
		r.emit(Event{Kind: EventUnhandledError, Err: err})

		return false
	}
}

// connect tries to connect up to ConnectMaxTry times. The timeout of each try
// grows by ConnectTimeoutStep.
func (r *Reader) connect(ctx context.Context, conn Connector, lost bool) bool {
	if lost {
		r.emit(Event{Kind: EventDisconnected, Err: ErrDisconnected})
	}

	maxTry := r.cfg.ConnectMaxTry()
	timeout := r.cfg.ConnectTimeout()
	var err error

	for attempt := 1; attempt <= maxTry; attempt++ {
		if ctx.Err() != nil || !r.isRunning() {
			return false
		}

		r.emit(Event{Kind: EventConnectionAttempt, Attempt: attempt, MaxTry: maxTry})
		r.emit(Event{Kind: EventConnecting})

		if err = conn.Connect(timeout); err == nil {
			r.connected = true
			r.logger.Debug("connected", "attempt", attempt)
			r.emit(Event{Kind: EventConnected})

			return true
		}

		r.logger.Debug("connection attempt failed", "attempt", attempt, "max_try", maxTry, "error", err)
		timeout += r.cfg.ConnectTimeoutStep()

		// a refused connection returns immediately, keep the try rate bounded
		if attempt < maxTry && !pool.Sleep(ctx, min(timeout, time.Second)/4) {
			return false
		}
	}

	logger.Report(r.logger, logger.SeverityError, "port.Reader", "connection failed",
		"max_try", maxTry, "error", err)
	r.emit(Event{Kind: EventConnectionFailed, Err: errors.Join(ErrConnectionFailed, err)})

	return false
}
