package port

import (
	"context"
	"errors"
	"time"

	"github.com/scandyna/multidiagtools-sub015/frame"
	"github.com/scandyna/multidiagtools-sub015/internal/pool"
	"github.com/scandyna/multidiagtools-sub015/logger"
)

const (
	writerName = "writer"
	// writerIdleSlice bounds the wait for a queued frame so the running flag
	// is checked regularly.
	writerIdleSlice = 100 * time.Millisecond
)

// Writer is the writer worker: it drains the write queue and returns every
// written frame to the write pool.
type Writer struct {
	backend Backend
	cfg     *Config
	logger  logger.Logger
	notify  EventHandler

	// guarded by the backend lock
	running bool
}

// NewWriter creates a writer worker for b.
func NewWriter(b Backend, cfg *Config, notify EventHandler) *Writer {
	return &Writer{
		backend: b,
		cfg:     cfg,
		logger:  cfg.GetLogger().With("worker", writerName),
		notify:  notify,
	}
}

// Start marks the writer running.
func (w *Writer) Start() {
	w.backend.Lock()
	w.running = true
	w.backend.Unlock()
}

// Stop clears the running flag and interrupts a pending wait.
func (w *Writer) Stop() {
	w.backend.Lock()
	w.running = false
	w.backend.Unlock()

	w.backend.CancelWait()
}

func (w *Writer) isRunning() bool {
	w.backend.Lock()
	defer w.backend.Unlock()

	return w.running
}

func (w *Writer) emit(ev Event) {
	ev.Worker = writerName
	if w.notify != nil {
		w.notify(ev)
	}
}

// Run is one iteration of the writer loop. It returns false when the worker
// must exit.
func (w *Writer) Run(ctx context.Context) bool {
	b := w.backend
	core := b.Core()

	b.Lock()
	if !w.running {
		b.Unlock()
		return false
	}
	f := core.PopWrite()
	b.Unlock()

	if f == nil {
		t := pool.GetTimer(writerIdleSlice)
		defer pool.PutTimer(t)

		select {
		case <-ctx.Done():
			return false
		case <-core.WriteSignal():
		case <-t.C:
		}

		return true
	}

	if conn, ok := b.(Connector); ok && !conn.IsConnected() {
		if !w.waitConnected(ctx, conn) {
			w.release(f)
			return false
		}
	}

	if d := w.cfg.WriteMinWaitTime(); d > 0 {
		if !pool.Sleep(ctx, d) {
			w.release(f)
			return false
		}
	}

	err := w.write(ctx, f)
	w.release(f)

	if err == nil {
		w.emit(Event{Kind: EventFrameWritten})
		return true
	}

	return w.handleError(ctx, err)
}

func (w *Writer) release(f *frame.Frame) {
	w.backend.Lock()
	w.backend.Core().ReleaseWriteFrame(f)
	w.backend.Unlock()
}

var errWriterStopped = errors.New("port: writer stopped")

// write sends the whole frame, across partial writes.
func (w *Writer) write(ctx context.Context, f *frame.Frame) error {
	b := w.backend
	bytePerByte, byteWait := w.cfg.BytePerByteWrite()

	b.Lock()
	defer b.Unlock()

	for !f.IsEmpty() {
		if !w.running || ctx.Err() != nil {
			return errWriterStopped
		}

		if err := b.WaitForWritable(); err != nil {
			return err
		}
		if b.WriteTimeoutOccurred() {
			w.logger.Debug("write timeout, retrying", "remaining", f.Len())
			continue
		}

		data := f.Bytes()
		if bytePerByte {
			data = data[:1]
		}

		n, err := b.Write(data)
		if err != nil {
			return err
		}
		f.Take(n)

		if bytePerByte && byteWait > 0 && !f.IsEmpty() {
			b.Unlock()
			ok := pool.Sleep(ctx, byteWait)
			b.Lock()
			if !ok {
				return errWriterStopped
			}
		}
	}

	return nil
}

func (w *Writer) handleError(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, errWriterStopped):
		return false

	case errors.Is(err, ErrWaitCanceled):
		return w.isRunning() && ctx.Err() == nil

	case errors.Is(err, ErrDisconnected):
		w.emit(Event{Kind: EventDisconnected, Err: err})
		conn, ok := w.backend.(Connector)
		if !ok {
			w.emit(Event{Kind: EventUnhandledError, Err: err})
			return false
		}

		return w.waitConnected(ctx, conn)

	default:
		logger.Report(w.logger, logger.SeverityError, "port.Writer", "write failed", "error", err)
		w.emit(Event{Kind: EventUnhandledError, Err: err})

		return false
	}
}

// waitConnected waits for the reader to restore the connection.
func (w *Writer) waitConnected(ctx context.Context, conn Connector) bool {
	for !conn.IsConnected() {
		if !w.isRunning() {
			return false
		}
		if !pool.Sleep(ctx, writerIdleSlice) {
			return false
		}
	}

	return true
}
