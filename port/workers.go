package port

import (
	"context"
	"sync/atomic"

	"github.com/scandyna/multidiagtools-sub015/internal/task"
)

// Workers runs the reader and writer of a backend as managed goroutines.
type Workers struct {
	reader *Reader
	writer *Writer
	tasks  *task.Manager
}

// NewWorkers creates the reader and writer of b. Events of both workers are
// delivered to notify.
func NewWorkers(ctx context.Context, b Backend, cfg *Config, notify EventHandler) *Workers {
	return &Workers{
		reader: NewReader(b, cfg, notify),
		writer: NewWriter(b, cfg, notify),
		tasks:  task.NewManager(ctx, cfg.GetLogger()),
	}
}

// Start starts both workers. onStopped, if not nil, is called once by the
// last worker goroutine to exit, whatever the reason.
func (ws *Workers) Start(onStopped func()) error {
	ws.reader.Start()
	ws.writer.Start()

	workers := []struct {
		name string
		run  task.Func
	}{
		{readerName, ws.reader.Run},
		{writerName, ws.writer.Run},
	}

	var left atomic.Int32
	left.Store(int32(len(workers)))
	exited := func() {
		if left.Add(-1) == 0 && onStopped != nil {
			onStopped()
		}
	}

	for i, w := range workers {
		if err := ws.tasks.Start(w.name, w.run, exited); err != nil {
			ws.Stop()
			// workers never started count as exited
			go func() {
				for j := 0; j < len(workers)-i; j++ {
					exited()
				}
			}()

			return err
		}
	}

	return nil
}

// Stop asks both workers to exit and unblocks their waits. It does not wait.
func (ws *Workers) Stop() {
	ws.reader.Stop()
	ws.writer.Stop()
	ws.tasks.Stop()
}

// Wait blocks until both workers exited.
func (ws *Workers) Wait() {
	ws.tasks.Wait()
}

// Running returns the number of running worker goroutines.
func (ws *Workers) Running() int {
	return ws.tasks.TaskCount()
}
