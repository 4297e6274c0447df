// Package task runs the port workers as managed goroutines.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

// startTimeout bounds the wait for a goroutine to report it has started.
const startTimeout = 5 * time.Second

// Func is one iteration of a task. It returns true to run again, false to stop.
type Func func(ctx context.Context) bool

// ExitFunc is called once when a task goroutine exits, whatever the reason.
type ExitFunc func()

// Manager manages the lifecycle of the reader and writer goroutines of a port.
//
// Tasks started with Start run until their Func returns false, Stop is called,
// or the parent context is canceled. Wait blocks until all of them exited and
// re-arms the manager so tasks can be started again.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("reader", readerIteration, nil)
//	...
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager with ctx as parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a goroutine named name which calls fn in a loop.
// onExit, if not nil, runs when the goroutine terminates.
func (mgr *Manager) Start(name string, fn Func, onExit ExitFunc) error {
	mgr.logger.Debug("start task", "name", name)

	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		return fmt.Errorf("task manager already stopped, cannot start %s", name)
	default:
	}

	started := make(chan struct{})

	mgr.taskMu.RLock()
	mgr.wg.Add(1)
	mgr.taskMu.RUnlock()

	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			mgr.count.Add(-1)
			if onExit != nil {
				mgr.callWithRecover(name, onExit)
			}
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		mgr.runTaskLoop(ctx, name, fn)
	}()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// Stop signals all running tasks.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all tasks to terminate, then re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	}
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

func (mgr *Manager) runTaskLoop(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(ctx) {
				return
			}
		}
	}
}
