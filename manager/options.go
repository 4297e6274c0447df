package manager

import (
	"errors"
	"time"
)

// Default values of the manager options.
const (
	DefaultReplyGraceTime = 100 * time.Millisecond
	DefaultWaitSlice      = 10 * time.Millisecond
	// DefaultStopTimeout bounds the wait for the workers in Close.
	DefaultStopTimeout = 5 * time.Second
)

type options struct {
	idLimit        uint32
	escalation     int
	replyGraceTime time.Duration
	waitSlice      time.Duration
	stopTimeout    time.Duration
}

func defaultOptions() *options {
	return &options{
		idLimit:        DefaultTransactionIDLimit,
		replyGraceTime: DefaultReplyGraceTime,
		waitSlice:      DefaultWaitSlice,
		stopTimeout:    DefaultStopTimeout,
	}
}

// Option configures a Manager.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(opts *options) error { return f(opts) }

// WithTransactionIDLimit sets the largest id given to raw and ASCII
// transactions. Ids wrap around to 1 after limit.
func WithTransactionIDLimit(limit uint32) Option {
	return optFunc(func(opts *options) error {
		if limit == 0 {
			return errors.New("manager: transaction id limit must be positive")
		}
		opts.idLimit = limit

		return nil
	})
}

// WithTimeoutEscalation makes the manager enter Busy after n consecutive reply
// timeouts. The next reply returns it to Ready. Zero disables escalation.
func WithTimeoutEscalation(n int) Option {
	return optFunc(func(opts *options) error {
		if n < 0 {
			return errors.New("manager: timeout escalation must not be negative")
		}
		opts.escalation = n

		return nil
	})
}

// WithReplyGraceTime sets the time added to the read timeout when a wait is
// called with a zero timeout.
func WithReplyGraceTime(d time.Duration) Option {
	return optFunc(func(opts *options) error {
		if d < 0 {
			return errors.New("manager: reply grace time must not be negative")
		}
		opts.replyGraceTime = d

		return nil
	})
}

// WithWaitSlice sets the polling period of the waits.
func WithWaitSlice(d time.Duration) Option {
	return optFunc(func(opts *options) error {
		if d <= 0 {
			return errors.New("manager: wait slice must be positive")
		}
		opts.waitSlice = d

		return nil
	})
}

// WithStopTimeout bounds the wait for the workers to exit in Close.
func WithStopTimeout(d time.Duration) Option {
	return optFunc(func(opts *options) error {
		if d <= 0 {
			return errors.New("manager: stop timeout must be positive")
		}
		opts.stopTimeout = d

		return nil
	})
}
