package trilock

import (
	"sync"

	"github.com/rs/zerolog"
)

// options holds configuration for New and NewFromCell.
type options struct {
	locker sync.Locker
	logger zerolog.Logger
}

// Option configures a lock.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) { f(opts) }

// WithLocker sets the lock guarding the internal state (idle flag and waiter table). It is
// held only for a few instructions per operation and never across user code. The locker
// must not be shared with anything else. Defaults to a new sync.Mutex.
//
// As long as each handle has at most one acquisition in flight, including one that holds
// the lock, no more than NumIdentities callers use the locker at once, so a fixed-size queue
// lock such as alock.NewArrayLock(NumIdentities) is enough.
func WithLocker(l sync.Locker) Option {
	return optionFunc(func(opts *options) {
		if l != nil {
			opts.locker = l
		}
	})
}

// WithLogger sets the logger for state transitions, emitted at debug level.
// Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = l
	})
}

func resolveOptions(opts []Option) *options {
	cfg := &options{
		locker: new(sync.Mutex),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}
