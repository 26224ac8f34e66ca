package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the configuration for a [Client]. Use [Option] functions
// (such as [WithClock] or [WithIDGenerator]) to customise the defaults.
type Options struct {
	clock func() time.Time
	newID func() string
}

func newOptions() *Options {
	return &Options{
		clock: time.Now,
		newID: uuid.NewString,
	}
}

func (o *Options) validate() error {
	if o.clock == nil {
		return errors.New("clock must not be nil")
	}
	if o.newID == nil {
		return errors.New("id generator must not be nil")
	}
	return nil
}

// WithClock sets the clock used for createdAt and updatedAt timestamps.
// Defaults to [time.Now]. This is useful for controlling time in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithIDGenerator sets the generator for chat and message identifiers.
// Defaults to [uuid.NewString].
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) {
		o.newID = newID
	}
}
