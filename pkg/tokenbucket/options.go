package tokenbucket

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring a Bucket.
type Option func(*bucketOptions) error

type bucketOptions struct {
	clock Clock
}

// WithClock sets the time source of the bucket.
// If not provided, SystemClock is used.
func WithClock(clock Clock) Option {
	return func(o *bucketOptions) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		o.clock = clock
		return nil
	}
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry) error

// WithRegistryClock sets the time source shared by every bucket in the registry.
func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *Registry) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		r.clock = clock
		return nil
	}
}

// WithLogger sets the logger used for bucket lifecycle events.
// Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) error {
		r.logger = logger
		return nil
	}
}

// WithRecorder sets the recorder notified of every decision and cleanup sweep.
func WithRecorder(recorder Recorder) RegistryOption {
	return func(r *Registry) error {
		if recorder == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		r.recorder = recorder
		return nil
	}
}
