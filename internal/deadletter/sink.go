// Package deadletter records lines and keys that could not be delivered so they
// can be audited or replayed.
package deadletter

import (
	"context"
	"errors"

	"github.com/lechuhuuha/memcload/internal/domain"
)

// Sink accepts dead letters. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, letters []domain.DeadLetter) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Write(context.Context, []domain.DeadLetter) error { return nil }
func (Nop) Close() error                                     { return nil }

// Multi fans letters out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, letters []domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, letters); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
