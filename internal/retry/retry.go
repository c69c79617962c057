// Package retry bounds how failed API calls are repeated. The resolver and
// the metadata fetcher share one Policy so every catalog call degrades the
// same way.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
)

// Class partitions errors by how the pipeline reacts to them.
type Class int

const (
	// Transient failures consume one attempt and are retried with backoff.
	Transient Class = iota

	// RateLimited failures wait out the limit and retry without consuming
	// the attempt budget.
	RateLimited

	// Fatal failures are returned immediately; callers may still degrade
	// the operation to an empty result.
	Fatal

	// Auth failures are fatal and additionally abort the whole run:
	// retrying cannot fix rejected credentials.
	Auth
)

// Classifier decides the Class of a non-nil error.
type Classifier func(error) Class

// Policy bounds the retry loop. MaxAttempts counts calls to the operation,
// not repeats, so MaxAttempts 1 means no retries.
type Policy struct {
	MaxAttempts   int
	Delay         time.Duration
	MaxDelay      time.Duration
	RateLimitWait time.Duration

	// Classify maps errors to classes. Nil treats every error as Transient.
	Classify Classifier
}

// Class applies the policy's classifier to err.
func (p Policy) Class(err error) Class {
	if p.Classify == nil {
		return Transient
	}
	return p.Classify(err)
}

// Do runs fn until it succeeds, a fatal error occurs, the attempt budget is
// spent, or ctx is cancelled. op names the operation in retry logs. The
// error of the last attempt is returned, wrapped when the budget ran out.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	attempt := 0
	var err error
	for attempt < attempts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		switch p.Class(err) {
		case Fatal, Auth:
			return err
		case RateLimited:
			// Waiting out the limit does not use up an attempt.
			logging.Warn().
				Err(err).
				Str("op", op).
				Dur("wait", p.RateLimitWait).
				Msg("Rate limited, waiting")
			if werr := sleep(ctx, p.RateLimitWait); werr != nil {
				return werr
			}
			continue
		}

		attempt++
		if attempt < attempts {
			logging.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("delay", delay).
				Msg("Retry attempt")
			if werr := sleep(ctx, delay); werr != nil {
				return werr
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return fmt.Errorf("max retry attempts reached: %w", err)
}

// sleep waits for d unless ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
