// Package retry turns single fetch attempts into a final per-video verdict.
//
// An attempt sequence is pending -> fetching(1) -> ... -> fetching(MaxAttempts)
// and ends in success or an *ItemFailedError. Only transient failures advance
// to the next attempt; the wait after attempt k is Schedule[k-1].
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"yt-comment-collector/internal/comments"
	"yt-comment-collector/internal/model"
)

const DefaultMaxAttempts = 3

// DefaultSchedule matches the delays the collector has always used.
var DefaultSchedule = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

type Cause string

const (
	CauseTransient Cause = "transient"
	CausePermanent Cause = "permanent"
)

// ItemFailedError is the final failure for one video.
type ItemFailedError struct {
	ID       string
	Cause    Cause
	Attempts int
	Err      error
}

func (e *ItemFailedError) Error() string {
	return fmt.Sprintf("video %s failed (%s) after %d attempt(s): %v", e.ID, e.Cause, e.Attempts, e.Err)
}

func (e *ItemFailedError) Unwrap() error {
	return e.Err
}

// Attempt describes one finished fetch attempt. Wait is the delay before the
// next attempt, zero when no further attempt follows.
type Attempt struct {
	Item   model.WorkItem
	Number int
	Max    int
	Err    error
	Wait   time.Duration
}

type Policy struct {
	MaxAttempts int
	Schedule    []time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt observes every attempt. It must not block.
	OnAttempt func(Attempt)
}

func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Schedule:    append([]time.Duration(nil), DefaultSchedule...),
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Newf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if len(p.Schedule) < p.MaxAttempts-1 {
		return errors.Newf("backoff schedule has %d delay(s), need at least %d for %d attempts",
			len(p.Schedule), p.MaxAttempts-1, p.MaxAttempts)
	}
	for i, d := range p.Schedule {
		if d < 0 {
			return errors.Newf("backoff delay %d is negative (%s)", i+1, d)
		}
	}
	return nil
}

// Execute runs fetcher for item until it succeeds, fails permanently, or
// exhausts MaxAttempts. It returns the number of attempts made. Context
// cancellation is returned as-is and is not an item failure.
func (p Policy) Execute(ctx context.Context, item model.WorkItem, fetcher comments.Fetcher) (model.ResultSet, int, error) {
	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		rs, err := fetcher.Fetch(ctx, item)
		if err == nil {
			p.notify(Attempt{Item: item, Number: attempt, Max: p.MaxAttempts})
			return rs, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, attempt, err
		}
		lastErr = err

		if comments.IsPermanent(err) {
			p.notify(Attempt{Item: item, Number: attempt, Max: p.MaxAttempts, Err: err})
			return nil, attempt, &ItemFailedError{ID: item.ID, Cause: CausePermanent, Attempts: attempt, Err: err}
		}
		if attempt == p.MaxAttempts {
			p.notify(Attempt{Item: item, Number: attempt, Max: p.MaxAttempts, Err: err})
			break
		}

		wait := p.Schedule[attempt-1]
		p.notify(Attempt{Item: item, Number: attempt, Max: p.MaxAttempts, Err: err, Wait: wait})
		if err := sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}

	if !comments.IsTransient(lastErr) {
		lastErr = errors.Mark(lastErr, comments.ErrTransient)
	}
	return nil, p.MaxAttempts, &ItemFailedError{ID: item.ID, Cause: CauseTransient, Attempts: p.MaxAttempts, Err: lastErr}
}

func (p Policy) notify(a Attempt) {
	if p.OnAttempt != nil {
		p.OnAttempt(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
