package retry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"yt-comment-collector/internal/comments"
	"yt-comment-collector/internal/model"
)

type scriptedFetcher struct {
	calls   int
	results []error
}

func (f *scriptedFetcher) Fetch(_ context.Context, item model.WorkItem) (model.ResultSet, error) {
	f.calls++
	if f.calls <= len(f.results) && f.results[f.calls-1] != nil {
		return nil, f.results[f.calls-1]
	}
	return model.ResultSet{json.RawMessage(`{"video":"` + item.ID + `"}`)}, nil
}

func transient() error {
	return errors.Mark(errors.New("HTTP Error 429"), comments.ErrTransient)
}

func permanent() error {
	return errors.Mark(errors.New("Video unavailable"), comments.ErrPermanent)
}

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&waits)
	f := &scriptedFetcher{}

	rs, attempts, err := p.Execute(context.Background(), model.WorkItem{ID: "v1"}, f)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, f.calls)
	require.Empty(t, waits)
}

func TestExecute_TransientExhaustion(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&waits)
	f := &scriptedFetcher{results: []error{transient(), transient(), transient(), transient()}}

	_, attempts, err := p.Execute(context.Background(), model.WorkItem{ID: "v1"}, f)
	require.Error(t, err)
	require.Equal(t, 3, f.calls)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second}, waits)

	var failed *ItemFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, "v1", failed.ID)
	require.Equal(t, CauseTransient, failed.Cause)
	require.Equal(t, 3, failed.Attempts)
	require.True(t, comments.IsTransient(err))
}

func TestExecute_PermanentIsNotRetried(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&waits)
	f := &scriptedFetcher{results: []error{permanent()}}

	_, attempts, err := p.Execute(context.Background(), model.WorkItem{ID: "gone"}, f)
	require.Equal(t, 1, f.calls)
	require.Equal(t, 1, attempts)
	require.Empty(t, waits)

	var failed *ItemFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, CausePermanent, failed.Cause)
	require.True(t, comments.IsPermanent(err))
}

func TestExecute_PermanentAfterTransientStopsEarly(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&waits)
	f := &scriptedFetcher{results: []error{transient(), permanent()}}

	_, attempts, err := p.Execute(context.Background(), model.WorkItem{ID: "v"}, f)
	require.Error(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, []time.Duration{time.Second}, waits)
}

func TestExecute_RecoversOnThirdAttempt(t *testing.T) {
	var waits []time.Duration
	var seen []Attempt
	p := Default()
	p.Sleep = recordingSleep(&waits)
	p.OnAttempt = func(a Attempt) { seen = append(seen, a) }
	f := &scriptedFetcher{results: []error{transient(), transient()}}

	rs, attempts, err := p.Execute(context.Background(), model.WorkItem{ID: "v2"}, f)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second}, waits)
	require.Len(t, seen, 3)
	require.Error(t, seen[0].Err)
	require.Equal(t, time.Second, seen[0].Wait)
	require.NoError(t, seen[2].Err)
	require.Zero(t, seen[2].Wait)
}

func TestExecute_UnclassifiedErrorsAreRetried(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 2, Schedule: []time.Duration{time.Millisecond}, Sleep: recordingSleep(&waits)}
	f := &scriptedFetcher{results: []error{errors.New("boom"), errors.New("boom")}}

	_, _, err := p.Execute(context.Background(), model.WorkItem{ID: "v"}, f)
	require.Equal(t, 2, f.calls)
	require.True(t, comments.IsTransient(err))
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	f := &scriptedFetcher{results: []error{transient(), transient(), transient()}}

	_, _, err := p.Execute(ctx, model.WorkItem{ID: "v"}, f)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.calls)

	var failed *ItemFailedError
	require.False(t, errors.As(err, &failed))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.NoError(t, Policy{MaxAttempts: 1}.Validate())
	require.Error(t, Policy{MaxAttempts: 0}.Validate())
	require.Error(t, Policy{MaxAttempts: 4, Schedule: DefaultSchedule[:2]}.Validate())
	require.Error(t, Policy{MaxAttempts: 2, Schedule: []time.Duration{-time.Second}}.Validate())
}

func TestSleepContext_RealTimer(t *testing.T) {
	start := time.Now()
	require.NoError(t, sleepContext(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
