// Package collector drives one collection run: it lists a channel's videos,
// skips those the checkpoint ledger already settled, fetches the rest with
// bounded retry, persists each result and records the outcome.
package collector

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yt-comment-collector/internal/checkpoint"
	"yt-comment-collector/internal/comments"
	"yt-comment-collector/internal/logging"
	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/retry"
	"yt-comment-collector/internal/runstore"
)

// LastRunFile is written next to the ledger after every run.
const LastRunFile = "last_run.json"

type ItemSource interface {
	ListItems(ctx context.Context, channelRef string, maxItems int) ([]model.WorkItem, error)
}

type Sink interface {
	Persist(ctx context.Context, id string, rs model.ResultSet) error
}

// Reporter receives advisory progress. Calls happen on the run goroutine and
// should return quickly.
type Reporter interface {
	RunStarted(runID, channel string, total int)
	ItemStarted(item model.WorkItem, position, total int)
	AttemptFinished(a retry.Attempt)
	ItemFinished(ev model.Event)
	RunFinished(s model.Summary)
}

type Options struct {
	Channel     string
	MaxItems    int
	RetryFailed bool
}

type Collector struct {
	Source  ItemSource
	Store   checkpoint.Store
	Fetcher comments.Fetcher
	Policy  retry.Policy
	Sink    Sink

	Reporter Reporter
	// Limiter paces fetches across videos; nil disables pacing.
	Limiter *rate.Limiter
	Logger  *zap.SugaredLogger

	// LockDir is locked for the duration of the run when set.
	LockDir string
	// SummaryPath receives the run summary as JSON when set.
	SummaryPath string

	Now      func() time.Time
	NewRunID func() string
}

// NewLimiter allows one fetch per interval. A non-positive interval disables
// pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Run processes every listed video once. Per-video failures and sink errors
// are reported in the summary; the returned error is reserved for conditions
// that end the run: the listing failed, checkpoint storage is unavailable,
// the directory is locked or the configuration is invalid. Cancelling ctx
// stops the run between steps and sets Summary.Interrupted.
func (c *Collector) Run(ctx context.Context, opts Options) (summary model.Summary, err error) {
	c.defaults()
	log := c.Logger

	channel := strings.TrimSpace(opts.Channel)
	summary = model.Summary{
		RunID:     c.NewRunID(),
		Channel:   channel,
		FailedIDs: []string{},
		StartedAt: c.Now().UTC(),
	}
	log = log.With(logging.FieldRunID, summary.RunID)

	if channel == "" {
		return summary, errors.New("channel reference is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return summary, errors.Wrap(err, "retry policy")
	}
	if c.Source == nil || c.Store == nil || c.Fetcher == nil || c.Sink == nil {
		return summary, errors.AssertionFailedf("collector is missing a source, store, fetcher or sink")
	}

	if c.LockDir != "" {
		lock, err := runstore.AcquireDirLock(c.LockDir, summary.RunID)
		if err != nil {
			return summary, err
		}
		if lock.Stale != "" {
			log.Warnw("took over stale data directory lock", "dir", c.LockDir, "reason", lock.Stale)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warnw("release data directory lock", logging.FieldError, err)
			}
		}()
	}

	items, err := c.Source.ListItems(ctx, channel, opts.MaxItems)
	if err != nil {
		return summary, errors.Wrapf(err, "list videos for %s", channel)
	}
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	summary.Total = len(items)

	ledger, err := c.Store.Load(ctx)
	if err != nil {
		return summary, errors.Wrap(err, "load checkpoint ledger")
	}
	log.Infow("checkpoint loaded",
		"completed", len(ledger.Completed()), "failed", len(ledger.Failed()), "videos", len(items))

	if opts.RetryFailed {
		if err := c.resetFailed(ctx, ledger, items, log); err != nil {
			return summary, err
		}
	}

	c.Reporter.RunStarted(summary.RunID, channel, len(items))
	defer func() {
		summary.Elapsed = c.Now().Sub(summary.StartedAt)
		c.writeSummary(summary, log)
		c.Reporter.RunFinished(summary)
	}()

	policy := c.attemptObserver(c.Policy, log)
	for i, item := range items {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		stop, err := c.processItem(ctx, ledger, policy, &summary, item, i+1, len(items), log)
		if err != nil {
			return summary, err
		}
		if stop {
			summary.Interrupted = true
			break
		}
	}

	log.Infow("run finished",
		"completed", summary.Completed, "failed", summary.Failed, "skipped", summary.Skipped,
		"deferred", summary.Deferred, "interrupted", summary.Interrupted)
	return summary, nil
}

// processItem walks one video through pending -> fetching -> terminal. It
// reports stop when the run was cancelled and the video was left pending.
func (c *Collector) processItem(
	ctx context.Context,
	ledger *checkpoint.Ledger,
	policy retry.Policy,
	summary *model.Summary,
	item model.WorkItem,
	position, total int,
	log *zap.SugaredLogger,
) (bool, error) {
	tracked := model.TrackedItem{WorkItem: item, State: ledger.State(item.ID)}
	event := model.Event{Item: item, Position: position, Total: total}
	itemLog := log.With(logging.FieldVideoID, item.ID)

	if model.IsTerminal(tracked.State) {
		summary.Skipped++
		event.Outcome = model.OutcomeSkipped
		c.Reporter.ItemFinished(event)
		return false, nil
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return true, nil
		}
	}

	if err := model.Transition(&tracked, model.StateFetching); err != nil {
		return false, err
	}
	c.Reporter.ItemStarted(item, position, total)
	itemLog.Infow("fetching comments", logging.FieldPosition, position, logging.FieldTotal, total)

	rs, attempts, fetchErr := policy.Execute(ctx, item, c.Fetcher)
	tracked.Attempts = attempts
	event.Attempts = attempts

	var failed *retry.ItemFailedError
	switch {
	case fetchErr == nil:
		event.Comments = len(rs)
		if err := c.Sink.Persist(ctx, item.ID, rs); err != nil {
			if err := model.Transition(&tracked, model.StatePending); err != nil {
				return false, err
			}
			if ctx.Err() != nil {
				c.leavePending(summary, event, ctx.Err(), itemLog)
				return true, nil
			}
			summary.SinkErrors = append(summary.SinkErrors, model.SinkFailure{VideoID: item.ID, Error: err.Error()})
			itemLog.Warnw("could not save comments; video stays pending", logging.FieldError, err)
			c.leavePending(summary, event, err, itemLog)
			return false, nil
		}
		if err := c.Store.MarkCompleted(ctx, item.ID); err != nil {
			return false, errors.Wrapf(err, "record %s as completed", item.ID)
		}
		if err := ledger.Record(item.ID, model.StateCompleted); err != nil {
			return false, err
		}
		if err := model.Transition(&tracked, model.StateCompleted); err != nil {
			return false, err
		}
		summary.Completed++
		event.Outcome = model.OutcomeCompleted
		itemLog.Infow("video completed", logging.FieldComments, len(rs), logging.FieldAttempts, attempts)
		c.Reporter.ItemFinished(event)
		return false, nil

	case errors.As(fetchErr, &failed):
		if err := c.Store.MarkFailed(ctx, item.ID); err != nil {
			return false, errors.Wrapf(err, "record %s as failed", item.ID)
		}
		if err := ledger.Record(item.ID, model.StateFailed); err != nil {
			return false, err
		}
		if err := model.Transition(&tracked, model.StateFailed); err != nil {
			return false, err
		}
		summary.Failed++
		summary.FailedIDs = append(summary.FailedIDs, item.ID)
		event.Outcome = model.OutcomeFailed
		event.Err = failed.Error()
		itemLog.Warnw("video failed", logging.FieldCause, string(failed.Cause),
			logging.FieldAttempts, failed.Attempts, logging.FieldError, failed.Err)
		c.Reporter.ItemFinished(event)
		return false, nil

	default:
		// Only cancellation escapes the retry policy unclassified.
		if err := model.Transition(&tracked, model.StatePending); err != nil {
			return false, err
		}
		if ctx.Err() == nil {
			return false, errors.Wrapf(fetchErr, "fetch %s", item.ID)
		}
		c.leavePending(summary, event, fetchErr, itemLog)
		return true, nil
	}
}

func (c *Collector) leavePending(summary *model.Summary, event model.Event, cause error, log *zap.SugaredLogger) {
	summary.Deferred++
	event.Outcome = model.OutcomeDeferred
	event.Err = cause.Error()
	log.Debugw("video left pending", logging.FieldError, cause)
	c.Reporter.ItemFinished(event)
}

func (c *Collector) resetFailed(ctx context.Context, ledger *checkpoint.Ledger, items []model.WorkItem, log *zap.SugaredLogger) error {
	var ids []string
	for _, item := range items {
		if ledger.State(item.ID) == model.StateFailed {
			ids = append(ids, item.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	n, err := c.Store.ResetFailed(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "reset failed videos")
	}
	for _, id := range ids {
		ledger.Forget(id)
	}
	log.Infow("failed videos queued for retry", "count", n)
	return nil
}

func (c *Collector) attemptObserver(p retry.Policy, log *zap.SugaredLogger) retry.Policy {
	prior := p.OnAttempt
	p.OnAttempt = func(a retry.Attempt) {
		if a.Err != nil && a.Wait > 0 {
			log.Warnw("attempt failed, retrying",
				logging.FieldVideoID, a.Item.ID,
				logging.FieldAttempt, a.Number,
				"max_attempts", a.Max,
				logging.FieldDelay, a.Wait,
				logging.FieldError, a.Err)
		}
		if prior != nil {
			prior(a)
		}
		c.Reporter.AttemptFinished(a)
	}
	return p
}

func (c *Collector) writeSummary(s model.Summary, log *zap.SugaredLogger) {
	if c.SummaryPath == "" {
		return
	}
	if err := runstore.WriteJSON(c.SummaryPath, s); err != nil {
		log.Warnw("could not write run summary", "path", c.SummaryPath, logging.FieldError, err)
	}
}

func (c *Collector) defaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Reporter == nil {
		c.Reporter = nopReporter{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewRunID == nil {
		c.NewRunID = func() string { return uuid.NewString() }
	}
}

type nopReporter struct{}

func (nopReporter) RunStarted(string, string, int)       {}
func (nopReporter) ItemStarted(model.WorkItem, int, int) {}
func (nopReporter) AttemptFinished(retry.Attempt)        {}
func (nopReporter) ItemFinished(model.Event)             {}
func (nopReporter) RunFinished(model.Summary)            {}
