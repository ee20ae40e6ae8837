// Package progress renders collector events for a terminal: plain lines for
// logs and pipes, or a live bubbletea view for interactive sessions.
package progress

import (
	"fmt"
	"io"
	"sync"

	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/retry"
)

// LineReporter prints one line per video outcome.
type LineReporter struct {
	out io.Writer

	mu       sync.Mutex
	position int
	total    int
}

func NewLineReporter(out io.Writer) *LineReporter {
	return &LineReporter{out: out}
}

func (r *LineReporter) RunStarted(runID, channel string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	fmt.Fprintf(r.out, "collecting %d video(s) from %s (run %s)\n", total, channel, runID)
}

func (r *LineReporter) ItemStarted(item model.WorkItem, position, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position, r.total = position, total
	fmt.Fprintf(r.out, "[%d/%d] start %s\n", position, total, item.ID)
}

func (r *LineReporter) AttemptFinished(a retry.Attempt) {
	if a.Err == nil || a.Wait <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "[%d/%d] retry %s attempt %d/%d failed, waiting %s: %s\n",
		r.position, r.total, a.Item.ID, a.Number, a.Max, a.Wait, oneLine(a.Err.Error()))
}

func (r *LineReporter) ItemFinished(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := fmt.Sprintf("[%d/%d]", ev.Position, ev.Total)
	switch ev.Outcome {
	case model.OutcomeSkipped:
		fmt.Fprintf(r.out, "%s skip  %s (already recorded)\n", prefix, ev.Item.ID)
	case model.OutcomeCompleted:
		fmt.Fprintf(r.out, "%s done  %s (%d comments, %d attempt(s))\n", prefix, ev.Item.ID, ev.Comments, ev.Attempts)
	case model.OutcomeFailed:
		fmt.Fprintf(r.out, "%s fail  %s: %s\n", prefix, ev.Item.ID, oneLine(ev.Err))
	case model.OutcomeDeferred:
		fmt.Fprintf(r.out, "%s defer %s (left pending): %s\n", prefix, ev.Item.ID, oneLine(ev.Err))
	}
}

func (r *LineReporter) RunFinished(model.Summary) {}

// Comments is a no-op; per-video counts are printed on completion.
func (r *LineReporter) Comments(model.WorkItem, int) {}

func oneLine(s string) string {
	const limit = 200
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
		if len(out) >= limit {
			return string(out) + "..."
		}
	}
	return string(out)
}
