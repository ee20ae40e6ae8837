package checkpoint

import (
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"yt-comment-collector/internal/model"
)

// Ledger is the in-memory view of terminal outcomes, loaded once per run and
// owned by the caller. It never performs I/O.
type Ledger struct {
	completed []string
	failed    []string
	state     map[string]model.ItemState
	recovered error
}

func NewLedger() *Ledger {
	return &Ledger{state: make(map[string]model.ItemState)}
}

func (l *Ledger) State(id string) model.ItemState {
	if s, ok := l.state[id]; ok {
		return s
	}
	return model.StatePending
}

func (l *Ledger) IsTerminal(id string) bool {
	return model.IsTerminal(l.State(id))
}

func (l *Ledger) Completed() []string {
	return append([]string(nil), l.completed...)
}

func (l *Ledger) Failed() []string {
	return append([]string(nil), l.failed...)
}

func (l *Ledger) Len() int {
	return len(l.state)
}

// Recovered reports the corruption that was discarded while loading, if any.
func (l *Ledger) Recovered() error {
	return l.recovered
}

// Record adds id to the terminal set for state. Recording the same outcome
// twice is a no-op; moving between the two sets is a conflict.
func (l *Ledger) Record(id string, state model.ItemState) error {
	if !model.IsTerminal(state) {
		return errors.AssertionFailedf("record non-terminal state %q for %s", state, id)
	}
	if cur, ok := l.state[id]; ok {
		if cur == state {
			return nil
		}
		return errors.Wrapf(ErrConflict, "%s is already %s", id, cur)
	}
	l.state[id] = state
	if state == model.StateCompleted {
		l.completed = append(l.completed, id)
	} else {
		l.failed = append(l.failed, id)
	}
	return nil
}

// Forget moves a failed id back to pending. Completed ids are never forgotten.
func (l *Ledger) Forget(id string) bool {
	if l.state[id] != model.StateFailed {
		return false
	}
	delete(l.state, id)
	for i, v := range l.failed {
		if v == id {
			l.failed = append(l.failed[:i], l.failed[i+1:]...)
			break
		}
	}
	return true
}

func (l *Ledger) clone() *Ledger {
	out := NewLedger()
	out.completed = l.Completed()
	out.failed = l.Failed()
	for k, v := range l.state {
		out.state[k] = v
	}
	out.recovered = l.recovered
	return out
}

// ValidID rejects identifiers that cannot be stored one per line.
func ValidID(id string) error {
	if id == "" {
		return errors.New("empty identifier")
	}
	if !utf8.ValidString(id) {
		return errors.Newf("identifier %q is not valid UTF-8", id)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.Newf("identifier %q contains whitespace or control characters", id)
		}
	}
	return nil
}
