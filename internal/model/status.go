package model

import "github.com/cockroachdb/errors"

type ItemState string

const (
	StatePending   ItemState = "pending"
	StateFetching  ItemState = "fetching"
	StateCompleted ItemState = "completed"
	StateFailed    ItemState = "failed"
)

var allowedTransitions = map[ItemState]map[ItemState]bool{
	StatePending: {
		StateFetching: true,
	},
	StateFetching: {
		StateCompleted: true,
		StateFailed:    true,
		StatePending:   true, // sink write failed or run interrupted; retried next run
	},
	StateCompleted: {},
	StateFailed: {
		StatePending: true, // explicit retry-failed reset only
	},
}

func IsKnownState(state ItemState) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func IsTerminal(state ItemState) bool {
	return state == StateCompleted || state == StateFailed
}

func CanTransition(from, to ItemState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves a tracked item to the next state, rejecting any edge the
// collection state machine does not allow.
func Transition(item *TrackedItem, to ItemState) error {
	from := item.State
	if !CanTransition(from, to) {
		return errors.Newf("invalid item state transition: %q -> %q (video_id=%s)", from, to, item.ID)
	}
	item.State = to
	return nil
}
