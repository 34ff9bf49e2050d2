package task

import (
	"marcus/internal/types"
)

// validTransitions encodes the task state machine. Keys are source
// states; values are the permitted targets.
var validTransitions = map[Status]map[Status]bool{
	StatusTodo: {
		StatusInProgress: true, // assign
		StatusCancelled:  true, // cancel
	},
	StatusInProgress: {
		StatusInProgress: true, // progress report (lease renewal)
		StatusBlocked:    true, // block
		StatusDone:       true, // complete
		StatusTodo:       true, // lease expiry, orphan recovery
	},
	StatusBlocked: {
		StatusInProgress: true, // unblock, holder still leased
		StatusTodo:       true, // unblock after the holder's lease lapsed
		StatusDone:       true, // operator override
	},
	StatusDone:      {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// checkTransition returns an InvalidTransition error for illegal moves.
func checkTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return types.E(types.KindInvalidTransition,
			"task %s cannot move %s -> %s", id, from, to)
	}
	return nil
}
