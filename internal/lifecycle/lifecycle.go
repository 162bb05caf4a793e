// Package lifecycle holds the order status transition table.
package lifecycle

import (
	"fmt"

	"github.com/Additional-Code/nightowl/internal/entity"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

var transitions = map[entity.OrderStatus][]entity.OrderStatus{
	entity.StatusPendingConfirmation: {entity.StatusNew, entity.StatusCancelled},
	entity.StatusNew:                 {entity.StatusInProgress, entity.StatusCancelled},
	entity.StatusInProgress:          {entity.StatusDelivered, entity.StatusCancelled},
}

// Allowed reports whether an order may move from one status to another.
// Terminal statuses allow nothing.
func Allowed(from, to entity.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s.
func Next(s entity.OrderStatus) []entity.OrderStatus {
	out := make([]entity.OrderStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Check validates a requested transition. A request for the current status of
// a non-terminal or terminal order returns (false, nil): nothing to write.
func Check(from, to entity.OrderStatus) (bool, error) {
	if !to.Valid() {
		return false, errorbank.Validation(fmt.Sprintf("unknown status %q", to))
	}
	if from == to {
		return false, nil
	}
	if from.IsTerminal() {
		return false, errorbank.IllegalTransition(
			fmt.Sprintf("order is %s and can no longer change", from),
			errorbank.WithDetail("from", from),
			errorbank.WithDetail("to", to),
		)
	}
	if !Allowed(from, to) {
		return false, errorbank.IllegalTransition(
			fmt.Sprintf("cannot move order from %s to %s", from, to),
			errorbank.WithDetail("from", from),
			errorbank.WithDetail("to", to),
		)
	}
	return true, nil
}

// Mutable reports whether flags such as rush may still change.
func Mutable(s entity.OrderStatus) error {
	if s.IsTerminal() {
		return errorbank.IllegalTransition(fmt.Sprintf("order is %s and can no longer change", s))
	}
	return nil
}
