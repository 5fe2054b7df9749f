package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid_checkout_transition")

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var graph = map[Status][]Status{
	StatusCreated:         {StatusAwaitingPayment, StatusFailed, StatusCanceled, StatusExpired},
	StatusAwaitingPayment: {StatusPaid, StatusFailed, StatusCanceled, StatusExpired},
	StatusPaid:            {StatusProvisioning},
	StatusProvisioning:    {StatusProvisioned},
	StatusFailed:          {StatusAwaitingPayment, StatusPaid},
	StatusCanceled:        {StatusAwaitingPayment, StatusPaid},
	StatusExpired:         {StatusAwaitingPayment, StatusPaid},
}

func CanTransition(from, to Status) bool {
	for _, next := range graph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PlanEvent decides how a payment event carrying status to affects a
// checkout in from. It returns the single-hop steps to apply in order, or a
// non-applied outcome with no steps. Illegal moves return a *TransitionError.
func PlanEvent(from, to Status) ([]Status, Outcome, error) {
	if !to.EventStatus() {
		return nil, "", &TransitionError{From: from, To: to}
	}
	if from == to || (to == StatusPaid && from.Captured()) {
		return nil, OutcomeDuplicate, nil
	}
	if from.Captured() {
		return nil, OutcomeIgnoredOutOfOrder, nil
	}
	if to == StatusPaid && from == StatusCreated {
		return []Status{StatusAwaitingPayment, StatusPaid}, OutcomeApplied, nil
	}
	if !CanTransition(from, to) {
		return nil, "", &TransitionError{From: from, To: to}
	}
	return []Status{to}, OutcomeApplied, nil
}
