package subscription

import "slices"

// Transition represents a directed edge in the lifecycle state machine.
type Transition struct {
	From Status
	To   Status
}

// validTransitions defines every allowed status change. Terminal states
// have no outgoing edges; the self-edge on active is the renewal roll.
var validTransitions = map[Transition]bool{
	{StatusPending, StatusActive}:    true, // first payment confirmed
	{StatusPending, StatusCancelled}: true, // abandoned before payment
	{StatusActive, StatusActive}:     true, // successful renewal rolls the period
	{StatusActive, StatusGrace}:      true, // renewal charge failed
	{StatusActive, StatusCancelled}:  true, // immediate cancellation
	{StatusGrace, StatusActive}:      true, // late payment recovered
	{StatusGrace, StatusCancelled}:   true, // cancelled while dunning
	{StatusGrace, StatusExpired}:     true, // grace window ran out
}

// CanTransition reports whether moving from one status to another is a
// valid lifecycle change.
func CanTransition(from, to Status) bool {
	return validTransitions[Transition{from, to}]
}

// TransitionTargets returns all statuses reachable from the given one,
// sorted for deterministic callers.
func TransitionTargets(from Status) []Status {
	targets := make([]Status, 0, 3)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
