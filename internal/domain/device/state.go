package device

import (
	"errors"
	"fmt"
	"slices"
)

type Status string

const (
	// StatusAbsent is the state of a fingerprint that has no activation row yet.
	StatusAbsent   Status = ""
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
	StatusRevoked  Status = "revoked"
)

type Event string

const (
	EventAutoApprove     Event = "auto_approve"
	EventRequestApproval Event = "request_approval"
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventRevoke          Event = "revoke"
)

var ErrInvalidTransition = errors.New("invalid device status transition")

type transition struct {
	From  Status
	Event Event
}

var transitions = map[transition]Status{
	{StatusAbsent, EventAutoApprove}:     StatusActive,
	{StatusAbsent, EventRequestApproval}: StatusPending,
	{StatusPending, EventApprove}:        StatusActive,
	{StatusRejected, EventApprove}:       StatusActive,
	{StatusRevoked, EventApprove}:        StatusActive,
	{StatusPending, EventReject}:         StatusRejected,
	{StatusPending, EventRevoke}:         StatusRevoked,
	{StatusActive, EventRevoke}:          StatusRevoked,
}

// Transition is the single place device status changes are decided.
func Transition(from Status, event Event) (Status, error) {
	to, ok := transitions[transition{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %q", ErrInvalidTransition, event, from)
	}
	return to, nil
}

// EventsFrom lists the events accepted in the given state, sorted.
func EventsFrom(from Status) []Event {
	events := make([]Event, 0)
	for t := range transitions {
		if t.From == from {
			events = append(events, t.Event)
		}
	}
	slices.Sort(events)
	return events
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusRevoked:
		return true
	}
	return false
}
