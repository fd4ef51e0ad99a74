package domain

import (
	"fmt"
	"time"
)

// Transition names a lifecycle operation on a shipment
type Transition string

const (
	TransitionPack             Transition = "pack"
	TransitionSkipToSent       Transition = "skipToSent"
	TransitionSend             Transition = "send"
	TransitionReceive          Transition = "receive"
	TransitionUnpack           Transition = "unpack"
	TransitionComplete         Transition = "complete"
	TransitionTagAsLost        Transition = "tagAsLost"
	TransitionReturnToSent     Transition = "returnToSent"
	TransitionReturnToReceived Transition = "returnToReceived"
	TransitionRemove           Transition = "remove"
)

// TimeField names a shipment timestamp set by a transition
type TimeField string

const (
	FieldTimePacked    TimeField = "timePacked"
	FieldTimeSent      TimeField = "timeSent"
	FieldTimeReceived  TimeField = "timeReceived"
	FieldTimeUnpacked  TimeField = "timeUnpacked"
	FieldTimeCompleted TimeField = "timeCompleted"
)

type transitionRule struct {
	from     []ShipmentState
	to       ShipmentState
	forward  bool
	requires []TimeField
}

// transitionTable is the single source of truth for legal transitions.
// remove has no target state: the shipment is deleted.
var transitionTable = map[Transition]transitionRule{
	TransitionPack: {
		from:     []ShipmentState{StateCreated},
		to:       StatePacked,
		forward:  true,
		requires: []TimeField{FieldTimePacked},
	},
	TransitionSkipToSent: {
		from:     []ShipmentState{StateCreated},
		to:       StateSent,
		forward:  true,
		requires: []TimeField{FieldTimePacked, FieldTimeSent},
	},
	TransitionSend: {
		from:     []ShipmentState{StatePacked},
		to:       StateSent,
		forward:  true,
		requires: []TimeField{FieldTimeSent},
	},
	TransitionReceive: {
		from:     []ShipmentState{StateSent},
		to:       StateReceived,
		forward:  true,
		requires: []TimeField{FieldTimeReceived},
	},
	TransitionUnpack: {
		from:     []ShipmentState{StateReceived},
		to:       StateUnpacked,
		forward:  true,
		requires: []TimeField{FieldTimeUnpacked},
	},
	TransitionComplete: {
		from:     []ShipmentState{StateUnpacked},
		to:       StateCompleted,
		forward:  true,
		requires: []TimeField{FieldTimeCompleted},
	},
	TransitionTagAsLost: {
		from: []ShipmentState{StateCreated, StatePacked, StateSent, StateReceived, StateUnpacked},
		to:   StateLost,
	},
	TransitionReturnToSent: {
		from: []ShipmentState{StateReceived},
		to:   StateSent,
	},
	TransitionReturnToReceived: {
		from: []ShipmentState{StateUnpacked},
		to:   StateReceived,
	},
	TransitionRemove: {
		from: []ShipmentState{StateCreated},
	},
}

// Transitions lists every transition in workflow order
var Transitions = []Transition{
	TransitionPack,
	TransitionSkipToSent,
	TransitionSend,
	TransitionReceive,
	TransitionUnpack,
	TransitionComplete,
	TransitionTagAsLost,
	TransitionReturnToSent,
	TransitionReturnToReceived,
	TransitionRemove,
}

// IsValid checks if the transition is known
func (t Transition) IsValid() bool {
	_, ok := transitionTable[t]
	return ok
}

// Target returns the state the shipment is in after the transition
func (t Transition) Target() ShipmentState {
	return transitionTable[t].to
}

// IsForward reports whether the transition moves the shipment forward
func (t Transition) IsForward() bool {
	return transitionTable[t].forward
}

// LegalFrom returns the states from which the transition may be invoked
func (t Transition) LegalFrom() []ShipmentState {
	rule := transitionTable[t]
	out := make([]ShipmentState, len(rule.from))
	copy(out, rule.from)
	return out
}

// RequiredTimes returns the timestamps the transition needs as input
func (t Transition) RequiredTimes() []TimeField {
	rule := transitionTable[t]
	out := make([]TimeField, len(rule.requires))
	copy(out, rule.requires)
	return out
}

// IsLegalFrom reports whether the transition may start from the given state
func (t Transition) IsLegalFrom(state ShipmentState) bool {
	for _, s := range transitionTable[t].from {
		if s == state {
			return true
		}
	}
	return false
}

// TransitionTimes carries the timestamps supplied with a transition
type TransitionTimes struct {
	TimePacked    *time.Time `json:"timePacked,omitempty"`
	TimeSent      *time.Time `json:"timeSent,omitempty"`
	TimeReceived  *time.Time `json:"timeReceived,omitempty"`
	TimeUnpacked  *time.Time `json:"timeUnpacked,omitempty"`
	TimeCompleted *time.Time `json:"timeCompleted,omitempty"`
}

// Get returns the timestamp for a field
func (tt TransitionTimes) Get(field TimeField) *time.Time {
	switch field {
	case FieldTimePacked:
		return tt.TimePacked
	case FieldTimeSent:
		return tt.TimeSent
	case FieldTimeReceived:
		return tt.TimeReceived
	case FieldTimeUnpacked:
		return tt.TimeUnpacked
	case FieldTimeCompleted:
		return tt.TimeCompleted
	}
	return nil
}

// Set stores a timestamp for a field, normalised to UTC
func (tt *TransitionTimes) Set(field TimeField, t time.Time) {
	v := t.UTC()
	switch field {
	case FieldTimePacked:
		tt.TimePacked = &v
	case FieldTimeSent:
		tt.TimeSent = &v
	case FieldTimeReceived:
		tt.TimeReceived = &v
	case FieldTimeUnpacked:
		tt.TimeUnpacked = &v
	case FieldTimeCompleted:
		tt.TimeCompleted = &v
	}
}

// ValidateTimes checks that every required timestamp is present and that the
// new timestamps do not precede the ones recorded by earlier transitions.
func ValidateTimes(s *Shipment, t Transition, times TransitionTimes) error {
	for _, field := range t.RequiredTimes() {
		if times.Get(field) == nil {
			return NewBusinessRuleError(s.ShipmentID, fmt.Sprintf("%s is required to %s a shipment", field, t))
		}
	}

	switch t {
	case TransitionSkipToSent:
		if times.TimeSent.Before(*times.TimePacked) {
			return NewTimeOrderViolation(s.ShipmentID, TimeSentBeforePacked)
		}
	case TransitionSend:
		if s.TimePacked != nil && times.TimeSent.Before(*s.TimePacked) {
			return NewTimeOrderViolation(s.ShipmentID, TimeSentBeforePacked)
		}
	case TransitionReceive:
		if s.TimeSent != nil && times.TimeReceived.Before(*s.TimeSent) {
			return NewTimeOrderViolation(s.ShipmentID, TimeReceivedBeforeSent)
		}
	case TransitionUnpack:
		if s.TimeReceived != nil && times.TimeUnpacked.Before(*s.TimeReceived) {
			return NewTimeOrderViolation(s.ShipmentID, TimeUnpackedBeforeReceived)
		}
	case TransitionComplete:
		if s.TimeUnpacked != nil && times.TimeCompleted.Before(*s.TimeUnpacked) {
			return NewTimeOrderViolation(s.ShipmentID, TimeCompletedBeforeUnpacked)
		}
	}

	return nil
}
