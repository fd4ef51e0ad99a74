package domain

import "fmt"

// TransitionContext carries the counts the gating rules depend on
type TransitionContext struct {
	SpecimenCount int
	MissingCount  int
	PresentCount  int
}

// ContextFor builds a TransitionContext from a shipment and its presence counts
func ContextFor(s *Shipment, counts PresenceCounts) TransitionContext {
	return TransitionContext{
		SpecimenCount: s.SpecimenCount,
		MissingCount:  counts.Missing,
		PresentCount:  counts.Present,
	}
}

// Decision records whether a transition is allowed and why it is forbidden
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denied decision into a business-rule error
func (d Decision) Err(shipmentID string) error {
	if d.Allowed {
		return nil
	}
	return NewBusinessRuleError(shipmentID, d.Reason)
}

// CanTransition decides whether a transition may be requested from the
// current state. It has no side effects and performs no I/O.
func CanTransition(current ShipmentState, t Transition, tc TransitionContext) Decision {
	if !t.IsValid() {
		return deny("unknown transition %q", t)
	}

	if !t.IsLegalFrom(current) {
		return deny("cannot %s a shipment in state %s", t, current)
	}

	if t.IsForward() && tc.SpecimenCount <= 0 {
		return deny("shipment has no specimens")
	}

	switch t {
	case TransitionReturnToReceived:
		if tc.MissingCount > 0 {
			return deny("%d specimen(s) are still tagged as missing", tc.MissingCount)
		}
	case TransitionComplete:
		if tc.PresentCount > 0 {
			return deny("%d specimen(s) have not been unpacked", tc.PresentCount)
		}
	case TransitionRemove:
		if tc.SpecimenCount > 0 {
			return deny("shipment has %d specimen(s) and cannot be removed", tc.SpecimenCount)
		}
	}

	return allow()
}

// AvailableTransitions returns the transitions currently allowed
func AvailableTransitions(current ShipmentState, tc TransitionContext) []Transition {
	var out []Transition
	for _, t := range Transitions {
		if CanTransition(current, t, tc).Allowed {
			out = append(out, t)
		}
	}
	return out
}
