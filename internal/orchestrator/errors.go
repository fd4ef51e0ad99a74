package orchestrator

import (
	"errors"

	"github.com/biobank/shipment-lifecycle/internal/domain"
)

// ErrUnknownWorkflow is returned for transitions without a workflow
var ErrUnknownWorkflow = errors.New("no workflow for transition")

var timeOrderExplanations = map[domain.TimeOrderKind]string{
	domain.TimeSentBeforePacked:        "The time sent cannot be earlier than the time the shipment was packed.",
	domain.TimeReceivedBeforeSent:      "The time received cannot be earlier than the time the shipment was sent.",
	domain.TimeUnpackedBeforeReceived:  "The time unpacked cannot be earlier than the time the shipment was received.",
	domain.TimeCompletedBeforeUnpacked: "The time completed cannot be earlier than the time the shipment was unpacked.",
}

// Explain turns a lifecycle error into a message for the user
func Explain(err error) string {
	le, ok := domain.AsLifecycleError(err)
	if !ok {
		return "The request failed. Please try again later."
	}

	switch le.Kind {
	case domain.KindVersionConflict:
		return "The shipment was modified by someone else. Reload it and try again."
	case domain.KindTimeOrder:
		if msg, ok := timeOrderExplanations[le.TimeOrder]; ok {
			return msg
		}
		return le.Message
	case domain.KindBusinessRule:
		return le.Message
	case domain.KindNotFound:
		return "The shipment no longer exists."
	default:
		return "The request failed. Please try again later."
	}
}
