package orchestrator

import (
	"github.com/biobank/shipment-lifecycle/internal/domain"
)

// Prompt asks for one timestamp
type Prompt struct {
	Field domain.TimeField
	Label string
}

// Workflow describes how a transition is presented to the user
type Workflow struct {
	Transition domain.Transition
	Title      string
	Prompts    []Prompt

	// Confirmation is asked before any timestamp prompt. Empty means none.
	Confirmation string

	SuccessMessage string
	NextView       View
}

var workflows = map[domain.Transition]Workflow{
	domain.TransitionPack: {
		Transition:     domain.TransitionPack,
		Title:          "Pack shipment",
		Prompts:        []Prompt{{Field: domain.FieldTimePacked, Label: "Time packed"}},
		SuccessMessage: "Shipment packed",
		NextView:       ViewShipment,
	},
	domain.TransitionSkipToSent: {
		Transition: domain.TransitionSkipToSent,
		Title:      "Skip to sent",
		Prompts: []Prompt{
			{Field: domain.FieldTimePacked, Label: "Time packed"},
			{Field: domain.FieldTimeSent, Label: "Time sent"},
		},
		SuccessMessage: "Shipment sent",
		NextView:       ViewShipment,
	},
	domain.TransitionSend: {
		Transition:     domain.TransitionSend,
		Title:          "Send shipment",
		Prompts:        []Prompt{{Field: domain.FieldTimeSent, Label: "Time sent"}},
		SuccessMessage: "Shipment sent",
		NextView:       ViewShipment,
	},
	domain.TransitionReceive: {
		Transition:     domain.TransitionReceive,
		Title:          "Receive shipment",
		Prompts:        []Prompt{{Field: domain.FieldTimeReceived, Label: "Time received"}},
		SuccessMessage: "Shipment received",
		NextView:       ViewShipment,
	},
	domain.TransitionUnpack: {
		Transition:     domain.TransitionUnpack,
		Title:          "Unpack shipment",
		Prompts:        []Prompt{{Field: domain.FieldTimeUnpacked, Label: "Time unpacked"}},
		SuccessMessage: "Shipment unpacked",
		NextView:       ViewSpecimens,
	},
	domain.TransitionComplete: {
		Transition:     domain.TransitionComplete,
		Title:          "Complete shipment",
		Prompts:        []Prompt{{Field: domain.FieldTimeCompleted, Label: "Time completed"}},
		SuccessMessage: "Shipment completed",
		NextView:       ViewShipment,
	},
	domain.TransitionTagAsLost: {
		Transition:     domain.TransitionTagAsLost,
		Title:          "Tag as lost",
		Confirmation:   "Are you sure you want to tag this shipment as LOST? This cannot be undone.",
		SuccessMessage: "Shipment tagged as lost",
		NextView:       ViewShipment,
	},
	domain.TransitionReturnToSent: {
		Transition:     domain.TransitionReturnToSent,
		Title:          "Return to sent",
		Confirmation:   "Return this shipment to the SENT state? The time received will be cleared.",
		SuccessMessage: "Shipment returned to sent",
		NextView:       ViewShipment,
	},
	domain.TransitionReturnToReceived: {
		Transition:     domain.TransitionReturnToReceived,
		Title:          "Return to received",
		Confirmation:   "Return this shipment to the RECEIVED state? The time unpacked will be cleared.",
		SuccessMessage: "Shipment returned to received",
		NextView:       ViewShipment,
	},
	domain.TransitionRemove: {
		Transition:     domain.TransitionRemove,
		Title:          "Remove shipment",
		Confirmation:   "Are you sure you want to remove this shipment?",
		SuccessMessage: "Shipment removed",
		NextView:       ViewShipments,
	},
}

// WorkflowFor returns the workflow descriptor of a transition
func WorkflowFor(t domain.Transition) (Workflow, bool) {
	w, ok := workflows[t]
	return w, ok
}
