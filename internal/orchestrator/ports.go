package orchestrator

import (
	"context"
	"time"
)

// Dialog asks the user for confirmation and timestamps. A false ok means the
// user cancelled.
type Dialog interface {
	Confirm(ctx context.Context, title, body string) (ok bool, err error)
	PromptDateTime(ctx context.Context, title, label string, def time.Time) (value time.Time, ok bool, err error)
}

// Notifier shows fire-and-forget messages to the user
type Notifier interface {
	Success(message string)
	Error(message string)
}

// View names a screen the user can be sent to after a workflow
type View string

const (
	ViewShipments View = "shipments"
	ViewShipment  View = "shipment"
	ViewSpecimens View = "specimens"
)

// Navigator moves the user to another view
type Navigator interface {
	Navigate(view View, shipmentID string)
}
