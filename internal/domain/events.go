package domain

import "time"

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// ShipmentCreatedEvent is published when a shipment is added
type ShipmentCreatedEvent struct {
	ShipmentID    string    `json:"shipmentId"`
	CourierName   string    `json:"courierName"`
	OriginID      string    `json:"originLocationId"`
	DestinationID string    `json:"destinationLocationId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (e *ShipmentCreatedEvent) EventType() string     { return "biobank.shipment.created" }
func (e *ShipmentCreatedEvent) OccurredAt() time.Time { return e.CreatedAt }

// ShipmentTransitionedEvent is published after every state change
type ShipmentTransitionedEvent struct {
	ShipmentID     string        `json:"shipmentId"`
	Transition     Transition    `json:"transition"`
	FromState      ShipmentState `json:"fromState"`
	ToState        ShipmentState `json:"toState"`
	Version        int64         `json:"version"`
	TransitionedAt time.Time     `json:"transitionedAt"`
}

func (e *ShipmentTransitionedEvent) EventType() string     { return "biobank.shipment.transitioned" }
func (e *ShipmentTransitionedEvent) OccurredAt() time.Time { return e.TransitionedAt }

// ShipmentRemovedEvent is published when an empty shipment is deleted
type ShipmentRemovedEvent struct {
	ShipmentID string    `json:"shipmentId"`
	RemovedAt  time.Time `json:"removedAt"`
}

func (e *ShipmentRemovedEvent) EventType() string     { return "biobank.shipment.removed" }
func (e *ShipmentRemovedEvent) OccurredAt() time.Time { return e.RemovedAt }

// SpecimensTaggedEvent is published when shipment specimens change item state
type SpecimensTaggedEvent struct {
	ShipmentID          string    `json:"shipmentId"`
	ShipmentSpecimenIDs []string  `json:"shipmentSpecimenIds"`
	State               ItemState `json:"state"`
	TaggedAt            time.Time `json:"taggedAt"`
}

func (e *SpecimensTaggedEvent) EventType() string     { return "biobank.shipment.specimens-tagged" }
func (e *SpecimensTaggedEvent) OccurredAt() time.Time { return e.TaggedAt }
