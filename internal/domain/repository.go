package domain

import "context"

// ShipmentFilter narrows shipment listings. Empty fields match everything.
type ShipmentFilter struct {
	State         ShipmentState
	CourierName   string
	OriginID      string
	DestinationID string
}

// ShipmentRepository defines the interface for shipment persistence.
// Update and Delete are guarded by the expected version and return a
// version-conflict LifecycleError when the stored version differs.
type ShipmentRepository interface {
	Create(ctx context.Context, shipment *Shipment) error
	Update(ctx context.Context, shipment *Shipment, expectedVersion int64) error
	FindByID(ctx context.Context, shipmentID string) (*Shipment, error)
	List(ctx context.Context, filter ShipmentFilter, offset, limit int64) ([]*Shipment, int64, error)
	Delete(ctx context.Context, shipmentID string, expectedVersion int64) error
}

// ShipmentSpecimenRepository defines the interface for shipment specimen persistence
type ShipmentSpecimenRepository interface {
	AddAll(ctx context.Context, items []*ShipmentSpecimen) error
	FindByShipment(ctx context.Context, shipmentID string, state ItemState, offset, limit int64) ([]*ShipmentSpecimen, int64, error)
	FindByIDs(ctx context.Context, shipmentID string, ids []string) ([]*ShipmentSpecimen, error)
	FindBySpecimenIDs(ctx context.Context, specimenIDs []string) ([]*ShipmentSpecimen, error)
	CountByState(ctx context.Context, shipmentID string) (PresenceCounts, error)
	UpdateAll(ctx context.Context, items []*ShipmentSpecimen) error
	Delete(ctx context.Context, shipmentID, shipmentSpecimenID string) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	PublishAll(ctx context.Context, events []DomainEvent) error
}
