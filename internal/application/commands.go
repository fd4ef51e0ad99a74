package application

import (
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/api"
)

// CreateShipmentCommand represents the command to create a new shipment
type CreateShipmentCommand struct {
	CourierName    string
	TrackingNumber string
	Origin         domain.LocationRef
	Destination    domain.LocationRef
}

// UpdateShipmentInfoCommand represents the command to change courier and location details
type UpdateShipmentInfoCommand struct {
	ShipmentID      string
	ExpectedVersion int64
	CourierName     string
	TrackingNumber  string
	Origin          domain.LocationRef
	Destination     domain.LocationRef
}

// TransitionCommand represents the command to move a shipment to another state
type TransitionCommand struct {
	ShipmentID      string
	ExpectedVersion int64
	Transition      domain.Transition
	Times           domain.TransitionTimes
}

// RemoveShipmentCommand represents the command to delete an empty shipment
type RemoveShipmentCommand struct {
	ShipmentID      string
	ExpectedVersion int64
}

// AddSpecimensCommand represents the command to pack specimens into a shipment
type AddSpecimensCommand struct {
	ShipmentID      string
	ExpectedVersion int64
	SpecimenIDs     []string
}

// RemoveSpecimenCommand represents the command to take a specimen out of a shipment
type RemoveSpecimenCommand struct {
	ShipmentID         string
	ShipmentSpecimenID string
}

// TagSpecimensCommand represents the command to change the item state of shipment specimens
type TagSpecimensCommand struct {
	ShipmentID          string
	ShipmentSpecimenIDs []string
	State               domain.ItemState
}

// AddExtraSpecimensCommand represents the command to record specimens that
// arrived without being packed
type AddExtraSpecimensCommand struct {
	ShipmentID  string
	SpecimenIDs []string
}

// GetShipmentQuery represents the query to get a shipment by ID
type GetShipmentQuery struct {
	ShipmentID string
}

// ListShipmentsQuery represents the query to list shipments
type ListShipmentsQuery struct {
	Filter domain.ShipmentFilter
	Page   api.PageRequest
}

// ListSpecimensQuery represents the query to list the specimens of a shipment
type ListSpecimensQuery struct {
	ShipmentID string
	State      domain.ItemState
	Page       api.PageRequest
}
