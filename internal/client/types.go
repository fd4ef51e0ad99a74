package client

import "github.com/biobank/shipment-lifecycle/internal/domain"

// CreateShipmentRequest is the body for creating a shipment
type CreateShipmentRequest struct {
	CourierName    string             `json:"courierName"`
	TrackingNumber string             `json:"trackingNumber"`
	Origin         domain.LocationRef `json:"origin"`
	Destination    domain.LocationRef `json:"destination"`

	// IdempotencyKey is sent as the Idempotency-Key header
	IdempotencyKey string `json:"-"`
}

type transitionRequest struct {
	Transition      string                 `json:"transition"`
	ExpectedVersion int64                  `json:"expectedVersion"`
	Times           domain.TransitionTimes `json:"times"`
}

type addSpecimensRequest struct {
	ExpectedVersion int64    `json:"expectedVersion"`
	SpecimenIDs     []string `json:"specimenIds"`
}

type tagSpecimensRequest struct {
	State               string   `json:"state"`
	ShipmentSpecimenIDs []string `json:"shipmentSpecimenIds"`
}

type specimenPage struct {
	Data    []*domain.ShipmentSpecimen `json:"data"`
	HasNext bool                       `json:"hasNext"`
}

type shipmentPage struct {
	Data    []*domain.Shipment `json:"data"`
	HasNext bool               `json:"hasNext"`
}
