package api

import "github.com/biobank/shipment-lifecycle/internal/domain"

type locationRequest struct {
	CentreID   string `json:"centreId" binding:"required,entity_id"`
	LocationID string `json:"locationId" binding:"required,entity_id"`
	Name       string `json:"name" binding:"max=100"`
}

func (l locationRequest) toDomain() domain.LocationRef {
	return domain.LocationRef{CentreID: l.CentreID, LocationID: l.LocationID, Name: l.Name}
}

type createShipmentRequest struct {
	CourierName    string          `json:"courierName" binding:"required,max=100"`
	TrackingNumber string          `json:"trackingNumber" binding:"required,tracking_number"`
	Origin         locationRequest `json:"origin" binding:"required"`
	Destination    locationRequest `json:"destination" binding:"required"`
}

type updateShipmentInfoRequest struct {
	ExpectedVersion *int64          `json:"expectedVersion" binding:"required,gte=0"`
	CourierName     string          `json:"courierName" binding:"required,max=100"`
	TrackingNumber  string          `json:"trackingNumber" binding:"required,tracking_number"`
	Origin          locationRequest `json:"origin" binding:"required"`
	Destination     locationRequest `json:"destination" binding:"required"`
}

type transitionRequest struct {
	Transition      string                 `json:"transition" binding:"required,transition"`
	ExpectedVersion *int64                 `json:"expectedVersion" binding:"required,gte=0"`
	Times           domain.TransitionTimes `json:"times"`
}

// addSpecimensRequest is the body of POST /shipments/:id/specimens
type addSpecimensRequest struct {
	ExpectedVersion *int64   `json:"expectedVersion" binding:"required,gte=0"`
	SpecimenIDs     []string `json:"specimenIds" binding:"required,min=1,dive,entity_id"`
}

// tagSpecimensRequest is the body of POST /shipments/:id/specimens/tag
type tagSpecimensRequest struct {
	State               string   `json:"state" binding:"required,itemstate"`
	ShipmentSpecimenIDs []string `json:"shipmentSpecimenIds" binding:"required,min=1,dive,entity_id"`
}

// addExtraSpecimensRequest is the body of POST /shipments/:id/specimens/extra
type addExtraSpecimensRequest struct {
	SpecimenIDs []string `json:"specimenIds" binding:"required,min=1,dive,entity_id"`
}
