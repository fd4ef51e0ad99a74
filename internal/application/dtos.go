package application

import "time"

// LocationDTO represents a centre location
type LocationDTO struct {
	CentreID   string `json:"centreId"`
	LocationID string `json:"locationId"`
	Name       string `json:"name,omitempty"`
}

// ShipmentDTO represents a shipment in responses. The field names match
// domain.Shipment so clients can decode it directly.
type ShipmentDTO struct {
	ShipmentID     string      `json:"id"`
	Version        int64       `json:"version"`
	State          string      `json:"state"`
	CourierName    string      `json:"courierName"`
	TrackingNumber string      `json:"trackingNumber"`
	Origin         LocationDTO `json:"origin"`
	Destination    LocationDTO `json:"destination"`
	SpecimenCount  int         `json:"specimenCount"`
	TimeAdded      time.Time   `json:"timeAdded"`
	TimePacked     *time.Time  `json:"timePacked,omitempty"`
	TimeSent       *time.Time  `json:"timeSent,omitempty"`
	TimeReceived   *time.Time  `json:"timeReceived,omitempty"`
	TimeUnpacked   *time.Time  `json:"timeUnpacked,omitempty"`
	TimeCompleted  *time.Time  `json:"timeCompleted,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// ShipmentSpecimenDTO represents a specimen within a shipment
type ShipmentSpecimenDTO struct {
	ShipmentSpecimenID string    `json:"id"`
	ShipmentID         string    `json:"shipmentId"`
	SpecimenID         string    `json:"specimenId"`
	State              string    `json:"state"`
	Version            int64     `json:"version"`
	TimeAdded          time.Time `json:"timeAdded"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
