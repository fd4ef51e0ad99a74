package application

import "github.com/biobank/shipment-lifecycle/internal/domain"

// ToLocationDTO converts a domain LocationRef to LocationDTO
func ToLocationDTO(l domain.LocationRef) LocationDTO {
	return LocationDTO{
		CentreID:   l.CentreID,
		LocationID: l.LocationID,
		Name:       l.Name,
	}
}

// ToShipmentDTO converts a domain Shipment to ShipmentDTO
func ToShipmentDTO(s *domain.Shipment) *ShipmentDTO {
	if s == nil {
		return nil
	}

	return &ShipmentDTO{
		ShipmentID:     s.ShipmentID,
		Version:        s.Version,
		State:          string(s.State),
		CourierName:    s.CourierName,
		TrackingNumber: s.TrackingNumber,
		Origin:         ToLocationDTO(s.Origin),
		Destination:    ToLocationDTO(s.Destination),
		SpecimenCount:  s.SpecimenCount,
		TimeAdded:      s.TimeAdded,
		TimePacked:     s.TimePacked,
		TimeSent:       s.TimeSent,
		TimeReceived:   s.TimeReceived,
		TimeUnpacked:   s.TimeUnpacked,
		TimeCompleted:  s.TimeCompleted,
		UpdatedAt:      s.UpdatedAt,
	}
}

// ToShipmentSpecimenDTO converts a domain ShipmentSpecimen to ShipmentSpecimenDTO
func ToShipmentSpecimenDTO(item *domain.ShipmentSpecimen) ShipmentSpecimenDTO {
	return ShipmentSpecimenDTO{
		ShipmentSpecimenID: item.ShipmentSpecimenID,
		ShipmentID:         item.ShipmentID,
		SpecimenID:         item.SpecimenID,
		State:              string(item.State),
		Version:            item.Version,
		TimeAdded:          item.TimeAdded,
		UpdatedAt:          item.UpdatedAt,
	}
}

// ToShipmentSpecimenDTOs converts a list of shipment specimens
func ToShipmentSpecimenDTOs(items []*domain.ShipmentSpecimen) []ShipmentSpecimenDTO {
	dtos := make([]ShipmentSpecimenDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, ToShipmentSpecimenDTO(item))
	}
	return dtos
}
