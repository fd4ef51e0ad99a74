package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
)

// ShipmentRepository is an in-process implementation of
// domain.ShipmentRepository. It stores copies so callers cannot mutate
// persisted state without going through Update.
type ShipmentRepository struct {
	mu        sync.RWMutex
	shipments map[string]*domain.Shipment
}

// NewShipmentRepository creates an empty repository
func NewShipmentRepository() *ShipmentRepository {
	return &ShipmentRepository{shipments: make(map[string]*domain.Shipment)}
}

func (r *ShipmentRepository) Create(ctx context.Context, shipment *domain.Shipment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shipments[shipment.ShipmentID]; exists {
		return domain.NewBusinessRuleError(shipment.ShipmentID, "shipment already exists")
	}
	r.shipments[shipment.ShipmentID] = shipment.Clone()
	return nil
}

func (r *ShipmentRepository) Update(ctx context.Context, shipment *domain.Shipment, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.shipments[shipment.ShipmentID]
	if !exists {
		return domain.NewNotFoundError(shipment.ShipmentID)
	}
	if current.Version != expectedVersion {
		return domain.NewVersionConflict(shipment.ShipmentID, expectedVersion, current.Version)
	}

	stored := shipment.Clone()
	stored.UpdatedAt = time.Now().UTC()
	r.shipments[shipment.ShipmentID] = stored
	return nil
}

func (r *ShipmentRepository) FindByID(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.shipments[shipmentID]
	if !exists {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *ShipmentRepository) List(ctx context.Context, filter domain.ShipmentFilter, offset, limit int64) ([]*domain.Shipment, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	var matched []*domain.Shipment
	for _, s := range r.shipments {
		if matches(s, filter) {
			matched = append(matched, s.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TimeAdded.Equal(matched[j].TimeAdded) {
			return matched[i].ShipmentID < matched[j].ShipmentID
		}
		return matched[i].TimeAdded.Before(matched[j].TimeAdded)
	})

	return page(matched, offset, limit), int64(len(matched)), nil
}

func (r *ShipmentRepository) Delete(ctx context.Context, shipmentID string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.shipments[shipmentID]
	if !exists {
		return domain.NewNotFoundError(shipmentID)
	}
	if current.Version != expectedVersion {
		return domain.NewVersionConflict(shipmentID, expectedVersion, current.Version)
	}

	delete(r.shipments, shipmentID)
	return nil
}

func matches(s *domain.Shipment, f domain.ShipmentFilter) bool {
	return (f.State == "" || s.State == f.State) &&
		(f.CourierName == "" || s.CourierName == f.CourierName) &&
		(f.OriginID == "" || s.Origin.LocationID == f.OriginID) &&
		(f.DestinationID == "" || s.Destination.LocationID == f.DestinationID)
}

func page[T any](items []T, offset, limit int64) []T {
	if offset >= int64(len(items)) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > int64(len(items)) {
		end = int64(len(items))
	}
	return items[offset:end]
}
