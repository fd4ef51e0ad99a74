package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/biobank/shipment-lifecycle/internal/domain"
)

// ShipmentSpecimenRepository is an in-process implementation of
// domain.ShipmentSpecimenRepository
type ShipmentSpecimenRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.ShipmentSpecimen
}

// NewShipmentSpecimenRepository creates an empty repository
func NewShipmentSpecimenRepository() *ShipmentSpecimenRepository {
	return &ShipmentSpecimenRepository{items: make(map[string]*domain.ShipmentSpecimen)}
}

func copyItem(item *domain.ShipmentSpecimen) *domain.ShipmentSpecimen {
	c := *item
	return &c
}

func (r *ShipmentSpecimenRepository) AddAll(ctx context.Context, items []*domain.ShipmentSpecimen) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if _, exists := r.items[item.ShipmentSpecimenID]; exists {
			return domain.NewBusinessRuleError(item.ShipmentID, "shipment specimen already exists: "+item.ShipmentSpecimenID)
		}
	}
	for _, item := range items {
		r.items[item.ShipmentSpecimenID] = copyItem(item)
	}
	return nil
}

func (r *ShipmentSpecimenRepository) FindByShipment(ctx context.Context, shipmentID string, state domain.ItemState, offset, limit int64) ([]*domain.ShipmentSpecimen, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	var matched []*domain.ShipmentSpecimen
	for _, item := range r.items {
		if item.ShipmentID == shipmentID && (state == "" || item.State == state) {
			matched = append(matched, copyItem(item))
		}
	}
	r.mu.RUnlock()

	sortItems(matched)
	return page(matched, offset, limit), int64(len(matched)), nil
}

func (r *ShipmentSpecimenRepository) FindByIDs(ctx context.Context, shipmentID string, ids []string) ([]*domain.ShipmentSpecimen, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ShipmentSpecimen, 0, len(ids))
	for _, id := range ids {
		if item, ok := r.items[id]; ok && item.ShipmentID == shipmentID {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

func (r *ShipmentSpecimenRepository) FindBySpecimenIDs(ctx context.Context, specimenIDs []string) ([]*domain.ShipmentSpecimen, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(specimenIDs))
	for _, id := range specimenIDs {
		wanted[id] = true
	}

	r.mu.RLock()
	var out []*domain.ShipmentSpecimen
	for _, item := range r.items {
		if wanted[item.SpecimenID] {
			out = append(out, copyItem(item))
		}
	}
	r.mu.RUnlock()

	sortItems(out)
	return out, nil
}

func (r *ShipmentSpecimenRepository) CountByState(ctx context.Context, shipmentID string) (domain.PresenceCounts, error) {
	if err := ctx.Err(); err != nil {
		return domain.PresenceCounts{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var counts domain.PresenceCounts
	for _, item := range r.items {
		if item.ShipmentID == shipmentID {
			counts.Add(item.State, 1)
		}
	}
	return counts, nil
}

func (r *ShipmentSpecimenRepository) UpdateAll(ctx context.Context, items []*domain.ShipmentSpecimen) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if _, exists := r.items[item.ShipmentSpecimenID]; !exists {
			return domain.NewBusinessRuleError(item.ShipmentID, "shipment specimen not found: "+item.ShipmentSpecimenID)
		}
	}
	for _, item := range items {
		r.items[item.ShipmentSpecimenID] = copyItem(item)
	}
	return nil
}

func (r *ShipmentSpecimenRepository) Delete(ctx context.Context, shipmentID, shipmentSpecimenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[shipmentSpecimenID]
	if !exists || item.ShipmentID != shipmentID {
		return domain.NewBusinessRuleError(shipmentID, "shipment specimen not found: "+shipmentSpecimenID)
	}
	delete(r.items, shipmentSpecimenID)
	return nil
}

func sortItems(items []*domain.ShipmentSpecimen) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].TimeAdded.Equal(items[j].TimeAdded) {
			return items[i].ShipmentSpecimenID < items[j].ShipmentSpecimenID
		}
		return items[i].TimeAdded.Before(items[j].TimeAdded)
	})
}
