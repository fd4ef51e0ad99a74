// Package tracker keeps the specimens of one shipment partitioned by item
// state while the shipment is being received and unpacked.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/biobank/shipment-lifecycle/internal/domain"
)

// Backend lists and tags shipment specimens
type Backend interface {
	ListSpecimens(ctx context.Context, shipmentID string, state domain.ItemState) ([]*domain.ShipmentSpecimen, error)
	TagSpecimens(ctx context.Context, shipmentID string, shipmentSpecimenIDs []string, state domain.ItemState) ([]*domain.ShipmentSpecimen, error)
}

// ErrStale reports a tag the backend accepted whose follow-up refresh failed.
// The tagged items are applied to the view but changes made by others since
// the last refresh are not.
var ErrStale = errors.New("specimens tagged but the view could not be refreshed")

// Tracker holds the last fetched partition of a shipment's specimens. Queries
// are answered from memory; mutations go to the backend and then refresh.
type Tracker struct {
	backend    Backend
	shipmentID string

	mu     sync.RWMutex
	items  map[string]*domain.ShipmentSpecimen
	counts domain.PresenceCounts
	loaded bool
	stale  bool
}

// New creates a tracker for a shipment. Call Refresh before querying.
func New(backend Backend, shipmentID string) *Tracker {
	return &Tracker{
		backend:    backend,
		shipmentID: shipmentID,
		items:      make(map[string]*domain.ShipmentSpecimen),
	}
}

// Refresh refetches every specimen of the shipment
func (t *Tracker) Refresh(ctx context.Context) error {
	specimens, err := t.backend.ListSpecimens(ctx, t.shipmentID, "")
	if err != nil {
		return err
	}

	items := make(map[string]*domain.ShipmentSpecimen, len(specimens))
	for _, s := range specimens {
		items[s.ShipmentSpecimenID] = s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = items
	t.counts = domain.CountByState(specimens)
	t.loaded = true
	t.stale = false
	return nil
}

// Stale reports whether the view missed a refresh after a successful tag
func (t *Tracker) Stale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stale
}

// Loaded reports whether Refresh has succeeded at least once
func (t *Tracker) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// HasOutstandingMissing reports whether any specimen is still tagged MISSING
func (t *Tracker) HasOutstandingMissing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts.Missing > 0
}

// Counts returns the number of specimens per item state
func (t *Tracker) Counts() domain.PresenceCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts
}

// Items returns the specimens in the given state ordered by specimen ID
func (t *Tracker) Items(state domain.ItemState) []*domain.ShipmentSpecimen {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*domain.ShipmentSpecimen
	for _, item := range t.items {
		if item.State == state {
			c := *item
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpecimenID < out[j].SpecimenID })
	return out
}

// TagAsPresent moves MISSING or RECEIVED items back to PRESENT
func (t *Tracker) TagAsPresent(ctx context.Context, shipmentSpecimenIDs ...string) error {
	return t.tag(ctx, shipmentSpecimenIDs, domain.ItemPresent)
}

// TagAsReceived marks PRESENT items as received
func (t *Tracker) TagAsReceived(ctx context.Context, shipmentSpecimenIDs ...string) error {
	return t.tag(ctx, shipmentSpecimenIDs, domain.ItemReceived)
}

// TagAsMissing marks PRESENT items as missing
func (t *Tracker) TagAsMissing(ctx context.Context, shipmentSpecimenIDs ...string) error {
	return t.tag(ctx, shipmentSpecimenIDs, domain.ItemMissing)
}

func (t *Tracker) tag(ctx context.Context, ids []string, state domain.ItemState) error {
	if len(ids) == 0 {
		return domain.NewBusinessRuleError(t.shipmentID, "no specimens selected")
	}
	if err := t.checkTag(ids, state); err != nil {
		return err
	}

	tagged, err := t.backend.TagSpecimens(ctx, t.shipmentID, ids, state)
	if err != nil {
		return err
	}
	if err := t.Refresh(ctx); err != nil {
		t.apply(tagged)
		return fmt.Errorf("%w: %w", ErrStale, err)
	}
	return nil
}

// apply merges items returned by the backend into the view and marks it stale
func (t *Tracker) apply(tagged []*domain.ShipmentSpecimen) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range tagged {
		t.items[item.ShipmentSpecimenID] = item
	}
	all := make([]*domain.ShipmentSpecimen, 0, len(t.items))
	for _, item := range t.items {
		all = append(all, item)
	}
	t.counts = domain.CountByState(all)
	t.stale = true
}

// checkTag rejects tags that are known to be illegal. Items the tracker has
// not seen are left for the backend to judge.
func (t *Tracker) checkTag(ids []string, state domain.ItemState) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range ids {
		item, ok := t.items[id]
		if !ok {
			continue
		}
		if !item.State.CanTransitionTo(state) {
			return domain.NewBusinessRuleError(t.shipmentID,
				fmt.Sprintf("specimen %s cannot be tagged %s from %s", item.SpecimenID, state, item.State))
		}
	}
	return nil
}
