// Package lifecycle holds the client-side view of a single shipment and the
// transition operations a user can invoke on it.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
)

// Backend is the authoritative shipment store the entity talks to
type Backend interface {
	GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error)
	Transition(ctx context.Context, shipmentID string, version int64, t domain.Transition, times domain.TransitionTimes) (*domain.Shipment, error)
	RemoveShipment(ctx context.Context, shipmentID string, version int64) error
}

// PresenceSource reports the item-state counts of the shipment's specimens
type PresenceSource interface {
	Counts() domain.PresenceCounts
}

// Entity is the shipment held by a view. Every operation validates locally
// first; a rejected or failed operation leaves the held shipment unchanged.
type Entity struct {
	backend  Backend
	logger   *logging.Logger
	presence PresenceSource

	mu       sync.RWMutex
	shipment *domain.Shipment
	removed  bool
}

// New wraps a shipment that has already been fetched
func New(backend Backend, shipment *domain.Shipment, logger *logging.Logger) *Entity {
	return &Entity{
		backend:  backend,
		logger:   logger.WithComponent("shipment-entity"),
		shipment: shipment.Clone(),
	}
}

// Load fetches a shipment and wraps it
func Load(ctx context.Context, backend Backend, shipmentID string, logger *logging.Logger) (*Entity, error) {
	shipment, err := backend.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return New(backend, shipment, logger), nil
}

// SetPresence attaches the source used for the missing and present gates
func (e *Entity) SetPresence(p PresenceSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.presence = p
}

// Shipment returns a copy of the held shipment
func (e *Entity) Shipment() *domain.Shipment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shipment.Clone()
}

// ID returns the shipment ID
func (e *Entity) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shipment.ShipmentID
}

// Removed reports whether the shipment was deleted through this entity
func (e *Entity) Removed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.removed
}

func (e *Entity) transitionContext() domain.TransitionContext {
	var counts domain.PresenceCounts
	if e.presence != nil {
		counts = e.presence.Counts()
	}
	return domain.ContextFor(e.shipment, counts)
}

// Check runs the transition validator against the held shipment
func (e *Entity) Check(t domain.Transition) domain.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.removed {
		return domain.Decision{Reason: "shipment has been removed"}
	}
	return domain.CanTransition(e.shipment.State, t, e.transitionContext())
}

// Available lists the transitions currently allowed
func (e *Entity) Available() []domain.Transition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.removed {
		return nil
	}
	return domain.AvailableTransitions(e.shipment.State, e.transitionContext())
}

// Apply validates and performs a state transition. remove is handled by Remove.
func (e *Entity) Apply(ctx context.Context, t domain.Transition, times domain.TransitionTimes) (*domain.Shipment, error) {
	if t == domain.TransitionRemove {
		return nil, e.Remove(ctx)
	}

	current := e.Shipment()
	if d := e.Check(t); !d.Allowed {
		e.logger.WithContext(ctx).Debug("Transition rejected locally",
			"shipmentId", current.ShipmentID, "transition", string(t), "reason", d.Reason)
		return nil, d.Err(current.ShipmentID)
	}
	if err := domain.ValidateTimes(current, t, times); err != nil {
		return nil, err
	}

	updated, err := e.backend.Transition(ctx, current.ShipmentID, current.Version, t, utc(times))
	if err != nil {
		return nil, err
	}

	e.replace(updated)
	return updated.Clone(), nil
}

// Pack moves a CREATED shipment to PACKED
func (e *Entity) Pack(ctx context.Context, timePacked time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionPack, domain.TransitionTimes{TimePacked: &timePacked})
}

// SkipToSent moves a CREATED shipment directly to SENT, recording both times
func (e *Entity) SkipToSent(ctx context.Context, timePacked, timeSent time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionSkipToSent, domain.TransitionTimes{TimePacked: &timePacked, TimeSent: &timeSent})
}

// Send moves a PACKED shipment to SENT
func (e *Entity) Send(ctx context.Context, timeSent time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionSend, domain.TransitionTimes{TimeSent: &timeSent})
}

// Receive moves a SENT shipment to RECEIVED
func (e *Entity) Receive(ctx context.Context, timeReceived time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionReceive, domain.TransitionTimes{TimeReceived: &timeReceived})
}

// Unpack moves a RECEIVED shipment to UNPACKED
func (e *Entity) Unpack(ctx context.Context, timeUnpacked time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionUnpack, domain.TransitionTimes{TimeUnpacked: &timeUnpacked})
}

// Complete moves an UNPACKED shipment to COMPLETED
func (e *Entity) Complete(ctx context.Context, timeCompleted time.Time) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionComplete, domain.TransitionTimes{TimeCompleted: &timeCompleted})
}

// TagAsLost moves a shipment that has not completed to LOST
func (e *Entity) TagAsLost(ctx context.Context) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionTagAsLost, domain.TransitionTimes{})
}

// ReturnToSent moves a RECEIVED shipment back to SENT and clears its received time
func (e *Entity) ReturnToSent(ctx context.Context) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionReturnToSent, domain.TransitionTimes{})
}

// ReturnToReceived moves an UNPACKED shipment back to RECEIVED. It is refused
// while any specimen is still tagged MISSING.
func (e *Entity) ReturnToReceived(ctx context.Context) (*domain.Shipment, error) {
	return e.Apply(ctx, domain.TransitionReturnToReceived, domain.TransitionTimes{})
}

// Remove deletes an empty CREATED shipment
func (e *Entity) Remove(ctx context.Context) error {
	current := e.Shipment()
	if d := e.Check(domain.TransitionRemove); !d.Allowed {
		return d.Err(current.ShipmentID)
	}

	if err := e.backend.RemoveShipment(ctx, current.ShipmentID, current.Version); err != nil {
		return err
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return nil
}

// Reload replaces the held shipment with the backend's current copy. This is
// how a view recovers after a version conflict.
func (e *Entity) Reload(ctx context.Context) (*domain.Shipment, error) {
	updated, err := e.backend.GetShipment(ctx, e.ID())
	if err != nil {
		return nil, err
	}
	e.replace(updated)
	return updated.Clone(), nil
}

func (e *Entity) replace(s *domain.Shipment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shipment = s.Clone()
}

func utc(times domain.TransitionTimes) domain.TransitionTimes {
	out := domain.TransitionTimes{}
	for _, field := range []domain.TimeField{
		domain.FieldTimePacked,
		domain.FieldTimeSent,
		domain.FieldTimeReceived,
		domain.FieldTimeUnpacked,
		domain.FieldTimeCompleted,
	} {
		if t := times.Get(field); t != nil {
			out.Set(field, t.UTC())
		}
	}
	return out
}
