package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ItemState is the state of a specimen within a shipment
type ItemState string

const (
	ItemPresent  ItemState = "PRESENT"
	ItemReceived ItemState = "RECEIVED"
	ItemMissing  ItemState = "MISSING"
	ItemExtra    ItemState = "EXTRA"
)

// ItemStates lists every item state
var ItemStates = []ItemState{ItemPresent, ItemReceived, ItemMissing, ItemExtra}

// IsValid checks if the item state is valid
func (s ItemState) IsValid() bool {
	switch s {
	case ItemPresent, ItemReceived, ItemMissing, ItemExtra:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a specimen can be re-tagged to the target state.
// EXTRA items are never re-tagged; they are removed instead.
func (s ItemState) CanTransitionTo(target ItemState) bool {
	validTransitions := map[ItemState][]ItemState{
		ItemPresent:  {ItemReceived, ItemMissing},
		ItemReceived: {ItemPresent},
		ItemMissing:  {ItemPresent},
		ItemExtra:    {},
	}

	for _, allowed := range validTransitions[s] {
		if target == allowed {
			return true
		}
	}
	return false
}

// ShipmentSpecimen is a specimen travelling in exactly one shipment
type ShipmentSpecimen struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ShipmentSpecimenID string             `bson:"shipmentSpecimenId" json:"id"`
	ShipmentID         string             `bson:"shipmentId" json:"shipmentId"`
	SpecimenID         string             `bson:"specimenId" json:"specimenId"`
	State              ItemState          `bson:"state" json:"state"`
	Version            int64              `bson:"version" json:"version"`
	TimeAdded          time.Time          `bson:"timeAdded" json:"timeAdded"`
	UpdatedAt          time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// NewShipmentSpecimen creates a specimen entry for a shipment
func NewShipmentSpecimen(shipmentID, specimenID string, state ItemState) *ShipmentSpecimen {
	now := time.Now().UTC()
	return &ShipmentSpecimen{
		ShipmentSpecimenID: uuid.New().String(),
		ShipmentID:         shipmentID,
		SpecimenID:         specimenID,
		State:              state,
		TimeAdded:          now,
		UpdatedAt:          now,
	}
}

// Tag moves the specimen to a new item state
func (s *ShipmentSpecimen) Tag(target ItemState) error {
	if !target.IsValid() {
		return NewBusinessRuleError(s.ShipmentID, fmt.Sprintf("invalid item state %q", target))
	}
	if !s.State.CanTransitionTo(target) {
		return NewBusinessRuleError(s.ShipmentID,
			fmt.Sprintf("specimen %s cannot be tagged %s while %s", s.SpecimenID, target, s.State))
	}

	s.State = target
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// PresenceCounts holds the number of shipment specimens per item state
type PresenceCounts struct {
	Present  int `json:"present"`
	Received int `json:"received"`
	Missing  int `json:"missing"`
	Extra    int `json:"extra"`
}

// Total returns the number of specimens across all states
func (c PresenceCounts) Total() int {
	return c.Present + c.Received + c.Missing + c.Extra
}

// Add increments the counter for the given state
func (c *PresenceCounts) Add(state ItemState, n int) {
	switch state {
	case ItemPresent:
		c.Present += n
	case ItemReceived:
		c.Received += n
	case ItemMissing:
		c.Missing += n
	case ItemExtra:
		c.Extra += n
	}
}

// CountByState tallies the given specimens
func CountByState(items []*ShipmentSpecimen) PresenceCounts {
	var c PresenceCounts
	for _, item := range items {
		c.Add(item.State, 1)
	}
	return c
}
