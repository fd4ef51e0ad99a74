package domain

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ShipmentState represents the lifecycle state of a shipment
type ShipmentState string

const (
	StateCreated   ShipmentState = "CREATED"
	StatePacked    ShipmentState = "PACKED"
	StateSent      ShipmentState = "SENT"
	StateReceived  ShipmentState = "RECEIVED"
	StateUnpacked  ShipmentState = "UNPACKED"
	StateCompleted ShipmentState = "COMPLETED"
	StateLost      ShipmentState = "LOST"
)

// ShipmentStates lists every state in forward order
var ShipmentStates = []ShipmentState{
	StateCreated,
	StatePacked,
	StateSent,
	StateReceived,
	StateUnpacked,
	StateCompleted,
	StateLost,
}

// IsValid checks if the state is valid
func (s ShipmentState) IsValid() bool {
	switch s {
	case StateCreated, StatePacked, StateSent, StateReceived,
		StateUnpacked, StateCompleted, StateLost:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states with no outgoing transitions
func (s ShipmentState) IsTerminal() bool {
	return s == StateCompleted || s == StateLost
}

// LocationRef references a location belonging to a centre
type LocationRef struct {
	CentreID   string `bson:"centreId" json:"centreId"`
	LocationID string `bson:"locationId" json:"locationId"`
	Name       string `bson:"name,omitempty" json:"name,omitempty"`
}

// Shipment is the aggregate root for the shipment lifecycle
type Shipment struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ShipmentID     string             `bson:"shipmentId" json:"id"`
	Version        int64              `bson:"version" json:"version"`
	State          ShipmentState      `bson:"state" json:"state"`
	CourierName    string             `bson:"courierName" json:"courierName"`
	TrackingNumber string             `bson:"trackingNumber" json:"trackingNumber"`
	Origin         LocationRef        `bson:"origin" json:"origin"`
	Destination    LocationRef        `bson:"destination" json:"destination"`
	TimeAdded      time.Time          `bson:"timeAdded" json:"timeAdded"`
	TimePacked     *time.Time         `bson:"timePacked,omitempty" json:"timePacked,omitempty"`
	TimeSent       *time.Time         `bson:"timeSent,omitempty" json:"timeSent,omitempty"`
	TimeReceived   *time.Time         `bson:"timeReceived,omitempty" json:"timeReceived,omitempty"`
	TimeUnpacked   *time.Time         `bson:"timeUnpacked,omitempty" json:"timeUnpacked,omitempty"`
	TimeCompleted  *time.Time         `bson:"timeCompleted,omitempty" json:"timeCompleted,omitempty"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`

	// SpecimenCount is derived from the shipment's specimens on every read.
	SpecimenCount int `bson:"-" json:"specimenCount"`

	DomainEvents []DomainEvent `bson:"-" json:"-"`
}

// NewShipment creates a new Shipment aggregate in the CREATED state
func NewShipment(courierName, trackingNumber string, origin, destination LocationRef) *Shipment {
	now := time.Now().UTC()
	s := &Shipment{
		ShipmentID:     uuid.New().String(),
		Version:        0,
		State:          StateCreated,
		CourierName:    courierName,
		TrackingNumber: trackingNumber,
		Origin:         origin,
		Destination:    destination,
		TimeAdded:      now,
		UpdatedAt:      now,
		DomainEvents:   make([]DomainEvent, 0),
	}

	s.AddDomainEvent(&ShipmentCreatedEvent{
		ShipmentID:    s.ShipmentID,
		CourierName:   courierName,
		OriginID:      origin.LocationID,
		DestinationID: destination.LocationID,
		CreatedAt:     now,
	})

	return s
}

// Clone returns a deep copy of the shipment without pending domain events
func (s *Shipment) Clone() *Shipment {
	c := *s
	c.TimePacked = cloneTime(s.TimePacked)
	c.TimeSent = cloneTime(s.TimeSent)
	c.TimeReceived = cloneTime(s.TimeReceived)
	c.TimeUnpacked = cloneTime(s.TimeUnpacked)
	c.TimeCompleted = cloneTime(s.TimeCompleted)
	c.DomainEvents = nil
	return &c
}

// UpdateInfo changes the courier and location details. Only allowed while CREATED.
func (s *Shipment) UpdateInfo(courierName, trackingNumber string, origin, destination LocationRef) error {
	if s.State != StateCreated {
		return NewBusinessRuleError(s.ShipmentID, "shipment information can only be changed while in state "+string(StateCreated))
	}

	s.CourierName = courierName
	s.TrackingNumber = trackingNumber
	s.Origin = origin
	s.Destination = destination
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SpecimensChanged records a new specimen count. Changing the shipment's
// contents bumps its version like any other write.
func (s *Shipment) SpecimensChanged(count int) error {
	if s.State != StateCreated && s.State != StateUnpacked {
		return NewBusinessRuleError(s.ShipmentID, "cannot change the specimens of a shipment in state "+string(s.State))
	}

	s.SpecimenCount = count
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Apply performs a state transition after checking the transition table, the
// gating rules and the timestamp ordering. On failure the shipment is untouched.
func (s *Shipment) Apply(t Transition, times TransitionTimes, tc TransitionContext) error {
	if t == TransitionRemove {
		return NewBusinessRuleError(s.ShipmentID, "remove is not a state transition")
	}

	if d := CanTransition(s.State, t, tc); !d.Allowed {
		return d.Err(s.ShipmentID)
	}

	if err := ValidateTimes(s, t, times); err != nil {
		return err
	}

	from := s.State
	switch t {
	case TransitionPack:
		s.TimePacked = cloneTime(times.TimePacked)
	case TransitionSkipToSent:
		s.TimePacked = cloneTime(times.TimePacked)
		s.TimeSent = cloneTime(times.TimeSent)
	case TransitionSend:
		s.TimeSent = cloneTime(times.TimeSent)
	case TransitionReceive:
		s.TimeReceived = cloneTime(times.TimeReceived)
	case TransitionUnpack:
		s.TimeUnpacked = cloneTime(times.TimeUnpacked)
	case TransitionComplete:
		s.TimeCompleted = cloneTime(times.TimeCompleted)
	case TransitionReturnToSent:
		s.TimeReceived = nil
	case TransitionReturnToReceived:
		s.TimeUnpacked = nil
	}

	now := time.Now().UTC()
	s.State = t.Target()
	s.Version++
	s.UpdatedAt = now

	s.AddDomainEvent(&ShipmentTransitionedEvent{
		ShipmentID:     s.ShipmentID,
		Transition:     t,
		FromState:      from,
		ToState:        s.State,
		Version:        s.Version,
		TransitionedAt: now,
	})

	return nil
}

// AddDomainEvent adds a domain event
func (s *Shipment) AddDomainEvent(event DomainEvent) {
	s.DomainEvents = append(s.DomainEvents, event)
}

// ClearDomainEvents clears all domain events
func (s *Shipment) ClearDomainEvents() {
	s.DomainEvents = make([]DomainEvent, 0)
}

// GetDomainEvents returns all domain events
func (s *Shipment) GetDomainEvents() []DomainEvent {
	return s.DomainEvents
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
