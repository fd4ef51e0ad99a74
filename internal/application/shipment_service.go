package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/api"
	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
)

// ShipmentService handles the shipment lifecycle use cases. It is the
// authority for every transition rule: clients validate locally only to
// avoid pointless round trips.
type ShipmentService struct {
	shipments domain.ShipmentRepository
	specimens domain.ShipmentSpecimenRepository
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewShipmentService creates a new ShipmentService. metrics may be nil.
func NewShipmentService(
	shipments domain.ShipmentRepository,
	specimens domain.ShipmentSpecimenRepository,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *logging.Logger,
) *ShipmentService {
	return &ShipmentService{
		shipments: shipments,
		specimens: specimens,
		publisher: publisher,
		metrics:   m,
		logger:    logger.WithComponent("shipment-service"),
	}
}

// load fetches a shipment and derives its specimen count
func (s *ShipmentService) load(ctx context.Context, shipmentID string) (*domain.Shipment, domain.PresenceCounts, error) {
	shipment, err := s.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get shipment", "shipmentId", shipmentID)
		return nil, domain.PresenceCounts{}, fmt.Errorf("failed to get shipment: %w", err)
	}
	if shipment == nil {
		return nil, domain.PresenceCounts{}, domain.NewNotFoundError(shipmentID)
	}

	counts, err := s.specimens.CountByState(ctx, shipmentID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count shipment specimens", "shipmentId", shipmentID)
		return nil, domain.PresenceCounts{}, fmt.Errorf("failed to count shipment specimens: %w", err)
	}
	shipment.SpecimenCount = counts.Total()

	return shipment, counts, nil
}

func checkVersion(shipment *domain.Shipment, expected int64) error {
	if shipment.Version != expected {
		return domain.NewVersionConflict(shipment.ShipmentID, expected, shipment.Version)
	}
	return nil
}

// publish sends pending events. The write has already been committed, so a
// failure is logged and not returned.
func (s *ShipmentService) publish(ctx context.Context, events ...domain.DomainEvent) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.PublishAll(ctx, events); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish shipment events", "count", len(events))
	}
}

func (s *ShipmentService) publishShipmentEvents(ctx context.Context, shipment *domain.Shipment) {
	s.publish(ctx, shipment.GetDomainEvents()...)
	shipment.ClearDomainEvents()
}

// CreateShipment creates a new shipment in the CREATED state
func (s *ShipmentService) CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (*ShipmentDTO, error) {
	fields := map[string]string{}
	if strings.TrimSpace(cmd.CourierName) == "" {
		fields["courierName"] = "courierName is required"
	}
	if strings.TrimSpace(cmd.TrackingNumber) == "" {
		fields["trackingNumber"] = "trackingNumber is required"
	}
	if cmd.Origin.LocationID == "" {
		fields["origin.locationId"] = "origin.locationId is required"
	}
	if cmd.Destination.LocationID == "" {
		fields["destination.locationId"] = "destination.locationId is required"
	}
	if len(fields) > 0 {
		return nil, errors.ErrValidationWithFields("invalid shipment", fields)
	}

	shipment := domain.NewShipment(cmd.CourierName, cmd.TrackingNumber, cmd.Origin, cmd.Destination)
	if err := s.shipments.Create(ctx, shipment); err != nil {
		s.logger.WithError(err).Error("Failed to create shipment", "shipmentId", shipment.ShipmentID)
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	s.publishShipmentEvents(ctx, shipment)

	s.logger.Info("Created shipment", "shipmentId", shipment.ShipmentID, "courier", cmd.CourierName)
	return ToShipmentDTO(shipment), nil
}

// GetShipment retrieves a shipment by ID
func (s *ShipmentService) GetShipment(ctx context.Context, query GetShipmentQuery) (*ShipmentDTO, error) {
	shipment, _, err := s.load(ctx, query.ShipmentID)
	if err != nil {
		return nil, err
	}
	return ToShipmentDTO(shipment), nil
}

// ListShipments returns one page of shipments matching the filter
func (s *ShipmentService) ListShipments(ctx context.Context, query ListShipmentsQuery) (api.PageResponse[ShipmentDTO], error) {
	page := api.Normalize(query.Page.Page, query.Page.PageSize)

	shipments, total, err := s.shipments.List(ctx, query.Filter, page.GetOffset(), page.GetLimit())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list shipments")
		return api.PageResponse[ShipmentDTO]{}, fmt.Errorf("failed to list shipments: %w", err)
	}

	dtos := make([]ShipmentDTO, 0, len(shipments))
	for _, shipment := range shipments {
		counts, err := s.specimens.CountByState(ctx, shipment.ShipmentID)
		if err != nil {
			return api.PageResponse[ShipmentDTO]{}, fmt.Errorf("failed to count shipment specimens: %w", err)
		}
		shipment.SpecimenCount = counts.Total()
		dtos = append(dtos, *ToShipmentDTO(shipment))
	}

	return api.NewPageResponse(dtos, page.Page, page.PageSize, total), nil
}

// UpdateShipmentInfo changes courier and location details while CREATED
func (s *ShipmentService) UpdateShipmentInfo(ctx context.Context, cmd UpdateShipmentInfoCommand) (*ShipmentDTO, error) {
	shipment, _, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(shipment, cmd.ExpectedVersion); err != nil {
		return nil, err
	}

	if err := shipment.UpdateInfo(cmd.CourierName, cmd.TrackingNumber, cmd.Origin, cmd.Destination); err != nil {
		return nil, err
	}

	if err := s.shipments.Update(ctx, shipment, cmd.ExpectedVersion); err != nil {
		return nil, err
	}

	s.logger.Info("Updated shipment information", "shipmentId", shipment.ShipmentID, "version", shipment.Version)
	return ToShipmentDTO(shipment), nil
}

// Transition applies a state transition. The expected version must match
// the stored one; the transition table, the gating rules and the timestamp
// ordering are checked against server-side counts before anything is written.
func (s *ShipmentService) Transition(ctx context.Context, cmd TransitionCommand) (*ShipmentDTO, error) {
	start := time.Now()

	shipment, from, err := s.transition(ctx, cmd)

	outcome, to := "applied", ""
	if err != nil {
		outcome = domain.KindOf(err).String()
	} else {
		to = string(shipment.State)
	}
	if s.metrics != nil {
		s.metrics.RecordTransition(string(cmd.Transition), outcome, to)
	}
	s.logger.Transition(ctx, cmd.ShipmentID, string(cmd.Transition), string(from), to, time.Since(start), err)

	if err != nil {
		return nil, err
	}

	s.publishShipmentEvents(ctx, shipment)
	return ToShipmentDTO(shipment), nil
}

func (s *ShipmentService) transition(ctx context.Context, cmd TransitionCommand) (*domain.Shipment, domain.ShipmentState, error) {
	if cmd.Transition == domain.TransitionRemove {
		return nil, "", domain.NewBusinessRuleError(cmd.ShipmentID, "remove is not a state transition")
	}
	if !cmd.Transition.IsValid() {
		return nil, "", domain.NewBusinessRuleError(cmd.ShipmentID, fmt.Sprintf("unknown transition %q", cmd.Transition))
	}

	shipment, counts, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, "", err
	}
	from := shipment.State

	if err := checkVersion(shipment, cmd.ExpectedVersion); err != nil {
		return nil, from, err
	}
	if err := shipment.Apply(cmd.Transition, cmd.Times, domain.ContextFor(shipment, counts)); err != nil {
		return nil, from, err
	}
	if err := s.shipments.Update(ctx, shipment, cmd.ExpectedVersion); err != nil {
		return nil, from, err
	}
	return shipment, from, nil
}

// RemoveShipment deletes a shipment that is CREATED and has no specimens
func (s *ShipmentService) RemoveShipment(ctx context.Context, cmd RemoveShipmentCommand) error {
	shipment, counts, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return err
	}
	if err := checkVersion(shipment, cmd.ExpectedVersion); err != nil {
		return err
	}

	decision := domain.CanTransition(shipment.State, domain.TransitionRemove, domain.ContextFor(shipment, counts))
	if err := decision.Err(shipment.ShipmentID); err != nil {
		return err
	}

	if err := s.shipments.Delete(ctx, shipment.ShipmentID, cmd.ExpectedVersion); err != nil {
		return err
	}

	s.publish(ctx, &domain.ShipmentRemovedEvent{ShipmentID: shipment.ShipmentID, RemovedAt: time.Now().UTC()})

	s.logger.Info("Removed shipment", "shipmentId", shipment.ShipmentID)
	return nil
}

// dedupe drops blank and repeated IDs, keeping the first occurrence
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// addItems stores new shipment specimens and bumps the shipment version.
// The specimens are written before the version-guarded update and are
// discarded again when that update fails, so neither write survives alone.
func (s *ShipmentService) addItems(ctx context.Context, shipment *domain.Shipment, expectedVersion int64, specimenIDs []string, state domain.ItemState) error {
	existing, err := s.specimens.FindBySpecimenIDs(ctx, specimenIDs)
	if err != nil {
		return fmt.Errorf("failed to look up specimens: %w", err)
	}
	for _, item := range existing {
		if item.ShipmentID == shipment.ShipmentID {
			return domain.NewBusinessRuleError(shipment.ShipmentID,
				fmt.Sprintf("specimen %s is already in this shipment", item.SpecimenID))
		}
		if state != domain.ItemExtra {
			return domain.NewBusinessRuleError(shipment.ShipmentID,
				fmt.Sprintf("specimen %s is already in shipment %s", item.SpecimenID, item.ShipmentID))
		}
	}

	if err := shipment.SpecimensChanged(shipment.SpecimenCount + len(specimenIDs)); err != nil {
		return err
	}

	items := make([]*domain.ShipmentSpecimen, 0, len(specimenIDs))
	for _, id := range specimenIDs {
		items = append(items, domain.NewShipmentSpecimen(shipment.ShipmentID, id, state))
	}
	if err := s.specimens.AddAll(ctx, items); err != nil {
		s.logger.WithError(err).Error("Failed to add shipment specimens", "shipmentId", shipment.ShipmentID)
		// An ordered bulk insert may have stored a prefix.
		s.discardItems(ctx, shipment.ShipmentID, items)
		return fmt.Errorf("failed to add shipment specimens: %w", err)
	}

	if err := s.shipments.Update(ctx, shipment, expectedVersion); err != nil {
		s.discardItems(ctx, shipment.ShipmentID, items)
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordSpecimensTagged(string(state), len(items))
	}
	return nil
}

// discardItems deletes shipment specimens written by a failed operation.
// Items that were never stored are skipped.
func (s *ShipmentService) discardItems(ctx context.Context, shipmentID string, items []*domain.ShipmentSpecimen) {
	for _, item := range items {
		if err := s.specimens.Delete(ctx, shipmentID, item.ShipmentSpecimenID); err != nil {
			s.logger.Debug("Shipment specimen not discarded",
				"shipmentId", shipmentID, "shipmentSpecimenId", item.ShipmentSpecimenID, "error", err.Error())
		}
	}
}

// AddSpecimens packs specimens into a CREATED shipment
func (s *ShipmentService) AddSpecimens(ctx context.Context, cmd AddSpecimensCommand) (*ShipmentDTO, error) {
	ids := dedupe(cmd.SpecimenIDs)
	if len(ids) == 0 {
		return nil, errors.ErrValidation("at least one specimen ID is required")
	}

	shipment, _, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(shipment, cmd.ExpectedVersion); err != nil {
		return nil, err
	}
	if shipment.State != domain.StateCreated {
		return nil, domain.NewBusinessRuleError(shipment.ShipmentID,
			"specimens can only be added to a shipment in state "+string(domain.StateCreated))
	}

	if err := s.addItems(ctx, shipment, cmd.ExpectedVersion, ids, domain.ItemPresent); err != nil {
		return nil, err
	}

	s.logger.Info("Added specimens to shipment", "shipmentId", shipment.ShipmentID, "count", len(ids))
	return ToShipmentDTO(shipment), nil
}

// AddExtraSpecimens records specimens that arrived in an UNPACKED shipment
// without being packed
func (s *ShipmentService) AddExtraSpecimens(ctx context.Context, cmd AddExtraSpecimensCommand) (*ShipmentDTO, error) {
	ids := dedupe(cmd.SpecimenIDs)
	if len(ids) == 0 {
		return nil, errors.ErrValidation("at least one specimen ID is required")
	}

	shipment, _, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, err
	}
	if shipment.State != domain.StateUnpacked {
		return nil, domain.NewBusinessRuleError(shipment.ShipmentID,
			"extra specimens can only be added to a shipment in state "+string(domain.StateUnpacked))
	}

	if err := s.addItems(ctx, shipment, shipment.Version, ids, domain.ItemExtra); err != nil {
		return nil, err
	}

	s.logger.Info("Added extra specimens to shipment", "shipmentId", shipment.ShipmentID, "count", len(ids))
	return ToShipmentDTO(shipment), nil
}

// RemoveSpecimen takes a specimen out of a CREATED shipment
func (s *ShipmentService) RemoveSpecimen(ctx context.Context, cmd RemoveSpecimenCommand) (*ShipmentDTO, error) {
	shipment, _, err := s.load(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, err
	}
	if shipment.State != domain.StateCreated {
		return nil, domain.NewBusinessRuleError(shipment.ShipmentID,
			"specimens can only be removed from a shipment in state "+string(domain.StateCreated))
	}

	items, err := s.specimens.FindByIDs(ctx, shipment.ShipmentID, []string{cmd.ShipmentSpecimenID})
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment specimen: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.ErrNotFoundWithID("shipment specimen", cmd.ShipmentSpecimenID)
	}

	expected := shipment.Version
	if err := shipment.SpecimensChanged(shipment.SpecimenCount - 1); err != nil {
		return nil, err
	}
	if err := s.specimens.Delete(ctx, shipment.ShipmentID, cmd.ShipmentSpecimenID); err != nil {
		s.logger.WithError(err).Error("Failed to delete shipment specimen", "shipmentId", shipment.ShipmentID)
		return nil, err
	}
	if err := s.shipments.Update(ctx, shipment, expected); err != nil {
		if restoreErr := s.specimens.AddAll(ctx, items); restoreErr != nil {
			s.logger.WithError(restoreErr).Error("Failed to restore shipment specimen",
				"shipmentId", shipment.ShipmentID, "shipmentSpecimenId", cmd.ShipmentSpecimenID)
		}
		return nil, err
	}

	s.logger.Info("Removed specimen from shipment", "shipmentId", shipment.ShipmentID, "shipmentSpecimenId", cmd.ShipmentSpecimenID)
	return ToShipmentDTO(shipment), nil
}

// ListSpecimens returns one page of a shipment's specimens, optionally
// restricted to one item state
func (s *ShipmentService) ListSpecimens(ctx context.Context, query ListSpecimensQuery) (api.PageResponse[ShipmentSpecimenDTO], error) {
	if query.State != "" && !query.State.IsValid() {
		return api.PageResponse[ShipmentSpecimenDTO]{}, errors.ErrValidation(fmt.Sprintf("invalid item state %q", query.State))
	}

	shipment, err := s.shipments.FindByID(ctx, query.ShipmentID)
	if err != nil {
		return api.PageResponse[ShipmentSpecimenDTO]{}, fmt.Errorf("failed to get shipment: %w", err)
	}
	if shipment == nil {
		return api.PageResponse[ShipmentSpecimenDTO]{}, domain.NewNotFoundError(query.ShipmentID)
	}

	page := api.Normalize(query.Page.Page, query.Page.PageSize)
	items, total, err := s.specimens.FindByShipment(ctx, query.ShipmentID, query.State, page.GetOffset(), page.GetLimit())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list shipment specimens", "shipmentId", query.ShipmentID)
		return api.PageResponse[ShipmentSpecimenDTO]{}, fmt.Errorf("failed to list shipment specimens: %w", err)
	}

	return api.NewPageResponse(ToShipmentSpecimenDTOs(items), page.Page, page.PageSize, total), nil
}

// TagSpecimens changes the item state of shipment specimens. Tags are only
// accepted while the shipment is UNPACKED.
func (s *ShipmentService) TagSpecimens(ctx context.Context, cmd TagSpecimensCommand) ([]ShipmentSpecimenDTO, error) {
	ids := dedupe(cmd.ShipmentSpecimenIDs)
	if len(ids) == 0 {
		return nil, errors.ErrValidation("at least one shipment specimen ID is required")
	}
	if cmd.State == domain.ItemExtra || !cmd.State.IsValid() {
		return nil, errors.ErrValidation(fmt.Sprintf("specimens cannot be tagged as %q", cmd.State))
	}

	shipment, err := s.shipments.FindByID(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	if shipment == nil {
		return nil, domain.NewNotFoundError(cmd.ShipmentID)
	}
	if shipment.State != domain.StateUnpacked {
		return nil, domain.NewBusinessRuleError(shipment.ShipmentID,
			fmt.Sprintf("specimens cannot be tagged as %s while the shipment is %s", cmd.State, shipment.State))
	}

	items, err := s.specimens.FindByIDs(ctx, shipment.ShipmentID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment specimens: %w", err)
	}
	if len(items) != len(ids) {
		return nil, domain.NewBusinessRuleError(shipment.ShipmentID,
			fmt.Sprintf("%d shipment specimen(s) not found in shipment", len(ids)-len(items)))
	}

	for _, item := range items {
		if err := item.Tag(cmd.State); err != nil {
			return nil, err
		}
	}

	if err := s.specimens.UpdateAll(ctx, items); err != nil {
		s.logger.WithError(err).Error("Failed to tag shipment specimens", "shipmentId", shipment.ShipmentID)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordSpecimensTagged(string(cmd.State), len(items))
	}
	s.publish(ctx, &domain.SpecimensTaggedEvent{
		ShipmentID:          shipment.ShipmentID,
		ShipmentSpecimenIDs: ids,
		State:               cmd.State,
		TaggedAt:            time.Now().UTC(),
	})

	s.logger.Info("Tagged shipment specimens", "shipmentId", shipment.ShipmentID, "state", cmd.State, "count", len(items))
	return ToShipmentSpecimenDTOs(items), nil
}
