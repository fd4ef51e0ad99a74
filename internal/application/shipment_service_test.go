package application

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/memory"
	"github.com/biobank/shipment-lifecycle/pkg/api"
	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishAll(ctx context.Context, events []domain.DomainEvent) error {
	return m.Called(ctx, events).Error(0)
}

type fixture struct {
	service   *ShipmentService
	publisher *mockPublisher
	specimens *memory.ShipmentSpecimenRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	publisher := new(mockPublisher)
	publisher.On("PublishAll", mock.Anything, mock.Anything).Return(nil)

	specimens := memory.NewShipmentSpecimenRepository()
	return &fixture{
		service:   NewShipmentService(memory.NewShipmentRepository(), specimens, publisher, nil, logging.Discard()),
		publisher: publisher,
		specimens: specimens,
	}
}

func at(hour int) *time.Time {
	t := time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) create(t *testing.T) *ShipmentDTO {
	t.Helper()
	dto, err := f.service.CreateShipment(context.Background(), CreateShipmentCommand{
		CourierName:    "FedEx",
		TrackingNumber: "TRK-1",
		Origin:         domain.LocationRef{CentreID: "C1", LocationID: "L1"},
		Destination:    domain.LocationRef{CentreID: "C2", LocationID: "L2"},
	})
	require.NoError(t, err)
	return dto
}

// createWithSpecimens returns a CREATED shipment holding the given specimens
func (f *fixture) createWithSpecimens(t *testing.T, specimenIDs ...string) *ShipmentDTO {
	t.Helper()
	dto := f.create(t)
	dto, err := f.service.AddSpecimens(context.Background(), AddSpecimensCommand{
		ShipmentID:      dto.ShipmentID,
		ExpectedVersion: dto.Version,
		SpecimenIDs:     specimenIDs,
	})
	require.NoError(t, err)
	return dto
}

func (f *fixture) apply(t *testing.T, dto *ShipmentDTO, tr domain.Transition, times domain.TransitionTimes) *ShipmentDTO {
	t.Helper()
	out, err := f.service.Transition(context.Background(), TransitionCommand{
		ShipmentID:      dto.ShipmentID,
		ExpectedVersion: dto.Version,
		Transition:      tr,
		Times:           times,
	})
	require.NoError(t, err)
	return out
}

// unpacked drives a shipment to UNPACKED
func (f *fixture) unpacked(t *testing.T, specimenIDs ...string) *ShipmentDTO {
	t.Helper()
	dto := f.createWithSpecimens(t, specimenIDs...)
	dto = f.apply(t, dto, domain.TransitionSkipToSent, domain.TransitionTimes{TimePacked: at(8), TimeSent: at(9)})
	dto = f.apply(t, dto, domain.TransitionReceive, domain.TransitionTimes{TimeReceived: at(10)})
	return f.apply(t, dto, domain.TransitionUnpack, domain.TransitionTimes{TimeUnpacked: at(11)})
}

func (f *fixture) itemIDs(t *testing.T, shipmentID string) []string {
	t.Helper()
	page, err := f.service.ListSpecimens(context.Background(), ListSpecimensQuery{ShipmentID: shipmentID, Page: api.DefaultPageRequest()})
	require.NoError(t, err)
	ids := make([]string, 0, len(page.Data))
	for _, item := range page.Data {
		ids = append(ids, item.ShipmentSpecimenID)
	}
	return ids
}

func TestCreateShipment(t *testing.T) {
	f := newFixture(t)
	dto := f.create(t)

	assert.Equal(t, string(domain.StateCreated), dto.State)
	assert.Equal(t, int64(0), dto.Version)
	assert.Equal(t, 0, dto.SpecimenCount)
	f.publisher.AssertCalled(t, "PublishAll", mock.Anything, mock.MatchedBy(func(events []domain.DomainEvent) bool {
		return len(events) == 1 && events[0].EventType() == "biobank.shipment.created"
	}))
}

func TestCreateShipment_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateShipment(context.Background(), CreateShipmentCommand{CourierName: "FedEx"})

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeValidationError, appErr.Code)
	assert.Contains(t, appErr.Details, "trackingNumber")
	assert.Contains(t, appErr.Details, "origin.locationId")
}

func TestGetShipment_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetShipment(context.Background(), GetShipmentQuery{ShipmentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrShipmentNotFound)
}

func TestAddSpecimens(t *testing.T) {
	f := newFixture(t)
	dto := f.createWithSpecimens(t, "SPC-1", "SPC-2", "SPC-1", " ")

	assert.Equal(t, 2, dto.SpecimenCount)
	assert.Equal(t, int64(1), dto.Version)

	t.Run("stale version", func(t *testing.T) {
		_, err := f.service.AddSpecimens(context.Background(), AddSpecimensCommand{
			ShipmentID: dto.ShipmentID, ExpectedVersion: 0, SpecimenIDs: []string{"SPC-3"},
		})
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
	})

	t.Run("specimen already shipped elsewhere", func(t *testing.T) {
		other := f.create(t)
		_, err := f.service.AddSpecimens(context.Background(), AddSpecimensCommand{
			ShipmentID: other.ShipmentID, ExpectedVersion: other.Version, SpecimenIDs: []string{"SPC-1"},
		})
		assert.ErrorIs(t, err, domain.ErrBusinessRule)
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := f.service.AddSpecimens(context.Background(), AddSpecimensCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: dto.Version})
		assert.True(t, errors.IsAppError(err))
	})
}

type flakySpecimens struct {
	*memory.ShipmentSpecimenRepository
	addErr error
}

func (r *flakySpecimens) AddAll(ctx context.Context, items []*domain.ShipmentSpecimen) error {
	if r.addErr != nil {
		return r.addErr
	}
	return r.ShipmentSpecimenRepository.AddAll(ctx, items)
}

type flakyShipments struct {
	*memory.ShipmentRepository
	updateErr error
}

func (r *flakyShipments) Update(ctx context.Context, shipment *domain.Shipment, expectedVersion int64) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.ShipmentRepository.Update(ctx, shipment, expectedVersion)
}

func newFlakyService(t *testing.T) (*ShipmentService, *flakyShipments, *flakySpecimens) {
	t.Helper()
	publisher := new(mockPublisher)
	publisher.On("PublishAll", mock.Anything, mock.Anything).Return(nil)

	shipments := &flakyShipments{ShipmentRepository: memory.NewShipmentRepository()}
	specimens := &flakySpecimens{ShipmentSpecimenRepository: memory.NewShipmentSpecimenRepository()}
	return NewShipmentService(shipments, specimens, publisher, nil, logging.Discard()), shipments, specimens
}

func createIn(t *testing.T, service *ShipmentService) *ShipmentDTO {
	t.Helper()
	dto, err := service.CreateShipment(context.Background(), CreateShipmentCommand{
		CourierName:    "FedEx",
		TrackingNumber: "TRK-1",
		Origin:         domain.LocationRef{CentreID: "C1", LocationID: "L1"},
		Destination:    domain.LocationRef{CentreID: "C2", LocationID: "L2"},
	})
	require.NoError(t, err)
	return dto
}

func TestAddSpecimens_FailedWriteLeavesShipmentUnchanged(t *testing.T) {
	ctx := context.Background()

	t.Run("specimen write fails", func(t *testing.T) {
		service, _, specimens := newFlakyService(t)
		dto := createIn(t, service)
		specimens.addErr = stderrors.New("disk full")

		_, err := service.AddSpecimens(ctx, AddSpecimensCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: 0, SpecimenIDs: []string{"SPC-1"}})
		require.Error(t, err)

		current, err := service.GetShipment(ctx, GetShipmentQuery{ShipmentID: dto.ShipmentID})
		require.NoError(t, err)
		assert.Equal(t, int64(0), current.Version)
		assert.Equal(t, 0, current.SpecimenCount)

		specimens.addErr = nil
		retried, err := service.AddSpecimens(ctx, AddSpecimensCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: 0, SpecimenIDs: []string{"SPC-1"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), retried.Version)
		assert.Equal(t, 1, retried.SpecimenCount)
	})

	t.Run("shipment write fails", func(t *testing.T) {
		service, shipments, _ := newFlakyService(t)
		dto := createIn(t, service)
		shipments.updateErr = stderrors.New("connection reset")

		_, err := service.AddSpecimens(ctx, AddSpecimensCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: 0, SpecimenIDs: []string{"SPC-1", "SPC-2"}})
		require.Error(t, err)

		current, err := service.GetShipment(ctx, GetShipmentQuery{ShipmentID: dto.ShipmentID})
		require.NoError(t, err)
		assert.Equal(t, int64(0), current.Version)
		assert.Equal(t, 0, current.SpecimenCount)
	})
}

func TestRemoveSpecimen_FailedWriteRestoresSpecimen(t *testing.T) {
	ctx := context.Background()
	service, shipments, _ := newFlakyService(t)
	dto := createIn(t, service)
	dto, err := service.AddSpecimens(ctx, AddSpecimensCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: dto.Version, SpecimenIDs: []string{"SPC-1", "SPC-2"}})
	require.NoError(t, err)

	page, err := service.ListSpecimens(ctx, ListSpecimensQuery{ShipmentID: dto.ShipmentID, Page: api.DefaultPageRequest()})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)

	shipments.updateErr = stderrors.New("connection reset")
	_, err = service.RemoveSpecimen(ctx, RemoveSpecimenCommand{ShipmentID: dto.ShipmentID, ShipmentSpecimenID: page.Data[0].ShipmentSpecimenID})
	require.Error(t, err)

	current, err := service.GetShipment(ctx, GetShipmentQuery{ShipmentID: dto.ShipmentID})
	require.NoError(t, err)
	assert.Equal(t, dto.Version, current.Version)
	assert.Equal(t, 2, current.SpecimenCount)
}

func TestTransition_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	dto := f.createWithSpecimens(t, "SPC-1")

	dto = f.apply(t, dto, domain.TransitionPack, domain.TransitionTimes{TimePacked: at(8)})
	assert.Equal(t, string(domain.StatePacked), dto.State)

	dto = f.apply(t, dto, domain.TransitionSend, domain.TransitionTimes{TimeSent: at(9)})
	dto = f.apply(t, dto, domain.TransitionReceive, domain.TransitionTimes{TimeReceived: at(10)})
	dto = f.apply(t, dto, domain.TransitionUnpack, domain.TransitionTimes{TimeUnpacked: at(11)})

	_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
		ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: f.itemIDs(t, dto.ShipmentID), State: domain.ItemReceived,
	})
	require.NoError(t, err)

	dto = f.apply(t, dto, domain.TransitionComplete, domain.TransitionTimes{TimeCompleted: at(12)})
	assert.Equal(t, string(domain.StateCompleted), dto.State)
	assert.Equal(t, int64(6), dto.Version)
	assert.Equal(t, at(12).UTC(), dto.TimeCompleted.UTC())
}

func TestTransition_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		specimens  []string
		transition domain.Transition
		times      domain.TransitionTimes
		version    func(v int64) int64
		want       error
	}{
		{
			name:       "no specimens",
			transition: domain.TransitionPack,
			times:      domain.TransitionTimes{TimePacked: at(8)},
			want:       domain.ErrBusinessRule,
		},
		{
			name:       "illegal from CREATED",
			specimens:  []string{"SPC-1"},
			transition: domain.TransitionReceive,
			times:      domain.TransitionTimes{TimeReceived: at(8)},
			want:       domain.ErrBusinessRule,
		},
		{
			name:       "sent before packed",
			specimens:  []string{"SPC-1"},
			transition: domain.TransitionSkipToSent,
			times:      domain.TransitionTimes{TimePacked: at(9), TimeSent: at(8)},
			want:       domain.ErrTimeSentBeforePacked,
		},
		{
			name:       "stale version",
			specimens:  []string{"SPC-1"},
			transition: domain.TransitionPack,
			times:      domain.TransitionTimes{TimePacked: at(8)},
			version:    func(v int64) int64 { return v - 1 },
			want:       domain.ErrVersionConflict,
		},
		{
			name:       "remove is not a transition",
			transition: domain.TransitionRemove,
			want:       domain.ErrBusinessRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dto := f.create(t)
			if len(tt.specimens) > 0 {
				dto = f.createWithSpecimens(t, tt.specimens...)
			}
			version := dto.Version
			if tt.version != nil {
				version = tt.version(version)
			}

			_, err := f.service.Transition(context.Background(), TransitionCommand{
				ShipmentID:      dto.ShipmentID,
				ExpectedVersion: version,
				Transition:      tt.transition,
				Times:           tt.times,
			})
			assert.ErrorIs(t, err, tt.want)

			stored, err := f.service.GetShipment(context.Background(), GetShipmentQuery{ShipmentID: dto.ShipmentID})
			require.NoError(t, err)
			assert.Equal(t, dto.State, stored.State)
			assert.Equal(t, dto.Version, stored.Version)
		})
	}
}

func TestTransition_ReturnToReceivedBlockedByMissing(t *testing.T) {
	f := newFixture(t)
	dto := f.unpacked(t, "SPC-1", "SPC-2")
	ids := f.itemIDs(t, dto.ShipmentID)

	_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
		ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: ids[:1], State: domain.ItemMissing,
	})
	require.NoError(t, err)

	_, err = f.service.Transition(context.Background(), TransitionCommand{
		ShipmentID: dto.ShipmentID, ExpectedVersion: dto.Version, Transition: domain.TransitionReturnToReceived,
	})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)

	_, err = f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
		ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: ids[:1], State: domain.ItemPresent,
	})
	require.NoError(t, err)

	back := f.apply(t, dto, domain.TransitionReturnToReceived, domain.TransitionTimes{})
	assert.Equal(t, string(domain.StateReceived), back.State)
	assert.Nil(t, back.TimeUnpacked)
}

func TestTransition_CompleteBlockedByPresent(t *testing.T) {
	f := newFixture(t)
	dto := f.unpacked(t, "SPC-1")

	_, err := f.service.Transition(context.Background(), TransitionCommand{
		ShipmentID: dto.ShipmentID, ExpectedVersion: dto.Version,
		Transition: domain.TransitionComplete, Times: domain.TransitionTimes{TimeCompleted: at(12)},
	})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
}

func TestRemoveShipment(t *testing.T) {
	f := newFixture(t)

	t.Run("empty shipment", func(t *testing.T) {
		dto := f.create(t)
		require.NoError(t, f.service.RemoveShipment(context.Background(), RemoveShipmentCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: 0}))

		_, err := f.service.GetShipment(context.Background(), GetShipmentQuery{ShipmentID: dto.ShipmentID})
		assert.ErrorIs(t, err, domain.ErrShipmentNotFound)
	})

	t.Run("with specimens", func(t *testing.T) {
		dto := f.createWithSpecimens(t, "SPC-9")
		err := f.service.RemoveShipment(context.Background(), RemoveShipmentCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: dto.Version})
		assert.ErrorIs(t, err, domain.ErrBusinessRule)
	})

	t.Run("stale version", func(t *testing.T) {
		dto := f.create(t)
		err := f.service.RemoveShipment(context.Background(), RemoveShipmentCommand{ShipmentID: dto.ShipmentID, ExpectedVersion: 4})
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
	})
}

func TestRemoveSpecimen(t *testing.T) {
	f := newFixture(t)
	dto := f.createWithSpecimens(t, "SPC-1", "SPC-2")
	ids := f.itemIDs(t, dto.ShipmentID)

	out, err := f.service.RemoveSpecimen(context.Background(), RemoveSpecimenCommand{ShipmentID: dto.ShipmentID, ShipmentSpecimenID: ids[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, out.SpecimenCount)
	assert.Equal(t, dto.Version+1, out.Version)

	_, err = f.service.RemoveSpecimen(context.Background(), RemoveSpecimenCommand{ShipmentID: dto.ShipmentID, ShipmentSpecimenID: ids[0]})
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeNotFound, appErr.Code)
}

func TestTagSpecimens(t *testing.T) {
	f := newFixture(t)
	dto := f.unpacked(t, "SPC-1", "SPC-2")
	ids := f.itemIDs(t, dto.ShipmentID)

	tagged, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
		ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: ids, State: domain.ItemReceived,
	})
	require.NoError(t, err)
	require.Len(t, tagged, 2)
	assert.Equal(t, string(domain.ItemReceived), tagged[0].State)

	counts, err := f.specimens.CountByState(context.Background(), dto.ShipmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceCounts{Received: 2}, counts)

	t.Run("extra is not a tag", func(t *testing.T) {
		_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
			ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: ids, State: domain.ItemExtra,
		})
		assert.True(t, errors.IsAppError(err))
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
			ShipmentID: dto.ShipmentID, ShipmentSpecimenIDs: []string{"nope"}, State: domain.ItemPresent,
		})
		assert.ErrorIs(t, err, domain.ErrBusinessRule)
	})

	t.Run("not while CREATED", func(t *testing.T) {
		created := f.createWithSpecimens(t, "SPC-7")
		_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
			ShipmentID: created.ShipmentID, ShipmentSpecimenIDs: f.itemIDs(t, created.ShipmentID), State: domain.ItemReceived,
		})
		assert.ErrorIs(t, err, domain.ErrBusinessRule)
	})
}

func TestTagSpecimens_OnlyWhileUnpacked(t *testing.T) {
	tests := []struct {
		name   string
		target domain.ItemState
	}{
		{"present", domain.ItemPresent},
		{"received", domain.ItemReceived},
		{"missing", domain.ItemMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			unpacked := f.unpacked(t, "SPC-1")
			ids := f.itemIDs(t, unpacked.ShipmentID)
			received := f.apply(t, unpacked, domain.TransitionReturnToReceived, domain.TransitionTimes{})
			require.Equal(t, string(domain.StateReceived), received.State)

			_, err := f.service.TagSpecimens(context.Background(), TagSpecimensCommand{
				ShipmentID: received.ShipmentID, ShipmentSpecimenIDs: ids, State: tt.target,
			})
			assert.ErrorIs(t, err, domain.ErrBusinessRule)
		})
	}
}

func TestAddExtraSpecimens(t *testing.T) {
	f := newFixture(t)
	dto := f.unpacked(t, "SPC-1")

	out, err := f.service.AddExtraSpecimens(context.Background(), AddExtraSpecimensCommand{
		ShipmentID: dto.ShipmentID, SpecimenIDs: []string{"SPC-X"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.SpecimenCount)

	page, err := f.service.ListSpecimens(context.Background(), ListSpecimensQuery{
		ShipmentID: dto.ShipmentID, State: domain.ItemExtra, Page: api.DefaultPageRequest(),
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "SPC-X", page.Data[0].SpecimenID)

	_, err = f.service.AddExtraSpecimens(context.Background(), AddExtraSpecimensCommand{
		ShipmentID: dto.ShipmentID, SpecimenIDs: []string{"SPC-1"},
	})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
}

func TestListShipments(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.createWithSpecimens(t, "SPC-1", "SPC-2")

	page, err := f.service.ListShipments(context.Background(), ListShipmentsQuery{
		Filter: domain.ShipmentFilter{State: domain.StateCreated},
		Page:   api.PageRequest{Page: 1, PageSize: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalItems)
	assert.Len(t, page.Data, 1)
	assert.True(t, page.HasNext)
}
