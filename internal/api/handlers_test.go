package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/biobank/shipment-lifecycle/internal/application"
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/kafka"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/memory"
	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/biobank/shipment-lifecycle/pkg/idempotency"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.Discard()
	service := application.NewShipmentService(
		memory.NewShipmentRepository(),
		memory.NewShipmentSpecimenRepository(),
		kafka.NoopPublisher{},
		nil,
		logger,
	)
	return NewRouter(service, &RouterConfig{ServiceName: "shipments-test", Logger: logger})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var newShipmentBody = map[string]any{
	"courierName":    "FedEx",
	"trackingNumber": "TRK-0001",
	"origin":         map[string]string{"centreId": "C1", "locationId": "L1"},
	"destination":    map[string]string{"centreId": "C2", "locationId": "L2"},
}

func createShipment(t *testing.T, router *gin.Engine, specimenIDs ...string) application.ShipmentDTO {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/shipments", newShipmentBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	shipment := decode[application.ShipmentDTO](t, w)

	if len(specimenIDs) > 0 {
		w = doJSON(t, router, http.MethodPost, "/api/v1/shipments/"+shipment.ShipmentID+"/specimens", map[string]any{
			"expectedVersion": shipment.Version,
			"specimenIds":     specimenIDs,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		shipment = decode[application.ShipmentDTO](t, w)
	}
	return shipment
}

func transition(t *testing.T, router *gin.Engine, id string, version int64, tr domain.Transition, times map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, http.MethodPost, "/api/v1/shipments/"+id+"/transitions", map[string]any{
		"transition":      tr,
		"expectedVersion": version,
		"times":           times,
	})
}

func TestCreateAndGetShipment(t *testing.T) {
	router := setupRouter(t)
	created := createShipment(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/shipments/"+created.ShipmentID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The backend answers with the entity itself, which decodes into the
	// domain type clients hold.
	got := decode[domain.Shipment](t, w)
	assert.Equal(t, created.ShipmentID, got.ShipmentID)
	assert.Equal(t, domain.StateCreated, got.State)
	assert.Equal(t, "L1", got.Origin.LocationID)
}

func TestCreateShipment_ValidationErrors(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/shipments", map[string]any{"courierName": "FedEx"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[middleware.ErrorResponse](t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, errors.CodeValidationError, resp.Data.Code)
	assert.Contains(t, resp.Data.Details, "trackingNumber")
}

func TestCreateShipment_IdempotencyKey(t *testing.T) {
	router := setupRouter(t)

	create := func(key string) *httptest.ResponseRecorder {
		data, err := json.Marshal(newShipmentBody)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(idempotency.HeaderIdempotencyKey, key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := create("create-1")
	second := create("create-1")
	other := create("create-2")

	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, decode[application.ShipmentDTO](t, first).ShipmentID, decode[application.ShipmentDTO](t, second).ShipmentID)
	assert.NotEqual(t, decode[application.ShipmentDTO](t, first).ShipmentID, decode[application.ShipmentDTO](t, other).ShipmentID)

	w := doJSON(t, router, http.MethodGet, "/api/v1/shipments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalItems":2`)
}

func TestGetShipment_NotFound(t *testing.T) {
	router := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/shipments/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[middleware.ErrorResponse](t, w)
	assert.Equal(t, errors.CodeNotFound, resp.Data.Code)
	assert.Contains(t, resp.Data.Message, "shipment not found")
}

func TestTransition_ErrorStatuses(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name       string
		specimens  []string
		transition domain.Transition
		version    int64
		times      map[string]string
		status     int
		code       string
		phrase     string
	}{
		{
			name:       "stale version",
			specimens:  []string{"SPC-1"},
			transition: domain.TransitionPack,
			version:    0,
			times:      map[string]string{"timePacked": "2026-03-01T08:00:00Z"},
			status:     http.StatusConflict,
			code:       errors.CodeVersionConflict,
			phrase:     "expected version doesn't match current version",
		},
		{
			name:       "time order",
			specimens:  []string{"SPC-2"},
			transition: domain.TransitionSkipToSent,
			version:    1,
			times:      map[string]string{"timePacked": "2026-03-01T09:00:00Z", "timeSent": "2026-03-01T08:00:00Z"},
			status:     http.StatusUnprocessableEntity,
			code:       errors.CodeTimeOrder,
			phrase:     "time sent is before time packed",
		},
		{
			name:       "no specimens",
			transition: domain.TransitionPack,
			version:    0,
			times:      map[string]string{"timePacked": "2026-03-01T08:00:00Z"},
			status:     http.StatusUnprocessableEntity,
			code:       errors.CodeBusinessRule,
			phrase:     "no specimens",
		},
		{
			name:       "unknown transition",
			transition: domain.Transition("teleport"),
			status:     http.StatusBadRequest,
			code:       errors.CodeValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shipment := createShipment(t, router, tt.specimens...)

			w := transition(t, router, shipment.ShipmentID, tt.version, tt.transition, tt.times)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			resp := decode[middleware.ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Data.Code)
			if tt.phrase != "" {
				assert.Contains(t, resp.Data.Message, tt.phrase)
			}
		})
	}
}

func TestTransition_Success(t *testing.T) {
	router := setupRouter(t)
	shipment := createShipment(t, router, "SPC-1")

	w := transition(t, router, shipment.ShipmentID, shipment.Version, domain.TransitionPack,
		map[string]string{"timePacked": "2026-03-01T08:00:00Z"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	packed := decode[domain.Shipment](t, w)
	assert.Equal(t, domain.StatePacked, packed.State)
	assert.Equal(t, shipment.Version+1, packed.Version)
	assert.Equal(t, 1, packed.SpecimenCount)
	require.NotNil(t, packed.TimePacked)
}

func TestRemoveShipment(t *testing.T) {
	router := setupRouter(t)

	empty := createShipment(t, router)
	w := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/shipments/%s/%d", empty.ShipmentID, empty.Version), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	full := createShipment(t, router, "SPC-1")
	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/shipments/%s/%d", full.ShipmentID, full.Version), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/shipments/"+full.ShipmentID+"/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpecimenRoutes(t *testing.T) {
	router := setupRouter(t)
	shipment := createShipment(t, router, "SPC-1", "SPC-2")
	id := shipment.ShipmentID

	for _, step := range []struct {
		tr    domain.Transition
		times map[string]string
	}{
		{domain.TransitionSkipToSent, map[string]string{"timePacked": "2026-03-01T08:00:00Z", "timeSent": "2026-03-01T09:00:00Z"}},
		{domain.TransitionReceive, map[string]string{"timeReceived": "2026-03-01T10:00:00Z"}},
		{domain.TransitionUnpack, map[string]string{"timeUnpacked": "2026-03-01T11:00:00Z"}},
	} {
		w := transition(t, router, id, shipment.Version, step.tr, step.times)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		shipment = decode[application.ShipmentDTO](t, w)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/shipments/"+id+"/specimens?state=PRESENT", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Data       []application.ShipmentSpecimenDTO `json:"data"`
		TotalItems int64                             `json:"totalItems"`
	}](t, w)
	require.Len(t, page.Data, 2)

	w = doJSON(t, router, http.MethodPost, "/api/v1/shipments/"+id+"/specimens/tag", map[string]any{
		"state":               "MISSING",
		"shipmentSpecimenIds": []string{page.Data[0].ShipmentSpecimenID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = transition(t, router, id, shipment.Version, domain.TransitionReturnToReceived, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/shipments/"+id+"/specimens/tag", map[string]any{
		"state":               "BROKEN",
		"shipmentSpecimenIds": []string{page.Data[0].ShipmentSpecimenID},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[middleware.ErrorResponse](t, w).Data.Details, "state")

	w = doJSON(t, router, http.MethodPost, "/api/v1/shipments/"+id+"/specimens/extra", map[string]any{
		"specimenIds": []string{"SPC-X"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, decode[application.ShipmentDTO](t, w).SpecimenCount)
}

func TestListShipments_InvalidState(t *testing.T) {
	router := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/shipments?state=FLYING", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMapLifecycleError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.NewVersionConflict("S1", 1, 2), http.StatusConflict},
		{domain.NewTimeOrderViolation("S1", domain.TimeReceivedBeforeSent), http.StatusUnprocessableEntity},
		{domain.NewBusinessRuleError("S1", "nope"), http.StatusUnprocessableEntity},
		{domain.NewNotFoundError("S1"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.NewNotFoundError("S1")), http.StatusNotFound},
		{domain.NewTransportError("db down", context.DeadlineExceeded), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := mapLifecycleError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}

	assert.Nil(t, mapLifecycleError(fmt.Errorf("plain")))
}

func TestTraceShipment_TagsRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := provider.Tracer("test").Start(context.Background(), "PUT /shipments/:id/transition")

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPut, "/shipments/S1/transition", nil).WithContext(ctx)

	traceShipment(c, &application.ShipmentDTO{ShipmentID: "S1", State: "PACKED", Version: 3})
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := spans[0].Attributes()
	assert.Contains(t, attrs, attribute.String("shipment.id", "S1"))
	assert.Contains(t, attrs, attribute.String("shipment.state", "PACKED"))
	assert.Contains(t, attrs, attribute.Int64("shipment.version", 3))
}
