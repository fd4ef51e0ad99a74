package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/idempotency"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ShipmentsClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.BaseURL = server.URL
	config.Timeout = 2 * time.Second
	config.CircuitBreaker = resilience.DefaultCircuitBreakerConfig("test-shipment-api")
	config.CircuitBreaker.FailureThreshold = 2
	config.CircuitBreaker.Timeout = time.Minute

	return NewShipmentsClient(config, nil, logging.Discard())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"data": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestShipmentsClient_GetShipment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/shipments/SHP-1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            "SHP-1",
			"version":       3,
			"state":         "PACKED",
			"specimenCount": 2,
		})
	})

	shipment, err := c.GetShipment(context.Background(), "SHP-1")
	require.NoError(t, err)
	assert.Equal(t, "SHP-1", shipment.ShipmentID)
	assert.Equal(t, int64(3), shipment.Version)
	assert.Equal(t, domain.StatePacked, shipment.State)
	assert.Equal(t, 2, shipment.SpecimenCount)
}

func TestShipmentsClient_TransitionSendsVersionAndTimes(t *testing.T) {
	sent := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/shipments/SHP-1/transitions", r.URL.Path)

		var body transitionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "send", body.Transition)
		assert.Equal(t, int64(4), body.ExpectedVersion)
		require.NotNil(t, body.Times.TimeSent)
		assert.True(t, sent.Equal(*body.Times.TimeSent))

		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "SHP-1", "version": 5, "state": "SENT"})
	})

	shipment, err := c.Transition(context.Background(), "SHP-1", 4, domain.TransitionSend, domain.TransitionTimes{TimeSent: &sent})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, shipment.State)
	assert.Equal(t, int64(5), shipment.Version)
}

func TestShipmentsClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		message  string
		wantKind domain.ErrorKind
		wantTime domain.TimeOrderKind
	}{
		{
			name:     "version conflict",
			status:   http.StatusConflict,
			code:     "VERSION_CONFLICT",
			message:  "expected version doesn't match current version: expected 1, actual 2",
			wantKind: domain.KindVersionConflict,
		},
		{
			name:     "time order",
			status:   http.StatusUnprocessableEntity,
			code:     "TIME_ORDER_VIOLATION",
			message:  "time sent is before time packed",
			wantKind: domain.KindTimeOrder,
			wantTime: domain.TimeSentBeforePacked,
		},
		{
			name:     "business rule",
			status:   http.StatusUnprocessableEntity,
			code:     "BUSINESS_RULE_VIOLATION",
			message:  "shipment has no specimens",
			wantKind: domain.KindBusinessRule,
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			code:     "NOT_FOUND",
			message:  "shipment not found",
			wantKind: domain.KindNotFound,
		},
		{
			name:     "locked idempotency key",
			status:   http.StatusConflict,
			code:     "CONFLICT",
			message:  "a request with this idempotency key is currently being processed",
			wantKind: domain.KindBusinessRule,
		},
		{
			name:     "idempotency key reused with another body",
			status:   http.StatusUnprocessableEntity,
			code:     "IDEMPOTENCY_PARAMETER_MISMATCH",
			message:  "idempotency key was already used with different request parameters",
			wantKind: domain.KindBusinessRule,
		},
		{
			name:     "time order code without a known phrase",
			status:   http.StatusUnprocessableEntity,
			code:     "TIME_ORDER_VIOLATION",
			message:  "timestamps out of order",
			wantKind: domain.KindTimeOrder,
		},
		{
			name:     "plain conflict body",
			status:   http.StatusConflict,
			message:  "stale",
			wantKind: domain.KindVersionConflict,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			code:     "INTERNAL_ERROR",
			message:  "An internal error occurred",
			wantKind: domain.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					http.Error(w, tt.message, tt.status)
					return
				}
				writeError(w, tt.status, tt.code, tt.message)
			})

			_, err := c.Transition(context.Background(), "SHP-1", 1, domain.TransitionSend, domain.TransitionTimes{})
			require.Error(t, err)

			le, ok := domain.AsLifecycleError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, le.Kind)
			assert.Equal(t, "SHP-1", le.ShipmentID)
			if tt.wantKind == domain.KindTimeOrder {
				assert.Equal(t, tt.wantTime, le.TimeOrder)
			}
		})
	}
}

func TestShipmentsClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeError(w, http.StatusConflict, "VERSION_CONFLICT", "expected version doesn't match current version")
	})

	for i := 0; i < 5; i++ {
		_, err := c.GetShipment(context.Background(), "SHP-1")
		assert.Equal(t, domain.KindVersionConflict, domain.KindOf(err))
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestShipmentsClient_CircuitOpensOnTransportFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := c.GetShipment(context.Background(), "SHP-1")
		assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	}

	_, err := c.GetShipment(context.Background(), "SHP-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestShipmentsClient_UnreachableBackendIsTransport(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	config := DefaultConfig()
	config.BaseURL = server.URL
	c := NewShipmentsClient(config, nil, logging.Discard())

	_, err := c.GetShipment(context.Background(), "SHP-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestShipmentsClient_PropagatesTraceContext(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var header string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("traceparent")
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "SHP-1"})
	})

	_, err := c.GetShipment(ctx, "SHP-1")
	require.NoError(t, err)
	assert.Contains(t, header, traceID.String())
}

func TestShipmentsClient_ListSpecimensFollowsPages(t *testing.T) {
	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/shipments/SHP-1/specimens", r.URL.Path)
		assert.Equal(t, "MISSING", r.URL.Query().Get("state"))

		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		id := "SS-" + page
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":    []map[string]interface{}{{"id": id, "shipmentId": "SHP-1", "state": "MISSING"}},
			"hasNext": page == "1",
		})
	})

	items, err := c.ListSpecimens(context.Background(), "SHP-1", domain.ItemMissing)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Equal(t, "SS-1", items[0].ShipmentSpecimenID)
	assert.Equal(t, domain.ItemMissing, items[1].State)
}

func TestShipmentsClient_TagSpecimens(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/shipments/SHP-1/specimens/tag", r.URL.Path)

		var body tagSpecimensRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "RECEIVED", body.State)
		assert.Equal(t, []string{"SS-1"}, body.ShipmentSpecimenIDs)

		writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": "SS-1", "state": "RECEIVED"}})
	})

	items, err := c.TagSpecimens(context.Background(), "SHP-1", []string{"SS-1"}, domain.ItemReceived)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ItemReceived, items[0].State)
}

func TestShipmentsClient_RemoveShipment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/shipments/SHP-1/7", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.RemoveShipment(context.Background(), "SHP-1", 7))
}

func TestShipmentsClient_CreateShipmentSendsIdempotencyKey(t *testing.T) {
	var keys []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		keys = append(keys, r.Header.Get(idempotency.HeaderIdempotencyKey))
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": "SHP-1", "state": "CREATED"})
	})

	generated := &CreateShipmentRequest{CourierName: "FedEx"}
	_, err := c.CreateShipment(context.Background(), generated)
	require.NoError(t, err)

	_, err = c.CreateShipment(context.Background(), &CreateShipmentRequest{CourierName: "FedEx", IdempotencyKey: "create-42"})
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, generated.IdempotencyKey, keys[0])
	assert.Equal(t, "create-42", keys[1])
}
