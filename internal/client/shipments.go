package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	apperrors "github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/biobank/shipment-lifecycle/pkg/idempotency"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/resilience"
	"github.com/biobank/shipment-lifecycle/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const specimenPageSize = 100

// Config holds the shipment API location and call policy
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	CircuitBreaker *resilience.CircuitBreakerConfig
}

// DefaultConfig returns a Config pointing at a local shipment API
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080",
		Timeout:        30 * time.Second,
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig("shipment-api"),
	}
}

// ShipmentsClient talks to the shipment REST API. Every failure it returns
// is a *domain.LifecycleError; this is the only place where backend error
// messages are interpreted.
type ShipmentsClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewShipmentsClient creates a new client. metrics may be nil.
func NewShipmentsClient(config *Config, m *metrics.Metrics, logger *logging.Logger) *ShipmentsClient {
	cbConfig := *config.CircuitBreaker
	// Rejections are a healthy backend answering; only transport failures count.
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || domain.KindOf(err) != domain.KindTransport
	}

	return &ShipmentsClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: resilience.NewCircuitBreaker(&cbConfig, logger.Logger),
		metrics: m,
		logger:  logger.WithComponent("shipments-client"),
		tracer:  otel.Tracer("shipments-client"),
	}
}

type errorEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// parseError extracts the code and message from an error envelope. Bodies
// that are not an envelope yield no code and the raw text as the message.
func parseError(status int, body []byte) (code, message string) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Data.Message != "" {
		return env.Data.Code, env.Data.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return "", msg
	}
	return "", http.StatusText(status)
}

// classifyResponse rebuilds a lifecycle error from a failed response. The
// envelope code decides the kind when it names one; otherwise the status and
// message do. A 409 with code CONFLICT is a locked idempotency key, not a
// stale version.
func classifyResponse(shipmentID string, status int, body []byte) *domain.LifecycleError {
	code, message := parseError(status, body)

	var kind domain.ErrorKind
	switch code {
	case apperrors.CodeVersionConflict:
		kind = domain.KindVersionConflict
	case apperrors.CodeTimeOrder:
		if le := domain.ClassifyMessage(shipmentID, status, message); le.Kind == domain.KindTimeOrder {
			return le
		}
		kind = domain.KindTimeOrder
	case apperrors.CodeNotFound:
		kind = domain.KindNotFound
	case apperrors.CodeBusinessRule, apperrors.CodeConflict, apperrors.CodeValidationError,
		apperrors.CodeBadRequest, idempotency.CodeParameterMismatch:
		kind = domain.KindBusinessRule
	default:
		return domain.ClassifyMessage(shipmentID, status, message)
	}

	return &domain.LifecycleError{Kind: kind, ShipmentID: shipmentID, Message: message}
}

// doRequest performs a call through the circuit breaker
func (c *ShipmentsClient) doRequest(ctx context.Context, operation, shipmentID, method, path string, body, result interface{}) error {
	return c.doRequestWithHeader(ctx, nil, operation, shipmentID, method, path, body, result)
}

func (c *ShipmentsClient) doRequestWithHeader(ctx context.Context, header http.Header, operation, shipmentID, method, path string, body, result interface{}) error {
	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, c.do(ctx, header, operation, shipmentID, method, path, body, result)
	})

	if c.metrics != nil {
		c.metrics.SetCircuitBreakerState(c.breaker.Name(), int(c.breaker.State()))
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return domain.NewTransportError("shipment service unavailable", err)
	}
	if _, ok := domain.AsLifecycleError(err); !ok {
		return domain.NewTransportError("request aborted", err)
	}
	return err
}

func (c *ShipmentsClient) do(ctx context.Context, header http.Header, operation, shipmentID, method, path string, body, result interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "shipments."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("shipment.id", shipmentID)),
	)
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	start := time.Now()
	status := 0
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordBackendRequest(operation, status, time.Since(start))
		}
		if err != nil {
			c.logger.WithContext(ctx).Debug("Shipment API call failed",
				"operation", operation, "shipmentId", shipmentID, "status", status, "error", err.Error())
		}
	}()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return domain.NewTransportError("failed to marshal request body", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return domain.NewTransportError("failed to create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransportError("request failed", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransportError("failed to read response body", err)
	}

	if resp.StatusCode >= 400 {
		return classifyResponse(shipmentID, resp.StatusCode, respBody)
	}

	if result != nil {
		if len(respBody) == 0 {
			return domain.NewTransportError(fmt.Sprintf("empty response with status %d", resp.StatusCode), nil)
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return domain.NewTransportError("unrecognised response", err)
		}
	}

	return nil
}

func shipmentPath(shipmentID string, parts ...string) string {
	path := "/api/v1/shipments/" + url.PathEscape(shipmentID)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// CreateShipment creates a new shipment. The request's idempotency key is
// generated when empty; repeating a call with the same key returns the
// shipment created the first time.
func (c *ShipmentsClient) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*domain.Shipment, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	header := http.Header{}
	header.Set(idempotency.HeaderIdempotencyKey, req.IdempotencyKey)

	var result domain.Shipment
	if err := c.doRequestWithHeader(ctx, header, "create", "", http.MethodPost, "/api/v1/shipments", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetShipment retrieves a shipment by ID
func (c *ShipmentsClient) GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	var result domain.Shipment
	if err := c.doRequest(ctx, "get", shipmentID, http.MethodGet, shipmentPath(shipmentID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListShipments returns one page of shipments, optionally in one state
func (c *ShipmentsClient) ListShipments(ctx context.Context, state domain.ShipmentState, page, pageSize int) ([]*domain.Shipment, bool, error) {
	query := url.Values{}
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("pageSize", fmt.Sprintf("%d", pageSize))
	if state != "" {
		query.Set("state", string(state))
	}

	var result shipmentPage
	if err := c.doRequest(ctx, "list", "", http.MethodGet, "/api/v1/shipments?"+query.Encode(), nil, &result); err != nil {
		return nil, false, err
	}
	return result.Data, result.HasNext, nil
}

// Transition asks the backend to apply a transition at the given version
func (c *ShipmentsClient) Transition(ctx context.Context, shipmentID string, version int64, t domain.Transition, times domain.TransitionTimes) (*domain.Shipment, error) {
	body := &transitionRequest{
		Transition:      string(t),
		ExpectedVersion: version,
		Times:           times,
	}

	var result domain.Shipment
	if err := c.doRequest(ctx, string(t), shipmentID, http.MethodPost, shipmentPath(shipmentID, "transitions"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RemoveShipment deletes an empty CREATED shipment
func (c *ShipmentsClient) RemoveShipment(ctx context.Context, shipmentID string, version int64) error {
	path := shipmentPath(shipmentID, fmt.Sprintf("%d", version))
	return c.doRequest(ctx, "remove", shipmentID, http.MethodDelete, path, nil, nil)
}

// AddSpecimens packs specimens into a CREATED shipment
func (c *ShipmentsClient) AddSpecimens(ctx context.Context, shipmentID string, version int64, specimenIDs []string) (*domain.Shipment, error) {
	body := &addSpecimensRequest{ExpectedVersion: version, SpecimenIDs: specimenIDs}

	var result domain.Shipment
	if err := c.doRequest(ctx, "addSpecimens", shipmentID, http.MethodPost, shipmentPath(shipmentID, "specimens"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSpecimens returns every specimen of a shipment, optionally restricted
// to one item state. Pages are fetched until the backend reports no more.
func (c *ShipmentsClient) ListSpecimens(ctx context.Context, shipmentID string, state domain.ItemState) ([]*domain.ShipmentSpecimen, error) {
	var all []*domain.ShipmentSpecimen

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", fmt.Sprintf("%d", page))
		query.Set("pageSize", fmt.Sprintf("%d", specimenPageSize))
		if state != "" {
			query.Set("state", string(state))
		}

		var result specimenPage
		path := shipmentPath(shipmentID, "specimens") + "?" + query.Encode()
		if err := c.doRequest(ctx, "listSpecimens", shipmentID, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}

		all = append(all, result.Data...)
		if !result.HasNext {
			return all, nil
		}
	}
}

// TagSpecimens changes the item state of shipment specimens
func (c *ShipmentsClient) TagSpecimens(ctx context.Context, shipmentID string, shipmentSpecimenIDs []string, state domain.ItemState) ([]*domain.ShipmentSpecimen, error) {
	body := &tagSpecimensRequest{State: string(state), ShipmentSpecimenIDs: shipmentSpecimenIDs}

	var result []*domain.ShipmentSpecimen
	if err := c.doRequest(ctx, "tagSpecimens", shipmentID, http.MethodPost, shipmentPath(shipmentID, "specimens", "tag"), body, &result); err != nil {
		return nil, err
	}
	return result, nil
}
