package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/api"
	"github.com/biobank/shipment-lifecycle/internal/application"
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/kafka"
	"github.com/biobank/shipment-lifecycle/internal/infrastructure/memory"
	"github.com/biobank/shipment-lifecycle/internal/orchestrator"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type testEnv struct {
	service *application.ShipmentService
	url     string
}

func newTestEnv(t *testing.T) *testEnv {
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
	server := httptest.NewServer(api.NewRouter(service, &api.RouterConfig{ServiceName: "shipctl-test", Logger: logger}))
	t.Cleanup(server.Close)

	return &testEnv{service: service, url: server.URL}
}

func (e *testEnv) createShipment(t *testing.T, specimenIDs ...string) *application.ShipmentDTO {
	t.Helper()
	ctx := context.Background()

	shipment, err := e.service.CreateShipment(ctx, application.CreateShipmentCommand{
		CourierName:    "FedEx",
		TrackingNumber: "TRK-0001",
		Origin:         domain.LocationRef{CentreID: "C1", LocationID: "L1"},
		Destination:    domain.LocationRef{CentreID: "C2", LocationID: "L2"},
	})
	require.NoError(t, err)

	if len(specimenIDs) > 0 {
		shipment, err = e.service.AddSpecimens(ctx, application.AddSpecimensCommand{
			ShipmentID:      shipment.ShipmentID,
			ExpectedVersion: shipment.Version,
			SpecimenIDs:     specimenIDs,
		})
		require.NoError(t, err)
	}
	return shipment
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()

	var out, errOut bytes.Buffer
	opts := &Options{
		APIURL:  e.url,
		Timeout: 5 * time.Second,
		In:      strings.NewReader(stdin),
		Out:     &out,
		ErrOut:  &errOut,
	}
	code := Execute(context.Background(), opts, args)
	return code, out.String(), errOut.String()
}

func TestCLI_PackSendReceive(t *testing.T) {
	env := newTestEnv(t)
	shipment := env.createShipment(t, "SP-1", "SP-2", "SP-3")

	code, out, errOut := env.run(t, "2026-03-01 09:00\n", "pack", shipment.ShipmentID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Shipment packed")
	assert.Contains(t, out, "shipctl show "+shipment.ShipmentID)

	code, out, errOut = env.run(t, "2026-03-01 10:00\n", "send", shipment.ShipmentID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Shipment sent")

	code, _, errOut = env.run(t, "2026-03-01 08:00\n", "receive", shipment.ShipmentID)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "The time received cannot be earlier than the time the shipment was sent.")

	code, out, errOut = env.run(t, "2026-03-02 10:00\n", "receive", shipment.ShipmentID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Shipment received")

	code, out, _ = env.run(t, "", "show", shipment.ShipmentID)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "RECEIVED")
	assert.Contains(t, out, "Specimens: 3 present, 0 received, 0 missing, 0 extra")
	assert.Contains(t, out, "shipctl unpack")
	assert.Contains(t, out, "shipctl return-to-sent")
}

func TestCLI_CreateWithIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	args := []string{"create",
		"--courier", "FedEx", "--tracking", "TRK-9",
		"--from-centre", "C1", "--from-location", "L1",
		"--to-centre", "C2", "--to-location", "L2",
		"--idempotency-key", "create-run-1",
	}

	code, first, errOut := env.run(t, "", args...)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, first, "Created shipment")

	code, second, errOut := env.run(t, "", args...)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, first, second)
}

func TestCLI_CancelLeavesShipmentUnchanged(t *testing.T) {
	env := newTestEnv(t)
	shipment := env.createShipment(t, "SP-1")

	code, out, _ := env.run(t, "c\n", "pack", shipment.ShipmentID)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Cancelled")

	current, err := env.service.GetShipment(context.Background(), application.GetShipmentQuery{ShipmentID: shipment.ShipmentID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateCreated), current.State)
	assert.Equal(t, shipment.Version, current.Version)
}

func TestCLI_BlockedWithoutSpecimens(t *testing.T) {
	env := newTestEnv(t)
	shipment := env.createShipment(t)

	code, _, errOut := env.run(t, "", "pack", shipment.ShipmentID)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "shipment has no specimens")
}

func TestCLI_RemoveWithConfirmation(t *testing.T) {
	env := newTestEnv(t)
	shipment := env.createShipment(t)

	code, out, errOut := env.run(t, "y\n", "remove", shipment.ShipmentID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Shipment removed")
	assert.Contains(t, out, "shipctl list")

	code, _, errOut = env.run(t, "", "show", shipment.ShipmentID)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "shipment not found")
}

func TestCLI_MissingSpecimenBlocksReturnToReceived(t *testing.T) {
	env := newTestEnv(t)
	shipment := env.createShipment(t, "SP-1", "SP-2")

	for _, step := range []struct {
		cmd, at string
	}{
		{"pack", "2026-03-01 09:00"},
		{"send", "2026-03-01 10:00"},
		{"receive", "2026-03-02 10:00"},
		{"unpack", "2026-03-02 11:00"},
	} {
		code, _, errOut := env.run(t, step.at+"\n", step.cmd, shipment.ShipmentID)
		require.Equal(t, 0, code, "%s: %s", step.cmd, errOut)
	}

	items, err := env.service.ListSpecimens(context.Background(), application.ListSpecimensQuery{
		ShipmentID: shipment.ShipmentID,
		State:      domain.ItemPresent,
	})
	require.NoError(t, err)
	require.Len(t, items.Data, 2)
	missingID := items.Data[0].ShipmentSpecimenID

	code, out, errOut := env.run(t, "", "tag-missing", shipment.ShipmentID, missingID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "1 missing")

	code, _, errOut = env.run(t, "y\n", "return-to-received", shipment.ShipmentID)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "still tagged as missing")

	code, out, errOut = env.run(t, "", "tag-present", shipment.ShipmentID, missingID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "No specimens are missing.")

	code, out, errOut = env.run(t, "y\n", "return-to-received", shipment.ShipmentID)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Shipment returned to received")
}

func TestCLI_UnreachableAPI(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close()

	var out, errOut bytes.Buffer
	code := Execute(context.Background(), &Options{
		APIURL:  server.URL,
		Timeout: time.Second,
		In:      strings.NewReader(""),
		Out:     &out,
		ErrOut:  &errOut,
	}, []string{"show", "SHP-1"})

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "request failed")
}

func TestTerminalDialog_PromptDateTime(t *testing.T) {
	def := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   time.Time
	}{
		{"empty accepts default", "\n", true, def},
		{"rfc3339", "2026-03-01T08:30:00Z\n", true, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)},
		{"local minutes", "2026-03-01 08:30\n", true, time.Date(2026, 3, 1, 8, 30, 0, 0, time.Local)},
		{"retry after garbage", "yesterday\n2026-03-01\n", true, time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)},
		{"cancel", "c\n", false, time.Time{}},
		{"end of input cancels", "", false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			d := NewTerminalDialog(strings.NewReader(tt.input), &out, false)

			got, ok, err := d.PromptDateTime(context.Background(), "Pack shipment", "Time packed", def)

			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
			assert.Contains(t, out.String(), "Time packed")
		})
	}
}

func TestTerminalDialog_Confirm(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		assumeYes bool
		want      bool
	}{
		{"yes", "y\n", false, true},
		{"full yes", "YES\n", false, true},
		{"no", "n\n", false, false},
		{"empty declines", "\n", false, false},
		{"assume yes", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewTerminalDialog(strings.NewReader(tt.input), &bytes.Buffer{}, tt.assumeYes)
			ok, err := d.Confirm(context.Background(), "Remove shipment", "Are you sure?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCommandNavigator(t *testing.T) {
	var out bytes.Buffer
	n := NewCommandNavigator(&out)

	n.Navigate(orchestrator.ViewSpecimens, "SHP-1")
	assert.Contains(t, out.String(), "shipctl specimens SHP-1")
}
