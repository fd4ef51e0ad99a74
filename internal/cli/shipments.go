package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/client"
	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/lifecycle"
	"github.com/biobank/shipment-lifecycle/internal/tracker"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func listCmd(opts *Options) *cobra.Command {
	var (
		state    string
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()

			filter := domain.ShipmentState(strings.ToUpper(state))
			if filter != "" && !filter.IsValid() {
				return fmt.Errorf("unknown state %q", state)
			}

			shipments, hasNext, err := s.client.ListShipments(cmd.Context(), filter, page, pageSize)
			if err != nil {
				return err
			}

			if len(shipments) == 0 {
				fmt.Fprintln(opts.Out, "No shipments found.")
				return nil
			}

			w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tCOURIER\tTRACKING\tSPECIMENS\tVERSION")
			for _, sh := range shipments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					sh.ShipmentID, stateLabel(sh.State), sh.CourierName, sh.TrackingNumber, sh.SpecimenCount, sh.Version)
			}
			w.Flush()

			if hasNext {
				fmt.Fprintf(opts.Out, "\nMore results: shipctl list --page %d\n", page+1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "Only shipments in this state")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Page size")
	return cmd
}

func showCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [shipment-id]",
		Short: "Show a shipment and the actions currently allowed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			ctx := cmd.Context()

			entity, err := lifecycle.Load(ctx, s.client, args[0], s.logger)
			if err != nil {
				return err
			}

			shipment := entity.Shipment()
			printShipment(opts.Out, shipment)

			if tracksPresence(shipment.State) {
				presence := tracker.New(s.client, shipment.ShipmentID)
				if err := presence.Refresh(ctx); err != nil {
					return err
				}
				entity.SetPresence(presence)
				printCounts(opts.Out, presence.Counts())
			}

			printAvailable(opts.Out, shipment.ShipmentID, entity.Available())
			return nil
		},
	}
}

func createCmd(opts *Options) *cobra.Command {
	var req client.CreateShipmentRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a shipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()

			shipment, err := s.client.CreateShipment(cmd.Context(), &req)
			if err != nil {
				return err
			}

			fmt.Fprintf(opts.Out, "%s Created shipment %s\n", color.New(color.FgGreen).Sprint("✓"), shipment.ShipmentID)
			fmt.Fprintln(opts.Out)
			fmt.Fprintln(opts.Out, "Next steps:")
			fmt.Fprintf(opts.Out, "   shipctl add-specimens %s <specimen-id>...\n", shipment.ShipmentID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.CourierName, "courier", "", "Courier name")
	cmd.Flags().StringVar(&req.TrackingNumber, "tracking", "", "Tracking number")
	cmd.Flags().StringVar(&req.Origin.CentreID, "from-centre", "", "Origin centre ID")
	cmd.Flags().StringVar(&req.Origin.LocationID, "from-location", "", "Origin location ID")
	cmd.Flags().StringVar(&req.Destination.CentreID, "to-centre", "", "Destination centre ID")
	cmd.Flags().StringVar(&req.Destination.LocationID, "to-location", "", "Destination location ID")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Key making a repeated create return the same shipment")
	for _, name := range []string{"courier", "tracking", "from-centre", "from-location", "to-centre", "to-location"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func addSpecimensCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-specimens [shipment-id] [specimen-id...]",
		Short: "Add specimens to a CREATED shipment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			ctx := cmd.Context()

			current, err := s.client.GetShipment(ctx, args[0])
			if err != nil {
				return err
			}

			updated, err := s.client.AddSpecimens(ctx, current.ShipmentID, current.Version, args[1:])
			if err != nil {
				return err
			}

			fmt.Fprintf(opts.Out, "%s Shipment %s now holds %d specimen(s)\n",
				color.New(color.FgGreen).Sprint("✓"), updated.ShipmentID, updated.SpecimenCount)
			return nil
		},
	}
}

// tracksPresence reports whether specimen item states matter in a state
func tracksPresence(state domain.ShipmentState) bool {
	return state == domain.StateReceived || state == domain.StateUnpacked
}

func stateLabel(state domain.ShipmentState) string {
	switch state {
	case domain.StateCompleted:
		return color.New(color.FgGreen).Sprint(state)
	case domain.StateLost:
		return color.New(color.FgRed).Sprint(state)
	case domain.StateCreated:
		return string(state)
	default:
		return color.New(color.FgCyan).Sprint(state)
	}
}

func printShipment(out io.Writer, s *domain.Shipment) {
	fmt.Fprintf(out, "Shipment %s [%s] (version %d)\n", s.ShipmentID, stateLabel(s.State), s.Version)
	fmt.Fprintf(out, "   Courier:   %s %s\n", s.CourierName, s.TrackingNumber)
	fmt.Fprintf(out, "   From:      %s/%s\n", s.Origin.CentreID, s.Origin.LocationID)
	fmt.Fprintf(out, "   To:        %s/%s\n", s.Destination.CentreID, s.Destination.LocationID)
	fmt.Fprintf(out, "   Specimens: %d\n", s.SpecimenCount)

	for _, row := range []struct {
		label string
		t     *time.Time
	}{
		{"Packed", s.TimePacked},
		{"Sent", s.TimeSent},
		{"Received", s.TimeReceived},
		{"Unpacked", s.TimeUnpacked},
		{"Completed", s.TimeCompleted},
	} {
		if row.t != nil {
			fmt.Fprintf(out, "   %-10s %s\n", row.label+":", row.t.Local().Format("2006-01-02 15:04"))
		}
	}
}

func printAvailable(out io.Writer, shipmentID string, available []domain.Transition) {
	fmt.Fprintln(out)
	if len(available) == 0 {
		fmt.Fprintln(out, "No actions available.")
		return
	}

	fmt.Fprintln(out, "Available actions:")
	for _, t := range available {
		if spec, ok := commandFor(t); ok {
			fmt.Fprintf(out, "   shipctl %s %s\n", spec.use, shipmentID)
		}
	}
}

func printCounts(out io.Writer, c domain.PresenceCounts) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Specimens: %d present, %d received, %d missing, %d extra\n",
		c.Present, c.Received, c.Missing, c.Extra)
}
