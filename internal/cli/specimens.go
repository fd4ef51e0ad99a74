package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/orchestrator"
	"github.com/biobank/shipment-lifecycle/internal/tracker"
	"github.com/spf13/cobra"
)

func specimensCmd(opts *Options) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "specimens [shipment-id]",
		Short: "List the specimens of a shipment by item state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()

			states := domain.ItemStates
			if state != "" {
				filter := domain.ItemState(strings.ToUpper(state))
				if !filter.IsValid() {
					return fmt.Errorf("unknown item state %q", state)
				}
				states = []domain.ItemState{filter}
			}

			presence := tracker.New(s.client, args[0])
			if err := presence.Refresh(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSPECIMEN\tSTATE")
			for _, st := range states {
				for _, item := range presence.Items(st) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", item.ShipmentSpecimenID, item.SpecimenID, item.State)
				}
			}
			w.Flush()

			printCounts(opts.Out, presence.Counts())
			return nil
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "Only specimens in this item state")
	return cmd
}

type tagSpec struct {
	use   string
	short string
	state domain.ItemState
}

var tagCommands = []tagSpec{
	{"tag-present", "Tag shipment specimens as present", domain.ItemPresent},
	{"tag-received", "Tag shipment specimens as received", domain.ItemReceived},
	{"tag-missing", "Tag shipment specimens as missing", domain.ItemMissing},
}

func tagCmd(opts *Options, spec tagSpec) *cobra.Command {
	return &cobra.Command{
		Use:   spec.use + " [shipment-id] [shipment-specimen-id...]",
		Short: spec.short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			ctx := cmd.Context()
			notifier := NewColorNotifier(opts.Out, opts.ErrOut)

			presence := tracker.New(s.client, args[0])
			if err := presence.Refresh(ctx); err != nil {
				return err
			}

			ids := args[1:]
			var err error
			switch spec.state {
			case domain.ItemPresent:
				err = presence.TagAsPresent(ctx, ids...)
			case domain.ItemReceived:
				err = presence.TagAsReceived(ctx, ids...)
			case domain.ItemMissing:
				err = presence.TagAsMissing(ctx, ids...)
			}
			if errors.Is(err, tracker.ErrStale) {
				notifier.Success(fmt.Sprintf("%d specimen(s) tagged %s", len(ids), spec.state))
				notifier.Error("The specimen counts could not be reloaded and may be out of date.")
				printCounts(opts.Out, presence.Counts())
				return nil
			}
			if err != nil {
				notifier.Error(orchestrator.Explain(err))
				return reportedError{err: err}
			}

			notifier.Success(fmt.Sprintf("%d specimen(s) tagged %s", len(ids), spec.state))
			printCounts(opts.Out, presence.Counts())
			if !presence.HasOutstandingMissing() {
				fmt.Fprintln(opts.Out, "No specimens are missing.")
			}
			return nil
		},
	}
}
