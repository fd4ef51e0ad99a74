package cli

import (
	"fmt"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/lifecycle"
	"github.com/biobank/shipment-lifecycle/internal/orchestrator"
	"github.com/biobank/shipment-lifecycle/internal/tracker"
	"github.com/spf13/cobra"
)

type transitionSpec struct {
	use        string
	short      string
	transition domain.Transition
}

var transitionCommands = []transitionSpec{
	{"pack", "Pack a CREATED shipment", domain.TransitionPack},
	{"skip-to-sent", "Pack and send a CREATED shipment in one step", domain.TransitionSkipToSent},
	{"send", "Send a PACKED shipment", domain.TransitionSend},
	{"receive", "Receive a SENT shipment", domain.TransitionReceive},
	{"unpack", "Unpack a RECEIVED shipment", domain.TransitionUnpack},
	{"complete", "Complete an UNPACKED shipment", domain.TransitionComplete},
	{"lost", "Tag a shipment as lost", domain.TransitionTagAsLost},
	{"return-to-sent", "Return a RECEIVED shipment to SENT", domain.TransitionReturnToSent},
	{"return-to-received", "Return an UNPACKED shipment to RECEIVED", domain.TransitionReturnToReceived},
	{"remove", "Remove an empty CREATED shipment", domain.TransitionRemove},
}

func commandFor(t domain.Transition) (transitionSpec, bool) {
	for _, spec := range transitionCommands {
		if spec.transition == t {
			return spec, true
		}
	}
	return transitionSpec{}, false
}

func transitionCmd(opts *Options, spec transitionSpec) *cobra.Command {
	return &cobra.Command{
		Use:   spec.use + " [shipment-id]",
		Short: spec.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			ctx := cmd.Context()

			entity, err := lifecycle.Load(ctx, s.client, args[0], s.logger)
			if err != nil {
				return err
			}

			if tracksPresence(entity.Shipment().State) {
				presence := tracker.New(s.client, entity.ID())
				if err := presence.Refresh(ctx); err != nil {
					return err
				}
				entity.SetPresence(presence)
			}

			outcome, err := s.orch.Run(ctx, entity, spec.transition)
			switch outcome {
			case orchestrator.OutcomeApplied:
				return nil
			case orchestrator.OutcomeCancelled:
				fmt.Fprintln(opts.Out, "Cancelled, nothing was changed.")
				return nil
			default:
				return reportedError{err: err}
			}
		},
	}
}
