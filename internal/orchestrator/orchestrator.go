// Package orchestrator sequences the user-facing steps of a shipment
// transition: validate, prompt, invoke, then notify and navigate.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/internal/lifecycle"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
)

// Outcome is how a workflow run ended
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeBlocked
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Orchestrator runs transition workflows against a shipment entity. It never
// retries: every failure is reported to the user once.
type Orchestrator struct {
	dialog    Dialog
	notifier  Notifier
	navigator Navigator
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an orchestrator with its collaborators
func New(dialog Dialog, notifier Notifier, navigator Navigator, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		dialog:    dialog,
		notifier:  notifier,
		navigator: navigator,
		logger:    logger.WithComponent("orchestrator"),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for default prompt values
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes the workflow for a transition. The returned error is the
// lifecycle error that blocked or failed the run; cancellation is not an error.
func (o *Orchestrator) Run(ctx context.Context, entity *lifecycle.Entity, t domain.Transition) (Outcome, error) {
	wf, ok := WorkflowFor(t)
	if !ok {
		o.notifier.Error(fmt.Sprintf("Unknown action %q", t))
		return OutcomeBlocked, fmt.Errorf("%w: %s", ErrUnknownWorkflow, t)
	}

	shipmentID := entity.ID()
	log := o.logger.WithContext(ctx).WithShipment(shipmentID, entity.Shipment().Version)

	// Step 1: Validate locally
	if d := entity.Check(t); !d.Allowed {
		err := d.Err(shipmentID)
		log.Info("Workflow blocked", "transition", string(t), "reason", d.Reason)
		o.notifier.Error(Explain(err))
		return OutcomeBlocked, err
	}

	// Step 2: Confirm and collect timestamps
	times, proceed, err := o.collect(ctx, wf)
	if err != nil {
		err = domain.NewTransportError("dialog failed", err)
		o.notifier.Error(Explain(err))
		return OutcomeFailed, err
	}
	if !proceed {
		log.Debug("Workflow cancelled", "transition", string(t))
		return OutcomeCancelled, nil
	}

	// Step 3: Invoke the entity
	if t == domain.TransitionRemove {
		err = entity.Remove(ctx)
	} else {
		_, err = entity.Apply(ctx, t, times)
	}

	// Step 4: Report
	if err != nil {
		log.Warn("Workflow failed", "transition", string(t), "kind", domain.KindOf(err).String(), "error", err.Error())
		o.notifier.Error(Explain(err))
		return OutcomeFailed, err
	}

	log.Info("Workflow applied", "transition", string(t))
	o.notifier.Success(wf.SuccessMessage)
	o.navigator.Navigate(wf.NextView, shipmentID)
	return OutcomeApplied, nil
}

// collect asks for confirmation and every timestamp the workflow needs. It
// returns proceed=false as soon as the user cancels any dialog.
func (o *Orchestrator) collect(ctx context.Context, wf Workflow) (domain.TransitionTimes, bool, error) {
	var times domain.TransitionTimes

	if wf.Confirmation != "" {
		ok, err := o.dialog.Confirm(ctx, wf.Title, wf.Confirmation)
		if err != nil || !ok {
			return times, false, err
		}
	}

	def := o.now()
	for _, p := range wf.Prompts {
		value, ok, err := o.dialog.PromptDateTime(ctx, wf.Title, p.Label, def)
		if err != nil || !ok {
			return times, false, err
		}
		times.Set(p.Field, value)
		def = value
	}

	return times, true, nil
}
