package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/orchestrator"
	"github.com/fatih/color"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TerminalDialog prompts on a terminal. An empty answer accepts the default
// and "c" cancels.
type TerminalDialog struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

// NewTerminalDialog creates a dialog reading answers from in. With assumeYes
// every confirmation is accepted without asking.
func NewTerminalDialog(in io.Reader, out io.Writer, assumeYes bool) *TerminalDialog {
	return &TerminalDialog{in: bufio.NewReader(in), out: out, assumeYes: assumeYes}
}

func (d *TerminalDialog) readLine(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	line, err := d.in.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", false, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	return strings.TrimSpace(line), true, nil
}

// Confirm asks a yes/no question. Anything but y or yes declines.
func (d *TerminalDialog) Confirm(ctx context.Context, title, body string) (bool, error) {
	if d.assumeYes {
		return true, nil
	}

	fmt.Fprintf(d.out, "%s\n%s [y/N]: ", color.New(color.Bold).Sprint(title), body)
	answer, ok, err := d.readLine(ctx)
	if err != nil || !ok {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// PromptDateTime asks for a timestamp until a valid one is entered
func (d *TerminalDialog) PromptDateTime(ctx context.Context, title, label string, def time.Time) (time.Time, bool, error) {
	fmt.Fprintln(d.out, color.New(color.Bold).Sprint(title))

	for {
		fmt.Fprintf(d.out, "%s [%s] (c to cancel): ", label, def.Format(time.RFC3339))
		answer, ok, err := d.readLine(ctx)
		if err != nil || !ok {
			return time.Time{}, false, err
		}

		switch strings.ToLower(answer) {
		case "":
			return def, true, nil
		case "c", "cancel":
			return time.Time{}, false, nil
		}

		if t, err := parseTime(answer); err == nil {
			return t, true, nil
		}
		fmt.Fprintf(d.out, "%s could not parse %q, use e.g. %s\n",
			color.New(color.FgYellow).Sprint("!"), answer, def.Format("2006-01-02 15:04"))
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// ColorNotifier prints success in green to out and errors in red to errOut
type ColorNotifier struct {
	out    io.Writer
	errOut io.Writer
}

func NewColorNotifier(out, errOut io.Writer) *ColorNotifier {
	return &ColorNotifier{out: out, errOut: errOut}
}

func (n *ColorNotifier) Success(message string) {
	fmt.Fprintf(n.out, "%s %s\n", color.New(color.FgGreen).Sprint("✓"), message)
}

func (n *ColorNotifier) Error(message string) {
	fmt.Fprintf(n.errOut, "%s %s\n", color.New(color.FgRed).Sprint("✗"), message)
}

// CommandNavigator suggests the command that shows the next view
type CommandNavigator struct {
	out io.Writer
}

func NewCommandNavigator(out io.Writer) *CommandNavigator {
	return &CommandNavigator{out: out}
}

func (n *CommandNavigator) Navigate(view orchestrator.View, shipmentID string) {
	var next string
	switch view {
	case orchestrator.ViewShipments:
		next = "shipctl list"
	case orchestrator.ViewSpecimens:
		next = "shipctl specimens " + shipmentID
	default:
		next = "shipctl show " + shipmentID
	}
	fmt.Fprintf(n.out, "\nNext:\n   %s\n", next)
}
