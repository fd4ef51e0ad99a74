// Package cli implements shipctl, the terminal front end of the shipment
// lifecycle.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/client"
	"github.com/biobank/shipment-lifecycle/internal/orchestrator"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/spf13/cobra"
)

// Options carries everything the commands share
type Options struct {
	APIURL    string
	Timeout   time.Duration
	AssumeYes bool
	Verbose   bool

	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// DefaultOptions reads SHIPMENT_API_URL and SHIPMENT_API_TIMEOUT
func DefaultOptions() *Options {
	timeout, err := time.ParseDuration(getEnv("SHIPMENT_API_TIMEOUT", "30s"))
	if err != nil {
		timeout = 30 * time.Second
	}

	return &Options{
		APIURL:  getEnv("SHIPMENT_API_URL", "http://localhost:8080"),
		Timeout: timeout,
		In:      os.Stdin,
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
	}
}

// session is built once flags are parsed
type session struct {
	opts   *Options
	client *client.ShipmentsClient
	logger *logging.Logger
	orch   *orchestrator.Orchestrator
}

func (o *Options) session() *session {
	level := logging.LevelError
	if o.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(&logging.Config{
		Level:       level,
		ServiceName: "shipctl",
		Environment: getEnv("ENVIRONMENT", "development"),
		Output:      o.ErrOut,
	})

	config := client.DefaultConfig()
	config.BaseURL = o.APIURL
	config.Timeout = o.Timeout

	return &session{
		opts:   o,
		client: client.NewShipmentsClient(config, nil, logger),
		logger: logger,
		orch: orchestrator.New(
			NewTerminalDialog(o.In, o.Out, o.AssumeYes),
			NewColorNotifier(o.Out, o.ErrOut),
			NewCommandNavigator(o.Out),
			logger,
		),
	}
}

// NewRootCmd builds the shipctl command tree
func NewRootCmd(opts *Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shipctl",
		Short: "shipctl - move biobank shipments through their lifecycle",
		Long: `shipctl drives shipments from CREATED through PACKED, SENT, RECEIVED and
UNPACKED to COMPLETED, and tracks which specimens arrived.

Every transition is checked locally before it is sent to the shipment API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", opts.APIURL, "Shipment API base URL (env SHIPMENT_API_URL)")
	rootCmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Request timeout (env SHIPMENT_API_TIMEOUT)")
	rootCmd.PersistentFlags().BoolVarP(&opts.AssumeYes, "yes", "y", false, "Accept every confirmation")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log API calls to stderr")

	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(showCmd(opts))
	rootCmd.AddCommand(createCmd(opts))
	rootCmd.AddCommand(addSpecimensCmd(opts))

	// Lifecycle transitions
	for _, spec := range transitionCommands {
		rootCmd.AddCommand(transitionCmd(opts, spec))
	}

	// Specimen presence
	rootCmd.AddCommand(specimensCmd(opts))
	for _, spec := range tagCommands {
		rootCmd.AddCommand(tagCmd(opts, spec))
	}

	return rootCmd
}

// Execute runs the command tree and returns the process exit code
func Execute(ctx context.Context, opts *Options, args []string) int {
	cmd := NewRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(opts.Out)
	cmd.SetErr(opts.ErrOut)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if _, reported := err.(reportedError); !reported {
			fmt.Fprintln(opts.ErrOut, err)
		}
		return 1
	}
	return 0
}

// reportedError marks a failure the notifier has already shown
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
