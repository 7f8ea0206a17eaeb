// symsched runs priority-scheduler simulations described in YAML.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"symsched/internal/config"
	"symsched/internal/logging"
	"symsched/internal/sim"
)

var (
	flagConfig    string
	flagCSV       string
	flagCycles    int
	flagRealtime  bool
	flagTrace     bool
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	root := &cobra.Command{
		Use:   "symsched",
		Short: "Preemptible priority scheduler simulator",
		Long: `symsched runs a set of simulated tasks on the dual-list priority scheduler
and reports what each task did.

Examples:
  # Run the tasks in config.yml for the configured number of ticks
  symsched run --config config.yml

  # Print every status event and log them to CSV
  symsched run --trace --csv trace.csv

  # Show the configuration after defaults and clamps
  symsched config --config config.yml
`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yml", "Simulation config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json); overrides the config")

	root.AddCommand(newRunCmd(), newConfigCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	cmd.Flags().StringVar(&flagCSV, "csv", "", "Write status events to this CSV file")
	cmd.Flags().IntVar(&flagCycles, "cycles", 0, "Override the number of ticks to run")
	cmd.Flags().BoolVar(&flagRealtime, "realtime", false, "Drive ticks from a wall-clock ticker (tick_ms)")
	cmd.Flags().BoolVar(&flagTrace, "trace", false, "Print every status event to stdout")
	return cmd
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagCycles > 0 {
		cfg.Cycles = flagCycles
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	var traceOut io.Writer
	if flagTrace {
		traceOut = cmd.OutOrStdout()
	}
	s, err := sim.New(cfg, sim.Options{
		Realtime: flagRealtime,
		CSVPath:  flagCSV,
		Trace:    traceOut,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := s.Run(ctx)
	if err != nil {
		logger.Error("simulation failed", "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	s.Recorder().WriteSummary(out)
	fmt.Fprintf(out, "ticks=%d cycles=%d list_ops=%d message_ops=%d code=%d\n",
		res.Ticks, res.Stats.Cycles, res.Stats.ListOps, res.Stats.MessageOps, res.Code)
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
