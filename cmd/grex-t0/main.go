// Command grex-t0 runs the GReX first-stage real-time pipeline: it
// captures the SNAP board's UDP payload stream, optionally injects
// synthetic test pulses, computes and downsamples Stokes-I
// intensities, exports them to a configurable sink, and maintains a
// triggerable voltage ring buffer. The command structure (root flags
// plus an optional exfil subcommand) follows the original CLI's
// clap::Subcommand layout, realized here with cobra.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GReX-Telescope/GReX-T0/internal/config"
	"github.com/GReX-Telescope/GReX-T0/internal/pipeline"
)

var dbPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grex-t0",
		Short: "First-stage real-time processor for the GReX radio telescope backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, config.ExfilNone, 0, 0)
		},
	}
	if err := config.BindFlags(root); err != nil {
		panic(err)
	}
	root.PersistentFlags().StringVar(&dbPath, "db-path", "grex.sqlite3", "path to the injection event database")
	viper.BindPFlag("db-path", root.PersistentFlags().Lookup("db-path"))

	root.AddCommand(newFilterbankCmd(), newDadaCmd())
	return root
}

func newFilterbankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filterbank",
		Short: "Export the downsampled Stokes-I stream to a SIGPROC filterbank file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, config.ExfilFilterbank, 0, 0)
		},
	}
}

func newDadaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dada",
		Short: "Export the downsampled Stokes-I stream to a PSRDADA ring buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetInt32("key")
			samples, _ := cmd.Flags().GetUint32("samples")
			return runPipeline(cmd, config.ExfilDada, key, samples)
		},
	}
	config.BindExfilFlags(cmd)
	return cmd
}

func runPipeline(cmd *cobra.Command, exfilKind config.ExfilKind, dadaKey int32, dadaSamples uint32) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	cfg, err := config.Load(exfilKind, dadaKey, dadaSamples)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	return pipeline.Run(context.Background(), cfg, viper.GetString("db-path"), sugar)
}
