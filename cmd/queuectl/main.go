// Package main is the operator CLI for the pulse job queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/di"
	"github.com/marketpulse/pulse/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the lazily wired state shared by all subcommands
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	container *di.Container
	opts      []di.Option
}

func (a *app) config() (*config.Config, error) {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
	}
	return a.cfg, nil
}

// wire builds the container on first use
func (a *app) wire(ctx context.Context) (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	container, err := di.Wire(ctx, cfg, a.log, a.opts...)
	if err != nil {
		return nil, err
	}
	a.container = container
	return container, nil
}

func (a *app) close() {
	if a.container != nil {
		a.container.Close(context.Background())
		a.container = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate the pulse job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			a.log = logger.New(logger.Config{Level: level, Pretty: true})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statsCmd(a),
		rescheduleRetriesCmd(a),
		resetStuckCmd(a),
		sweepCmd(a),
		triggerCmd(a),
		archiveCmd(a),
		workerCmd(a),
	)
	return root
}

func main() {
	a := &app{log: zerolog.Nop()}
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		a.close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
