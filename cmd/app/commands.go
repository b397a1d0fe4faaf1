package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"SessionScan/internal/di"
	"SessionScan/internal/domain/models"
	"SessionScan/pkg/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sessionscan",
		Short:         "Resumable pre/post-market session statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	load := func() (*config.Config, error) {
		return config.LoadWithEnv(configPath)
	}
	root.AddCommand(newServeCmd(load), newRunCmd(load), newStatusCmd(load))
	return root
}

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and execute runs in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer cleanup()
			return app.Run(cmd.Context())
		},
	}
}

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		mode    string
		endDate string
		resume  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start (or resume) a run and process it to completion in this process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if endDate != "" {
				cfg.Analysis.EndDate = endDate
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			app, cleanup, err := di.InitializeRunner(cfg)
			if err != nil {
				return fmt.Errorf("runner initialization failed: %w", err)
			}
			defer cleanup()
			o := app.Orchestrator()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if resume {
				err = o.Resume(ctx)
			} else {
				err = o.Start(ctx, mode)
			}
			if err != nil {
				return err
			}

			if err := o.Drive(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					return err
				}
				// Leave the run resumable.
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := o.Stop(stopCtx); err != nil {
					return err
				}
			}
			return printStatus(cmd, o.Status, 20)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", models.SelectionAll, "analysis mode: pre, post, opening_price or both")
	cmd.Flags().StringVar(&endDate, "end-date", "", "cutoff date YYYY-MM-DD (default: now)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the stopped run instead of starting a new one")
	return cmd
}

func newStatusCmd(load func() (*config.Config, error)) *cobra.Command {
	var logLimit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current run status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeRunner(cfg)
			if err != nil {
				return fmt.Errorf("runner initialization failed: %w", err)
			}
			defer cleanup()
			return printStatus(cmd, app.Orchestrator().Status, logLimit)
		},
	}
	cmd.Flags().IntVar(&logLimit, "log-limit", 50, "number of log lines to print")
	return cmd
}

type statusFunc func(ctx context.Context, logLimit int) (models.Status, error)

func printStatus(cmd *cobra.Command, status statusFunc, logLimit int) error {
	st, err := status(cmd.Context(), logLimit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
