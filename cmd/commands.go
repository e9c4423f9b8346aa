package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pool and the periodic tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			a.Logger.Info("serve command finished")
			return nil
		},
	}
}

// newRunCmd scrapes one target immediately in this process and prints the
// finished job.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <target-id>",
		Short: "Scrape one target now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || targetID <= 0 {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			job, err := a.Orchestrator.RunNow(ctx, targetID)
			if err != nil {
				return fmt.Errorf("run target %d: %w", targetID, err)
			}
			fetcher := a.NewFetcher()
			defer fetcher.Close()
			if err := a.Orchestrator.Execute(ctx, fetcher, job.ID); err != nil {
				return fmt.Errorf("execute job %d: %w", job.ID, err)
			}
			jobID := job.ID
			job, err = a.Store.GetJob(ctx, jobID)
			if err != nil {
				return fmt.Errorf("load job %d: %w", jobID, err)
			}
			a.Logger.Info("run finished", zap.Int64("job_id", job.ID), zap.String("status", string(job.Status)))
			return printJSON(cmd, job)
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the retention policy once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Cleanup.Run(cmd.Context(), a.CleanupOptions())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Migrate(cmd.Context())
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
