package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/marketpulse/pulse/internal/queue"
	"github.com/spf13/cobra"
)

func enqueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <type> <payload-json>",
		Short: "Add a job to the queue",
		Example: `  queuectl enqueue content-process '{"content_id":"abc"}'
  queuectl enqueue daily-analysis '{"date":"2024-03-01"}' --priority 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetInt("priority")
			delay, _ := cmd.Flags().GetDuration("delay")
			dedupeKey, _ := cmd.Flags().GetString("dedupe-key")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}

			var opts []queue.EnqueueOption
			if dedupeKey != "" {
				opts = append(opts, queue.WithDedupeKey(dedupeKey))
			}
			if maxAttempts > 0 {
				opts = append(opts, queue.WithMaxAttempts(maxAttempts))
			}

			id, err := c.Queue.EnqueueRaw(cmd.Context(), queue.JobType(args[0]), json.RawMessage(args[1]), priority, delay, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().Int("priority", queue.PriorityDefault, "Lower runs first")
	cmd.Flags().Duration("delay", 0, "Delay before the job becomes eligible")
	cmd.Flags().String("dedupe-key", "", "Reject while another active job has this key")
	cmd.Flags().Int("max-attempts", 0, "Override the configured attempt ceiling")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, highest priority first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			jobType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			if status != "" && !queue.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}

			jobs, err := c.Queue.List(cmd.Context(), queue.Filter{
				Status: queue.Status(status),
				Type:   queue.JobType(jobType),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tATTEMPTS\tSCHEDULED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					j.ID, j.Type, j.Status, j.Priority, j.Attempts, j.MaxAttempts,
					j.ScheduledAt.UTC().Format(time.RFC3339), j.ErrorMessage)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("status", "", "Filter by status (pending, processing, retry, completed, failed)")
	cmd.Flags().String("type", "", "Filter by job type")
	cmd.Flags().Int("limit", 50, "Maximum rows")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}

			counts, err := c.Queue.Stats(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, s := range []queue.Status{
				queue.StatusPending, queue.StatusProcessing, queue.StatusRetry,
				queue.StatusCompleted, queue.StatusFailed,
			} {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
			}
			return tw.Flush()
		},
	}
}

func rescheduleRetriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule-retries",
		Short: "Move retry jobs whose backoff elapsed back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			n, err := c.Queue.RescheduleRetries(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rescheduled %d jobs\n", n)
			return nil
		},
	}
}

func resetStuckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Requeue processing jobs that stopped making progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Queue.ResetStuck(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d, failed %d\n", res.Requeued, res.Failed)
			return nil
		},
	}

	cmd.Flags().Duration("older-than", 30*time.Minute, "Processing time after which a job counts as stuck")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Schedule comparison jobs for predictions that lack one",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Horizon.Sweep(cmd.Context(), c.Queue.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, scheduled %d, skipped %d\n", res.Scanned, res.Scheduled, res.Skipped)
			return nil
		},
	}
}

func triggerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue today's analysis regardless of thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			d, err := c.Trigger.Force(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if d.Duplicate {
				fmt.Fprintf(out, "Analysis for %s is already queued\n", d.Date)
				return nil
			}
			fmt.Fprintf(out, "Analysis job %s enqueued for %s\n", d.AnalysisJobID, d.Date)
			if d.PredictionJobID != "" {
				fmt.Fprintf(out, "Predictions job %s enqueued\n", d.PredictionJobID)
			}
			return nil
		},
	}
}

func archiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Export old finished jobs to object storage and delete them",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			if c.Archiver == nil {
				return fmt.Errorf("archive bucket is not configured (set PULSE_ARCHIVE_BUCKET)")
			}
			res, err := c.Archiver.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d jobs into %d objects\n", res.Archived, len(res.Objects))
			return nil
		},
	}
}

func workerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run workers and maintenance until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}

			cfg, err := a.config()
			if err != nil {
				return err
			}
			cfg.Worker.Count = count

			c, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d workers. Press Ctrl+C to stop.\n", count)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case <-sig:
			case <-cmd.Context().Done():
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Stopping workers...")
			return nil
		},
	}

	cmd.Flags().Int("count", 2, "Number of concurrent workers")
	return cmd
}
