package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drama-lab-pipeline/internal/pipeline"
)

func newStatusCmd(cfgPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, _, mirror, err := setup(*cfgPath)
			if err != nil {
				return err
			}

			restored := store.Restore()
			if !restored && mirror != nil && sessionID != "" {
				// Local file gone or stale — fall back to the replica.
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				data, err := mirror.Fetch(ctx, sessionID)
				cancel()
				if err != nil {
					return fmt.Errorf("fetch session replica: %w", err)
				}
				if restored = store.RestoreBytes(data); restored {
					fmt.Fprintln(cmd.OutOrStdout(), "(restored from mirror replica)")
				}
			}
			if !restored {
				fmt.Fprintln(cmd.OutOrStdout(), "no restorable session")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:   %s\n", store.SessionID())
			fmt.Fprintf(out, "created:   %s\n", store.GetString("createdAt", "-"))
			fmt.Fprintf(out, "updated:   %s\n", store.GetString("updatedAt", "-"))
			fmt.Fprintf(out, "window:    %s\n", cfg.FreshnessWindow())
			if runID := store.GetString("lastRunId", ""); runID != "" {
				fmt.Fprintf(out, "last run:  %s\n", runID)
			}

			done := store.MaxStep()
			for i, name := range pipeline.StepOrder {
				mark := " "
				if i < done {
					mark = "✓"
				}
				fmt.Fprintf(out, "  [%s] %d. %s\n", mark, i+1, name)
			}

			if job := store.PendingJob(); job != nil {
				fmt.Fprintf(out, "pending:   %s job %s (since %s)\n", job.Kind, job.ID, job.StartedAt)
			}
			if url := store.GetString("render.videoUrl", ""); url != "" {
				fmt.Fprintf(out, "video:     %s\n", url)
			}
			if url := store.GetString("upload.videoUrl", ""); url != "" {
				fmt.Fprintf(out, "published: %s\n", url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to look up in the mirror replica when the local file is gone")
	return cmd
}

func newCostsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "costs",
		Short: "Show the per-stage cost ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			if !store.Restore() {
				fmt.Println("no restorable session")
				return nil
			}

			out := cmd.OutOrStdout()
			costs := store.Costs()
			for _, name := range pipeline.StepOrder {
				fmt.Fprintf(out, "%-8s $%.4f\n", name, costs[name])
			}
			fmt.Fprintf(out, "%-8s $%.4f\n", "total", store.TotalCost())
			return nil
		},
	}
}
