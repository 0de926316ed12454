package cli

import (
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"drama-lab-pipeline/internal/pipeline"
	"drama-lab-pipeline/internal/upload"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	var topic string
	var fresh bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, continuing a restorable session or starting a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, client, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}

			if fresh || !store.Restore() {
				id := store.Create()
				log.Printf("🎬 new session: %s", id)
			} else {
				log.Printf("🎬 continuing session %s (step %d/%d done)",
					store.SessionID(), store.MaxStep(), len(pipeline.StepOrder))
			}

			// Each invocation gets its own run id, recorded in the session so
			// backend-side logs can be correlated with a specific attempt.
			runID := uuid.NewString()[:8]
			store.Set("lastRunId", runID)
			log.Printf("run id: %s", runID)

			orch := pipeline.New(cfg, store, client)
			if cfg.Upload.Direct {
				orch.WithUploader(upload.New(cfg))
			}

			ctx := cmd.Context()
			if resumed, err := orch.ResumePendingJob(ctx); err != nil {
				return err
			} else if resumed {
				log.Println("[render] pending job finished")
			}

			return orch.Run(ctx, topic)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "script topic (required for a new session)")
	cmd.Flags().BoolVar(&fresh, "new", false, "discard any restorable session and start over")
	return cmd
}
