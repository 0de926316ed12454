package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"drama-lab-pipeline/internal/pipeline"
	"drama-lab-pipeline/internal/upload"
)

func newResumeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Restore the persisted session and pick up where it left off",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, client, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			if !store.Restore() {
				return fmt.Errorf("no restorable session: file missing, unreadable, or older than %s", cfg.FreshnessWindow())
			}
			log.Printf("🎬 restored session %s (step %d/%d done)",
				store.SessionID(), store.MaxStep(), len(pipeline.StepOrder))

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

			return orch.Run(ctx, "")
		},
	}
}
