package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"drama-lab-pipeline/internal/research"
)

func newTopicsCmd(cfgPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Suggest script topics from the configured subreddits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}

			finder, err := research.New(cfg)
			if err != nil {
				return err
			}
			topics, err := finder.Topics(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(topics) > limit {
				topics = topics[:limit]
			}

			out := cmd.OutOrStdout()
			for i, t := range topics {
				fmt.Fprintf(out, "%2d. [%5d] %s  (r/%s)\n", i+1, t.Score, t.Title, t.Subreddit)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max topics to print")
	return cmd
}

func newNewCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Discard the persisted session and create a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			id := store.Create()
			log.Printf("🎬 new session: %s", id)
			return nil
		},
	}
}
