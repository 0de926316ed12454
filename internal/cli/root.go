package cli

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"drama-lab-pipeline/internal/api"
	"drama-lab-pipeline/internal/config"
	"drama-lab-pipeline/internal/pipeline"
	"drama-lab-pipeline/internal/session"
)

// NewRootCommand wires the full command tree. Config is loaded lazily per
// command so --config can point anywhere.
func NewRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "dramapipe",
		Short: "Drive the Drama Lab content pipeline: script → scenes → media → render → upload",
	}
	root.SilenceUsage = true
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newResumeCmd(&cfgPath),
		newStatusCmd(&cfgPath),
		newCostsCmd(&cfgPath),
		newTopicsCmd(&cfgPath),
		newNewCmd(&cfgPath),
	)
	return root
}

// setup loads config and builds the session store and backend client shared
// by every command. The mirror is nil unless configured and reachable.
func setup(cfgPath string) (*config.Config, *session.Store, *api.Client, *session.RedisMirror, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	opts := []session.Option{
		session.WithIDPrefix(cfg.Session.IDPrefix),
		session.WithFreshness(cfg.FreshnessWindow()),
		session.WithStages(pipeline.StepOrder...),
	}
	var mirror *session.RedisMirror
	if cfg.Session.Mirror {
		if url := config.RedisURL(); url != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			mirror, err = session.NewRedisMirror(ctx, url, cfg.FreshnessWindow())
			cancel()
			if err != nil {
				log.Printf("[session] ⚠️  mirror disabled: %v", err)
				mirror = nil
			} else {
				opts = append(opts, session.WithMirror(mirror))
			}
		}
	}

	store := session.New(cfg.Session.File, opts...)
	client := api.New(cfg.Backend.BaseURL, cfg.Backend.APIKeys)
	return cfg, store, client, mirror, nil
}
