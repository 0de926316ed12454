// Package pipeline sequences the content-generation steps of one project:
// script → scene analysis → (images ∥ narration) → video render → thumbnail →
// upload. Each step reads its input from the session, calls the backend, and
// merges the result back at its step path.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"drama-lab-pipeline/internal/config"
	"drama-lab-pipeline/internal/session"
	"drama-lab-pipeline/internal/types"
)

// Step names double as session paths and cost-ledger keys.
const (
	StepScript  = "script"
	StepAnalyze = "analyze"
	StepMedia   = "media"
	StepRender  = "render"
	StepUpload  = "upload"
)

// StepOrder is the pipeline sequence; MaxStep counts completed entries.
var StepOrder = []string{StepScript, StepAnalyze, StepMedia, StepRender, StepUpload}

// Backend is the slice of the API client the orchestrator needs.
type Backend interface {
	Post(ctx context.Context, tool, action string, payload any) (map[string]any, error)
	JobStatus(ctx context.Context, tool, kind, id string) (*types.JobStatus, error)
}

// Uploader is the direct YouTube upload path, used instead of the backend's
// upload endpoint when configured.
type Uploader interface {
	Run(ctx context.Context, videoFile string, meta *types.VideoMetadata) (id, url string, err error)
}

// Orchestrator drives the step chain for one session. It is built per
// invocation — no package-level state.
type Orchestrator struct {
	cfg      *config.Config
	store    *session.Store
	api      Backend
	uploader Uploader
	tool     string
}

func New(cfg *config.Config, store *session.Store, backend Backend) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		store: store,
		api:   backend,
		tool:  cfg.Pipeline.Tool,
	}
}

// WithUploader enables the direct YouTube upload path.
func (o *Orchestrator) WithUploader(u Uploader) *Orchestrator {
	o.uploader = u
	return o
}

// Run executes the chain from the first step not yet completed. On the first
// failure it stops with a stage-tagged error; nothing is retried or rolled
// back, and partial results stay in the session for a manual re-run.
func (o *Orchestrator) Run(ctx context.Context, topic string) error {
	if !o.store.TryBeginRun() {
		return session.ErrRunInProgress
	}
	defer o.store.EndRun()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepScript, func(ctx context.Context) error { return o.runScript(ctx, topic) }},
		{StepAnalyze, o.runAnalyze},
		{StepMedia, o.runMedia},
		{StepRender, o.runRender},
		{StepUpload, o.runUpload},
	}

	for i, step := range steps {
		if i < o.store.MaxStep() {
			continue
		}
		log.Printf("━━━ STAGE %d: %s ━━━", i+1, step.name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("stage %d %s: %w", i+1, step.name, err)
		}
		o.store.AdvanceStep(i + 1)
	}

	log.Printf("✅ Pipeline complete — session %s", o.store.SessionID())
	return nil
}

// ResumePendingJob re-attaches the poller to a persisted server-side job
// before anything else runs. It reports whether there was a job to resume.
func (o *Orchestrator) ResumePendingJob(ctx context.Context) (bool, error) {
	job := o.store.PendingJob()
	if job == nil {
		return false, nil
	}
	log.Printf("[%s] resuming pending %s job %s", o.tool, job.Kind, job.ID)
	if err := o.awaitRender(ctx, job.ID); err != nil {
		return true, fmt.Errorf("resume %s job %s: %w", job.Kind, job.ID, err)
	}
	o.store.AdvanceStep(stepIndex(StepRender) + 1)
	return true, nil
}

func stepIndex(name string) int {
	for i, s := range StepOrder {
		if s == name {
			return i
		}
	}
	return -1
}
