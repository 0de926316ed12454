package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"drama-lab-pipeline/internal/poll"
	"drama-lab-pipeline/internal/types"
)

// runRender submits the assembled scenes as a server-side render job and
// watches it to a terminal status. The job id is persisted before the first
// poll so a restart can resume watching instead of losing the job.
func (o *Orchestrator) runRender(ctx context.Context) error {
	scenes := o.scenes()
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes — run the analyze step first")
	}

	assembled := make([]any, 0, len(scenes))
	for i, sc := range scenes {
		imageURL := o.store.GetString(fmt.Sprintf("media.images.%d.url", i), "")
		audioURL := o.store.GetString(fmt.Sprintf("media.tts.%d.audioUrl", i), "")
		if imageURL == "" || audioURL == "" {
			return fmt.Errorf("scene %d is missing media — run the media step first", i)
		}
		assembled = append(assembled, map[string]any{
			"index":       i,
			"imageUrl":    imageURL,
			"audioUrl":    audioURL,
			"narration":   sc.Narration,
			"durationSec": o.store.GetFloat(fmt.Sprintf("media.tts.%d.durationSec", i), sc.DurationSec),
		})
	}

	log.Printf("[render] submitting render job (%d scenes)...", len(scenes))

	resp, err := o.api.Post(ctx, o.tool, "render-video", map[string]any{
		"sessionId": o.store.SessionID(),
		"ratio":     o.cfg.Pipeline.Ratio,
		"scenes":    assembled,
	})
	if err != nil {
		return err
	}
	jobID := firstString(resp, "jobId", "job_id", "id")
	if jobID == "" {
		return fmt.Errorf("backend returned no render job id")
	}

	o.store.SetPendingJob(&types.PendingJob{
		ID:        jobID,
		Kind:      "render",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	o.store.AddCost(StepRender, firstFloat(resp, "costUsd", "cost_usd", "cost"))

	return o.awaitRender(ctx, jobID)
}

// awaitRender polls the render job to a terminal status. On completed the
// artifact URL lands in the session and the pending marker is cleared; on
// failed the marker is cleared too. A poll timeout keeps the marker so a
// later resume can re-attach — the job itself is never cancelled server-side.
func (o *Orchestrator) awaitRender(ctx context.Context, jobID string) error {
	policy := poll.Policy{
		Interval:    o.cfg.PollInterval(),
		MaxAttempts: o.cfg.Render.MaxPolls,
	}

	st, err := poll.Await(ctx, policy,
		func(ctx context.Context) (*types.JobStatus, error) {
			return o.api.JobStatus(ctx, o.tool, "render", jobID)
		},
		func(progress int, message string) {
			log.Printf("[render] %3d%% %s", progress, message)
		})

	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("render job %s still running after %d polls: %w", jobID, policy.MaxAttempts, err)
	}
	// Cancellation is not a terminal job outcome: keep the marker so a later
	// resume can re-attach, same as the timeout path.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		o.store.ClearPendingJob()
		return err
	}

	if st.VideoURL == "" {
		o.store.ClearPendingJob()
		return fmt.Errorf("render job %s completed without a video URL", jobID)
	}
	o.store.Set("render.videoUrl", st.VideoURL)
	o.store.ClearPendingJob()
	log.Printf("[render] ✅ video ready: %s", st.VideoURL)
	return nil
}
