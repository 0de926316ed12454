package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"drama-lab-pipeline/internal/config"
	"drama-lab-pipeline/internal/session"
	"drama-lab-pipeline/internal/types"
)

// fakeBackend scripts the lab backend's responses. Scene fields deliberately
// use alternate provider names to exercise the normalization.
type fakeBackend struct {
	mu          sync.Mutex
	posts       []string
	renderPolls int
	failAction  string
}

func (f *fakeBackend) Post(_ context.Context, tool, action string, payload any) (map[string]any, error) {
	f.mu.Lock()
	f.posts = append(f.posts, tool+"/"+action)
	f.mu.Unlock()

	if action == f.failAction {
		return nil, errors.New("backend exploded")
	}

	switch action {
	case "generate-script":
		return map[string]any{"script_text": "INT. NIGHT — a door creaks open", "title": "The Door", "costUsd": 0.5}, nil
	case "analyze-script":
		return map[string]any{
			"scenes": []any{
				map[string]any{"scene_narration": "She heard the door open.", "mood": "tense", "prompt": "dark hallway"},
				map[string]any{"narration": "Nobody was there.", "mood": "eerie", "image_prompt": "empty doorway"},
				map[string]any{"text": "Then the lights went out.", "mood": "hook", "imagePrompt": "sudden darkness"},
			},
			"cost": 0.1,
		}, nil
	case "generate-image":
		idx := payload.(map[string]any)["sceneIndex"].(int)
		return map[string]any{"image_url": fmt.Sprintf("http://cdn/img-%d.jpg", idx), "costUsd": 0.02}, nil
	case "generate-tts":
		idx := payload.(map[string]any)["sceneIndex"].(int)
		return map[string]any{"url": fmt.Sprintf("http://cdn/aud-%d.mp3", idx), "durationSec": 3.5}, nil
	case "render-video":
		return map[string]any{"jobId": "job-1"}, nil
	case "generate-metadata":
		return map[string]any{"title": "The Door | Drama Short", "description": "d", "tags": []any{"drama", "short"}, "thumbnail_prompt": "a dark door"}, nil
	case "generate-thumbnail":
		return map[string]any{"thumbnail_url": "http://cdn/thumb.jpg"}, nil
	case "upload":
		return map[string]any{"videoId": "vid123"}, nil
	}
	return nil, fmt.Errorf("unexpected action %s", action)
}

func (f *fakeBackend) JobStatus(_ context.Context, tool, kind, id string) (*types.JobStatus, error) {
	if tool == "youtube" && kind == "auth" {
		return &types.JobStatus{Status: types.JobCompleted}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renderPolls++
	if f.renderPolls < 3 {
		return &types.JobStatus{Status: types.JobRunning, Progress: f.renderPolls * 30, Message: "rendering"}, nil
	}
	return &types.JobStatus{Status: types.JobCompleted, Progress: 100, VideoURL: "http://cdn/final.mp4"}, nil
}

func (f *fakeBackend) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, p := range f.posts {
		if p == call {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.Tool = "drama"
	cfg.Pipeline.Thumbnail = true
	cfg.Images.BatchSize = 2
	cfg.Render.PollIntervalSec = 0.001
	cfg.Render.MaxPolls = 50
	return cfg
}

func testStore(t *testing.T) *session.Store {
	t.Helper()
	store := session.New(filepath.Join(t.TempDir(), "session.json"), session.WithStages(StepOrder...))
	store.Create()
	return store
}

func TestRunFullPipeline(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	backend := &fakeBackend{}
	orch := New(cfg, store, backend)

	if err := orch.Run(context.Background(), "the door"); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	if got := store.MaxStep(); got != len(StepOrder) {
		t.Fatalf("expected all %d steps done, got %d", len(StepOrder), got)
	}

	// alternate provider field names were normalized at ingestion
	scenes := orch.scenes()
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(scenes))
	}
	if scenes[0].Narration != "She heard the door open." {
		t.Fatalf("scene_narration not probed: %+v", scenes[0])
	}
	if scenes[2].Narration != "Then the lights went out." {
		t.Fatalf("text alternate not probed: %+v", scenes[2])
	}
	if scenes[0].ImagePrompt != "dark hallway" {
		t.Fatalf("prompt alternate not probed: %+v", scenes[0])
	}

	for i := range scenes {
		if got := store.GetString(fmt.Sprintf("media.images.%d.url", i), ""); got == "" {
			t.Fatalf("scene %d image missing", i)
		}
		if got := store.GetString(fmt.Sprintf("media.tts.%d.audioUrl", i), ""); got == "" {
			t.Fatalf("scene %d audio missing", i)
		}
	}

	if got := store.GetString("render.videoUrl", ""); got != "http://cdn/final.mp4" {
		t.Fatalf("render artifact missing: %q", got)
	}
	if store.PendingJob() != nil {
		t.Fatal("pending job must be cleared after a terminal status")
	}
	if got := store.GetString("upload.videoUrl", ""); got != "https://www.youtube.com/watch?v=vid123" {
		t.Fatalf("watch URL missing: %q", got)
	}

	costs := store.Costs()
	if costs[StepScript] != 0.5 {
		t.Fatalf("script cost not recorded: %v", costs)
	}
	if costs[StepMedia] == 0 {
		t.Fatalf("media costs not accumulated: %v", costs)
	}
}

func TestRunHaltsOnStepFailureAndContinuesLater(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	backend := &fakeBackend{failAction: "analyze-script"}
	orch := New(cfg, store, backend)

	err := orch.Run(context.Background(), "the door")
	if err == nil || !strings.Contains(err.Error(), "stage 2 analyze") {
		t.Fatalf("expected a stage-tagged analyze failure, got %v", err)
	}
	if got := store.MaxStep(); got != 1 {
		t.Fatalf("only the script step should be marked done, got %d", got)
	}

	// manual retry: completed steps are not re-run
	backend.failAction = ""
	if err := orch.Run(context.Background(), ""); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := backend.count("drama/generate-script"); got != 1 {
		t.Fatalf("script step must not be re-run, called %d times", got)
	}
	if got := store.MaxStep(); got != len(StepOrder) {
		t.Fatalf("expected pipeline to finish, got step %d", got)
	}
}

func TestRunRefusedWhileRunInProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	orch := New(cfg, store, &fakeBackend{})

	if !store.TryBeginRun() {
		t.Fatal("could not claim run lock")
	}
	err := orch.Run(context.Background(), "topic")
	if !errors.Is(err, session.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestResumePendingJob(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	store.SetPendingJob(&types.PendingJob{ID: "job-1", Kind: "render", StartedAt: "2026-08-24T12:00:00Z"})

	backend := &fakeBackend{}
	orch := New(cfg, store, backend)

	resumed, err := orch.ResumePendingJob(context.Background())
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !resumed {
		t.Fatal("expected a job to be resumed")
	}
	if got := store.GetString("render.videoUrl", ""); got != "http://cdn/final.mp4" {
		t.Fatalf("artifact not stored on resumed completion: %q", got)
	}
	if store.PendingJob() != nil {
		t.Fatal("pending job should be cleared")
	}
	if got := store.MaxStep(); got != stepIndex(StepRender)+1 {
		t.Fatalf("render step should be marked done, got %d", got)
	}
}

func TestResumeWithoutPendingJobIsNoop(t *testing.T) {
	t.Parallel()

	orch := New(testConfig(), testStore(t), &fakeBackend{})
	resumed, err := orch.ResumePendingJob(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed {
		t.Fatal("nothing to resume")
	}
}

func TestRenderFailureSurfacesProviderError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	store.SetPendingJob(&types.PendingJob{ID: "job-9", Kind: "render"})

	backend := &failingRenderBackend{}
	orch := New(cfg, store, backend)

	_, err := orch.ResumePendingJob(context.Background())
	if err == nil || !strings.Contains(err.Error(), "out of gpu credit") {
		t.Fatalf("provider error not surfaced: %v", err)
	}
	if store.PendingJob() != nil {
		t.Fatal("pending job must be cleared on a failed terminal status")
	}
}

func TestCancelledRenderKeepsPendingJob(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	store := testStore(t)
	store.SetPendingJob(&types.PendingJob{ID: "job-7", Kind: "render", StartedAt: "2026-08-24T12:00:00Z"})

	ctx, cancel := context.WithCancel(context.Background())
	orch := New(cfg, store, &cancellingBackend{cancel: cancel})

	_, err := orch.ResumePendingJob(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	job := store.PendingJob()
	if job == nil || job.ID != "job-7" {
		t.Fatalf("interrupted watch must keep the pending job for a later resume, got %+v", job)
	}
}

// cancellingBackend cancels the watching context during the first status poll,
// as when the process is interrupted mid-render.
type cancellingBackend struct {
	cancel context.CancelFunc
}

func (b *cancellingBackend) Post(context.Context, string, string, any) (map[string]any, error) {
	return nil, errors.New("unexpected post")
}

func (b *cancellingBackend) JobStatus(context.Context, string, string, string) (*types.JobStatus, error) {
	b.cancel()
	return &types.JobStatus{Status: types.JobRunning, Progress: 10}, nil
}

type failingRenderBackend struct{}

func (f *failingRenderBackend) Post(context.Context, string, string, any) (map[string]any, error) {
	return nil, errors.New("unexpected post")
}

func (f *failingRenderBackend) JobStatus(context.Context, string, string, string) (*types.JobStatus, error) {
	return &types.JobStatus{Status: types.JobFailed, Error: "out of gpu credit"}, nil
}
