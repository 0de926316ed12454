package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"drama-lab-pipeline/internal/poll"
	"drama-lab-pipeline/internal/types"
)

// runUpload generates upload metadata, optionally a thumbnail, then publishes
// the rendered video — through the backend by default, or straight to YouTube
// when the direct path is configured.
func (o *Orchestrator) runUpload(ctx context.Context) error {
	videoURL := o.store.GetString("render.videoUrl", "")
	if videoURL == "" {
		return fmt.Errorf("no rendered video — run the render step first")
	}

	meta, err := o.generateMetadata(ctx)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	if o.cfg.Pipeline.Thumbnail {
		// Thumbnail failure should not block publishing.
		if err := o.generateThumbnail(ctx, meta.ThumbnailPrompt); err != nil {
			log.Printf("[upload] ⚠️  thumbnail failed: %v — continuing without one", err)
		}
	}

	if o.cfg.Upload.Direct && o.uploader != nil {
		return o.uploadDirect(ctx, videoURL, meta)
	}
	return o.uploadViaBackend(ctx, videoURL, meta)
}

func (o *Orchestrator) generateMetadata(ctx context.Context) (*types.VideoMetadata, error) {
	log.Println("[upload] generating video metadata...")

	resp, err := o.api.Post(ctx, o.tool, "generate-metadata", map[string]any{
		"script": o.store.GetString("script.text", ""),
		"topic":  o.store.GetString("script.topic", ""),
	})
	if err != nil {
		return nil, err
	}

	meta := &types.VideoMetadata{
		Title:            firstString(resp, "title"),
		Description:      firstString(resp, "description"),
		Tags:             stringSlice(resp["tags"]),
		ThumbnailPrompt:  firstString(resp, "thumbnailPrompt", "thumbnail_prompt"),
		CategoryID:       o.cfg.Upload.CategoryID,
		Visibility:       o.cfg.Upload.Visibility,
		ScheduledTimeUTC: o.cfg.Upload.ScheduleTimeUTC,
	}
	if meta.Title == "" {
		meta.Title = o.store.GetString("script.title", o.store.GetString("script.topic", "Untitled"))
	}

	o.store.Set("upload.metadata", map[string]any{
		"title":       meta.Title,
		"description": meta.Description,
		"tags":        meta.Tags,
		"visibility":  meta.Visibility,
	})
	o.store.AddCost(StepUpload, firstFloat(resp, "costUsd", "cost_usd", "cost"))
	return meta, nil
}

func (o *Orchestrator) generateThumbnail(ctx context.Context, prompt string) error {
	if prompt == "" {
		prompt = o.store.GetString("script.title", o.store.GetString("script.topic", ""))
	}
	resp, err := o.api.Post(ctx, o.tool, "generate-thumbnail", map[string]any{
		"prompt": prompt,
		"ratio":  "16:9",
	})
	if err != nil {
		return err
	}
	url := firstString(resp, "thumbnailUrl", "thumbnail_url", "url")
	if url == "" {
		return fmt.Errorf("backend returned no thumbnail URL")
	}
	o.store.Set("upload.thumbnailUrl", url)
	o.store.AddCost(StepUpload, firstFloat(resp, "costUsd", "cost_usd", "cost"))
	log.Printf("[upload] ✅ thumbnail ready: %s", url)
	return nil
}

func (o *Orchestrator) uploadViaBackend(ctx context.Context, videoURL string, meta *types.VideoMetadata) error {
	// The backend holds the channel's OAuth grant; wait until it reports the
	// account as authorized before submitting.
	if err := o.ensureChannelAuth(ctx); err != nil {
		return fmt.Errorf("youtube auth: %w", err)
	}

	log.Printf("[upload] uploading %q via backend...", meta.Title)

	resp, err := o.api.Post(ctx, o.tool, "upload", map[string]any{
		"sessionId":    o.store.SessionID(),
		"videoUrl":     videoURL,
		"thumbnailUrl": o.store.GetString("upload.thumbnailUrl", ""),
		"title":        meta.Title,
		"description":  meta.Description,
		"tags":         meta.Tags,
		"visibility":   meta.Visibility,
		"categoryId":   meta.CategoryID,
		"publishAt":    meta.ScheduledTimeUTC,
	})
	if err != nil {
		return err
	}

	videoID := firstString(resp, "videoId", "video_id", "id")
	watchURL := firstString(resp, "videoUrl", "video_url", "url")
	if watchURL == "" && videoID != "" {
		watchURL = "https://www.youtube.com/watch?v=" + videoID
	}
	o.store.Set("upload.videoId", videoID)
	o.store.Set("upload.videoUrl", watchURL)
	log.Printf("[upload] ✅ uploaded: %s", watchURL)
	return nil
}

// ensureChannelAuth polls the backend's auth status with a short budget; the
// user may still be clicking through the consent screen in another window.
func (o *Orchestrator) ensureChannelAuth(ctx context.Context) error {
	_, err := poll.Await(ctx,
		poll.Policy{Interval: 2 * time.Second, MaxAttempts: 150},
		func(ctx context.Context) (*types.JobStatus, error) {
			return o.api.JobStatus(ctx, "youtube", "auth", o.store.SessionID())
		},
		func(_ int, message string) {
			if message != "" {
				log.Printf("[upload] waiting for channel authorization: %s", message)
			}
		})
	return err
}

func (o *Orchestrator) uploadDirect(ctx context.Context, videoURL string, meta *types.VideoMetadata) error {
	log.Println("[upload] direct YouTube upload...")

	tmp, err := downloadVideo(ctx, videoURL)
	if err != nil {
		return fmt.Errorf("fetch rendered video: %w", err)
	}
	defer os.Remove(tmp)

	videoID, watchURL, err := o.uploader.Run(ctx, tmp, meta)
	if err != nil {
		return err
	}
	o.store.Set("upload.videoId", videoID)
	o.store.Set("upload.videoUrl", watchURL)
	log.Printf("[upload] ✅ uploaded: %s", watchURL)
	return nil
}

func downloadVideo(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d fetching video", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "render-*.mp4")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
