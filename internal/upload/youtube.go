// Package upload publishes a rendered video straight to YouTube via the Data
// API, for channels whose OAuth refresh token is held locally rather than by
// the backend.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"drama-lab-pipeline/internal/config"
	"drama-lab-pipeline/internal/types"
)

type Uploader struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Uploader {
	return &Uploader{cfg: cfg}
}

// Run uploads the video file with full metadata and returns the video id and
// watch URL.
func (u *Uploader) Run(ctx context.Context, videoFile string, meta *types.VideoMetadata) (string, string, error) {
	log.Println("[youtube] authenticating with YouTube API...")

	client, err := u.oauthClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("youtube auth: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", "", fmt.Errorf("youtube service: %w", err)
	}

	snippet := &youtube.VideoSnippet{
		Title:                meta.Title,
		Description:          meta.Description,
		Tags:                 meta.Tags,
		CategoryId:           meta.CategoryID,
		DefaultLanguage:      u.cfg.Upload.DefaultLanguage,
		DefaultAudioLanguage: u.cfg.Upload.DefaultLanguage,
	}
	status := &youtube.VideoStatus{
		PrivacyStatus:           meta.Visibility,
		SelfDeclaredMadeForKids: u.cfg.Upload.MadeForKids,
	}
	if meta.ScheduledTimeUTC != "" && meta.Visibility == "public" {
		status.PrivacyStatus = "private" // must be private to schedule
		status.PublishAt = meta.ScheduledTimeUTC
		log.Printf("[youtube] scheduled for %s UTC", meta.ScheduledTimeUTC)
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		log.Printf("[youtube] uploading %q (%.1f MB)...", meta.Title, float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, &youtube.Video{
		Snippet: snippet,
		Status:  status,
	})
	call.NotifySubscribers(u.cfg.Upload.NotifySubscribers)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return "", "", fmt.Errorf("youtube upload: %w", err)
	}

	videoID := uploaded.Id
	watchURL := "https://www.youtube.com/watch?v=" + videoID
	log.Printf("[youtube] ✅ uploaded: %s", watchURL)

	if err := LogUpload(videoID, watchURL, meta, "logs"); err != nil {
		log.Printf("[youtube] could not write upload log: %v", err)
	}
	return videoID, watchURL, nil
}

func (u *Uploader) oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

// LogUpload appends the upload result to the logs directory for bookkeeping.
func LogUpload(videoID, watchURL string, meta *types.VideoMetadata, dir string) error {
	entry := map[string]any{
		"video_id":    videoID,
		"video_url":   watchURL,
		"title":       meta.Title,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(entry, "", "  ")
	path := fmt.Sprintf("%s/upload_%s.json", dir, time.Now().Format("20060102_150405"))
	return os.WriteFile(path, data, 0o644)
}
