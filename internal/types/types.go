package types

// Scene is one analyzed scene of a drama script
type Scene struct {
	Index       int     `json:"index"`
	Narration   string  `json:"narration"`
	Mood        string  `json:"mood"` // tense | reveal | eerie | action | sad | hook
	ImagePrompt string  `json:"image_prompt"`
	ImageURL    string  `json:"image_url"`
	AudioURL    string  `json:"audio_url"`
	DurationSec float64 `json:"duration_sec"`
}

// Script is the full generated script for one project
type Script struct {
	Topic    string  `json:"topic"`
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	TotalSec float64 `json:"total_sec"`
	Scenes   []Scene `json:"scenes"`
}

// VideoMetadata holds all YouTube upload metadata
type VideoMetadata struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	ThumbnailPrompt  string   `json:"thumbnail_prompt"`
	CategoryID       string   `json:"category_id"`
	Visibility       string   `json:"visibility"`
	ScheduledTimeUTC string   `json:"scheduled_time_utc"`
}

// Job status values reported by the backend's *-status endpoints.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStatus is one snapshot of a server-side asynchronous job
type JobStatus struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Message      string `json:"message"`
	Error        string `json:"error,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Terminal reports whether the job has finished, either way.
func (s *JobStatus) Terminal() bool {
	return s.Status == JobCompleted || s.Status == JobFailed
}

// PendingJob tracks a server-side task that outlives a single request,
// persisted with the session so a restart can resume polling it.
type PendingJob struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"` // render | thumbnail
	StartedAt string `json:"started_at"`
}
