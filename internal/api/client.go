package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"drama-lab-pipeline/internal/types"
)

// Error is an application-level failure: the backend answered but refused the
// request, either with ok:false or a quota/transport status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}

// Client talks to the lab backend's POST /api/<tool>/<action> endpoints. Every
// response is the {ok, error?, ...} envelope; a falsy ok and a transport
// failure surface the same way to callers.
type Client struct {
	base string
	http *http.Client

	mu     sync.Mutex
	keys   []string
	keyIdx int
}

// New creates a client for the backend at base. keys are tried in order when
// the backend reports a quota error (HTTP 429/403); an empty list disables
// auth entirely.
func New(base string, keys []string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
		keys: keys,
	}
}

// Post calls POST {base}/api/{tool}/{action} with a JSON payload and returns
// the decoded envelope. On a quota status it rotates to the next API key and
// retries once per spare key; everything else fails on the first attempt.
func (c *Client) Post(ctx context.Context, tool, action string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	attempts := 1
	if len(c.keys) > 1 {
		attempts = len(c.keys)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/api/%s/%s", c.base, tool, action), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if key := c.currentKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s/%s request: %w", tool, action, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s/%s read response: %w", tool, action, err)
		}

		if quotaStatus(resp.StatusCode) && attempt < attempts-1 {
			log.Printf("[api] quota error (HTTP %d) on %s/%s — rotating API key", resp.StatusCode, tool, action)
			c.rotateKey()
			lastErr = &Error{Status: resp.StatusCode, Message: "provider quota exceeded"}
			continue
		}

		return decodeEnvelope(resp.StatusCode, raw)
	}
	return nil, lastErr
}

// JobStatus calls GET {base}/api/{tool}/{kind}-status/{id} and maps the
// envelope onto a JobStatus snapshot.
func (c *Client) JobStatus(ctx context.Context, tool, kind, id string) (*types.JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/%s/%s-status/%s", c.base, tool, kind, id), nil)
	if err != nil {
		return nil, err
	}
	if key := c.currentKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s-status request: %w", tool, kind, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(resp.StatusCode, raw)
	if err != nil {
		return nil, err
	}

	st := &types.JobStatus{
		Status:       stringField(env, "status"),
		Progress:     int(floatField(env, "progress")),
		Message:      stringField(env, "message"),
		Error:        stringField(env, "error"),
		VideoURL:     firstString(env, "videoUrl", "video_url", "url"),
		ThumbnailURL: firstString(env, "thumbnailUrl", "thumbnail_url"),
	}
	return st, nil
}

func decodeEnvelope(status int, raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	// An HTML error page instead of JSON means the backend itself fell over
	// (proxy error, crashed route). Detect it rather than failing on parse.
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return nil, &Error{Status: status, Message: "backend returned an error page instead of JSON"}
	}

	var env map[string]any
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("parse backend response: %w", err)
	}

	if ok, _ := env["ok"].(bool); !ok {
		msg := stringField(env, "error")
		if msg == "" {
			msg = "request failed"
		}
		return nil, &Error{Status: status, Message: msg}
	}
	return env, nil
}

func quotaStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusForbidden
}

func (c *Client) currentKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) == 0 {
		return ""
	}
	return c.keys[c.keyIdx%len(c.keys)]
}

func (c *Client) rotateKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) > 0 {
		c.keyIdx = (c.keyIdx + 1) % len(c.keys)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
