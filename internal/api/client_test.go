package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"drama-lab-pipeline/internal/types"
)

func TestPostOkEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drama/generate-script" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["topic"] != "betrayal" {
			t.Errorf("payload not forwarded: %v", payload)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "script": "once upon a time", "costUsd": 0.4})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	resp, err := c.Post(context.Background(), "drama", "generate-script", map[string]any{"topic": "betrayal"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["script"] != "once upon a time" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestPostOkFalseSurfacesServerMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "script too long"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Post(context.Background(), "drama", "generate-script", nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.Message != "script too long" {
		t.Fatalf("server message not passed through: %q", apiErr.Message)
	}
}

func TestPostSniffsHTMLErrorPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Post(context.Background(), "drama", "generate-script", nil)
	if err == nil || !strings.Contains(err.Error(), "error page") {
		t.Fatalf("HTML body should produce the specific error-page message, got: %v", err)
	}
}

func TestPostRotatesKeyOnQuotaError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seenKeys []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		mu.Lock()
		seenKeys = append(seenKeys, key)
		mu.Unlock()
		if key == "primary" {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "quota exceeded"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "imageUrl": "http://cdn/img.jpg"})
	}))
	defer srv.Close()

	c := New(srv.URL, []string{"primary", "secondary"})
	resp, err := c.Post(context.Background(), "drama", "generate-image", map[string]any{"prompt": "x"})
	if err != nil {
		t.Fatalf("rotation should have recovered: %v", err)
	}
	if resp["imageUrl"] != "http://cdn/img.jpg" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(seenKeys) != 2 || seenKeys[0] != "primary" || seenKeys[1] != "secondary" {
		t.Fatalf("expected primary then secondary, saw %v", seenKeys)
	}
}

func TestPostQuotaErrorWithSingleKeyIsHardFailure(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "quota exceeded"})
	}))
	defer srv.Close()

	c := New(srv.URL, []string{"only"})
	_, err := c.Post(context.Background(), "drama", "generate-image", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("no spare key — must not retry, got %d calls", calls)
	}
}

func TestJobStatusMapping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drama/render-status/job-7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"status":    "completed",
			"progress":  100,
			"message":   "done",
			"video_url": "http://cdn/final.mp4",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	st, err := c.JobStatus(context.Background(), "drama", "render", "job-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != types.JobCompleted || st.Progress != 100 {
		t.Fatalf("bad mapping: %+v", st)
	}
	if st.VideoURL != "http://cdn/final.mp4" {
		t.Fatalf("alternate video_url field not picked up: %+v", st)
	}
	if !st.Terminal() {
		t.Fatal("completed must be terminal")
	}
}
