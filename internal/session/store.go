package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"drama-lab-pipeline/internal/types"
)

// ErrRunInProgress is returned when a second pipeline run is started while one
// is already driving this session.
var ErrRunInProgress = errors.New("a pipeline run is already in progress for this session")

// Reserved top-level keys of the session document. Everything else is a
// step-name key holding provider-shaped results.
const (
	keySessionID  = "sessionId"
	keyCreatedAt  = "createdAt"
	keyUpdatedAt  = "updatedAt"
	keySavedAt    = "savedAt"
	keyMaxStep    = "maxStep"
	keyPendingJob = "pendingJob"
	keyCosts      = "costs"
)

const mirrorTimeout = 3 * time.Second

// Mirror is a best-effort remote replica of the session document. The local
// file stays the source of truth; replication failures are logged and ignored.
type Mirror interface {
	Replicate(ctx context.Context, sessionID string, doc []byte) error
}

// Store holds one project's working state as a schemaless JSON document and
// persists it to disk on every mutation. Step results are provider-shaped
// free-form JSON, so access is by dotted path; the bookkeeping the pipeline
// itself relies on (id, timestamps, pending job, costs, max step) goes through
// typed accessors.
type Store struct {
	mu      sync.Mutex
	path    string
	prefix  string
	window  time.Duration
	now     func() time.Time
	mirror  Mirror
	stages  []string
	doc     map[string]any
	running bool
}

type Option func(*Store)

// WithIDPrefix sets the session id prefix (default "drama_").
func WithIDPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithFreshness sets the max age of persisted data still eligible for restore.
func WithFreshness(d time.Duration) Option {
	return func(s *Store) { s.window = d }
}

// WithMirror attaches a remote replica written after every local persist.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithStages seeds the cost ledger with zero entries for the given stage names.
func WithStages(names ...string) Option {
	return func(s *Store) { s.stages = names }
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// New creates a store persisting to path. The document starts from defaults;
// call Restore to pick up a previous session, or Create for a fresh one.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		prefix: "drama_",
		window: 24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.doc = s.defaults()
	return s
}

func (s *Store) defaults() map[string]any {
	costs := map[string]any{}
	for _, name := range s.stages {
		costs[name] = float64(0)
	}
	return map[string]any{
		keySessionID:  "",
		keyCreatedAt:  "",
		keyUpdatedAt:  "",
		keyMaxStep:    float64(0),
		keyPendingJob: nil,
		keyCosts:      costs,
	}
}

// Create resets the document and assigns a fresh immutable session id of the
// form prefix + timestamp(base36) + random(base36).
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := s.prefix +
		strconv.FormatInt(now.UnixMilli(), 36) +
		strconv.FormatInt(rand.Int63n(36*36*36*36), 36)

	s.doc = s.defaults()
	s.doc[keySessionID] = id
	ts := now.Format(time.RFC3339Nano)
	s.doc[keyCreatedAt] = ts
	s.doc[keyUpdatedAt] = ts
	s.persistLocked()
	return id
}

// Get looks up a dotted path in the document. Any missing intermediate returns
// def; Get never fails.
func (s *Store) Get(path string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := any(s.doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[part]
		if !ok {
			return def
		}
	}
	if cur == nil {
		return def
	}
	return cur
}

// GetString returns the value at path if it is a string, else def.
func (s *Store) GetString(path, def string) string {
	if v, ok := s.Get(path, nil).(string); ok {
		return v
	}
	return def
}

// GetFloat returns the value at path if it is numeric, else def.
func (s *Store) GetFloat(path string, def float64) float64 {
	switch v := s.Get(path, nil).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Set assigns a dotted path, creating intermediate objects as needed, bumps
// updatedAt and persists. Existing values are silently overwritten.
func (s *Store) Set(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(path, ".")
	m := s.doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
	s.touchLocked()
	s.persistLocked()
}

// Delete removes a top-level step key, e.g. when a step is explicitly re-run.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc, key)
	s.touchLocked()
	s.persistLocked()
}

// SessionID returns the current session id, or "" before Create/Restore.
func (s *Store) SessionID() string {
	return s.GetString(keySessionID, "")
}

// MaxStep is the number of pipeline steps completed so far. It only grows.
func (s *Store) MaxStep() int {
	return int(s.GetFloat(keyMaxStep, 0))
}

// AdvanceStep raises the max-step marker to n. Lower values are ignored.
func (s *Store) AdvanceStep(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if float64(n) <= asFloat(s.doc[keyMaxStep]) {
		return
	}
	s.doc[keyMaxStep] = float64(n)
	s.touchLocked()
	s.persistLocked()
}

// PendingJob returns the persisted pending server-side job, if any.
func (s *Store) PendingJob() *types.PendingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.doc[keyPendingJob].(map[string]any)
	if !ok {
		return nil
	}
	job := &types.PendingJob{
		ID:        asString(m["id"]),
		Kind:      asString(m["kind"]),
		StartedAt: asString(m["startedAt"]),
	}
	if job.ID == "" {
		return nil
	}
	return job
}

// SetPendingJob records a server-side job so a restart can resume polling it.
func (s *Store) SetPendingJob(job *types.PendingJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[keyPendingJob] = map[string]any{
		"id":        job.ID,
		"kind":      job.Kind,
		"startedAt": job.StartedAt,
	}
	s.touchLocked()
	s.persistLocked()
}

// ClearPendingJob drops the pending-job marker once the job is terminal.
func (s *Store) ClearPendingJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[keyPendingJob] = nil
	s.touchLocked()
	s.persistLocked()
}

// AddCost accumulates a stage's spend in the cost ledger.
func (s *Store) AddCost(stage string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	costs, ok := s.doc[keyCosts].(map[string]any)
	if !ok {
		costs = map[string]any{}
		s.doc[keyCosts] = costs
	}
	costs[stage] = asFloat(costs[stage]) + amount
	s.touchLocked()
	s.persistLocked()
}

// Costs returns a copy of the per-stage cost ledger.
func (s *Store) Costs() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]float64{}
	if costs, ok := s.doc[keyCosts].(map[string]any); ok {
		for k, v := range costs {
			out[k] = asFloat(v)
		}
	}
	return out
}

// TotalCost is the sum over the cost ledger.
func (s *Store) TotalCost() float64 {
	var total float64
	for _, v := range s.Costs() {
		total += v
	}
	return total
}

// TryBeginRun claims the single-flight run lock. A second concurrent run must
// check this and back off with ErrRunInProgress instead of interleaving writes.
func (s *Store) TryBeginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// EndRun releases the run lock.
func (s *Store) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Persist writes the document to disk. Failures are logged and non-fatal; the
// in-memory state stays authoritative.
func (s *Store) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// Restore loads the persisted document if its savedAt is within the freshness
// window, merging stored keys over defaults. It reports whether a restore
// happened; on stale or unreadable data the defaults stay in place.
func (s *Store) Restore() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return s.RestoreBytes(data)
}

// RestoreBytes restores from an already-fetched serialized document, e.g. a
// mirror replica when the local file is gone. Same freshness gating as
// Restore.
func (s *Store) RestoreBytes(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored map[string]any
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Printf("[session] ⚠️  corrupt session document: %v", err)
		return false
	}

	savedAt := asString(stored[keySavedAt])
	if savedAt == "" {
		savedAt = asString(stored[keyUpdatedAt])
	}
	saved, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return false
	}
	if s.now().UTC().Sub(saved) > s.window {
		log.Printf("[session] persisted session is older than %s — starting fresh", s.window)
		return false
	}

	doc := s.defaults()
	for k, v := range stored {
		doc[k] = v
	}
	s.doc = doc
	return true
}

// touchLocked bumps updatedAt, keeping it strictly increasing even when the
// clock does not move between mutations.
func (s *Store) touchLocked() {
	now := s.now().UTC()
	if prev, err := time.Parse(time.RFC3339Nano, asString(s.doc[keyUpdatedAt])); err == nil && !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	s.doc[keyUpdatedAt] = now.Format(time.RFC3339Nano)
}

func (s *Store) persistLocked() {
	s.doc[keySavedAt] = s.doc[keyUpdatedAt]

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		log.Printf("[session] ⚠️  could not marshal session: %v", err)
		return
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		log.Printf("[session] ⚠️  could not save %s: %v", s.path, err)
		return
	}

	// Local write-ahead done; replicate remotely best-effort.
	if s.mirror != nil {
		id := asString(s.doc[keySessionID])
		mirror := s.mirror
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := mirror.Replicate(ctx, id, data); err != nil {
				log.Printf("[session] mirror replication failed: %v", err)
			}
		}()
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
