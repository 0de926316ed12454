package poll

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"drama-lab-pipeline/internal/types"
)

func fastPolicy(max int) Policy {
	return Policy{Interval: time.Millisecond, MaxAttempts: max}
}

func TestAwaitStopsOnFirstCompleted(t *testing.T) {
	t.Parallel()

	statuses := []*types.JobStatus{
		{Status: types.JobRunning, Progress: 10, Message: "rendering"},
		{Status: types.JobRunning, Progress: 60, Message: "encoding"},
		{Status: types.JobCompleted, Progress: 100, VideoURL: "http://cdn/out.mp4"},
		{Status: types.JobRunning}, // must never be reached
	}
	var calls int
	var progress []int

	st, err := Await(context.Background(), fastPolicy(10),
		func(context.Context) (*types.JobStatus, error) {
			st := statuses[calls]
			calls++
			return st, nil
		},
		func(p int, _ string) { progress = append(progress, p) })

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("polling must stop at the first completed status: %d calls", calls)
	}
	if st.VideoURL != "http://cdn/out.mp4" {
		t.Fatalf("terminal snapshot not returned: %+v", st)
	}
	if len(progress) != 2 || progress[0] != 10 || progress[1] != 60 {
		t.Fatalf("unexpected progress reports: %v", progress)
	}
}

func TestAwaitStopsOnFirstFailed(t *testing.T) {
	t.Parallel()

	var calls int
	_, err := Await(context.Background(), fastPolicy(10),
		func(context.Context) (*types.JobStatus, error) {
			calls++
			if calls < 3 {
				return &types.JobStatus{Status: types.JobRunning}, nil
			}
			return &types.JobStatus{Status: types.JobFailed, Error: "gpu pool exhausted"}, nil
		}, nil)

	if err == nil || !strings.Contains(err.Error(), "gpu pool exhausted") {
		t.Fatalf("provider error not surfaced: %v", err)
	}
	if calls != 3 {
		t.Fatalf("polling must stop at the first failed status: %d calls", calls)
	}
}

func TestAwaitExhaustsBudget(t *testing.T) {
	t.Parallel()

	var calls int
	_, err := Await(context.Background(), fastPolicy(5),
		func(context.Context) (*types.JobStatus, error) {
			calls++
			return &types.JobStatus{Status: types.JobRunning, Progress: calls}, nil
		}, nil)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", calls)
	}
}

func TestAwaitFetchErrorsCountAgainstBudget(t *testing.T) {
	t.Parallel()

	var calls int
	_, err := Await(context.Background(), fastPolicy(4),
		func(context.Context) (*types.JobStatus, error) {
			calls++
			return nil, errors.New("connection refused")
		}, nil)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("transient fetch errors should end in ErrTimeout, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestAwaitCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	_, err := Await(ctx, Policy{Interval: time.Minute, MaxAttempts: 100},
		func(context.Context) (*types.JobStatus, error) {
			calls++
			cancel()
			return &types.JobStatus{Status: types.JobRunning}, nil
		}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("cancellation must stop the loop immediately: %d calls", calls)
	}
}
