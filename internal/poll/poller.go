// Package poll waits for server-side asynchronous jobs to reach a terminal
// status by querying a status endpoint at a fixed interval.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"drama-lab-pipeline/internal/types"
)

// ErrTimeout means the attempt budget ran out before a terminal status. The
// server-side job is not cancelled — the client just stops watching it.
var ErrTimeout = errors.New("job did not reach a terminal status within the poll budget")

// Policy controls the fixed-interval polling loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the render endpoints: 2s interval, 600 attempts
// (20 minutes of wall time).
func DefaultPolicy() Policy {
	return Policy{Interval: 2 * time.Second, MaxAttempts: 600}
}

// FetchFunc queries the job's current status.
type FetchFunc func(ctx context.Context) (*types.JobStatus, error)

// ProgressFunc receives each non-terminal snapshot's progress and message.
type ProgressFunc func(progress int, message string)

// Await polls fetch until the job completes, fails, the attempt budget is
// exhausted, or ctx is cancelled.
//
// The first completed status returns the snapshot; the first failed status
// returns the provider-supplied error. Transient fetch errors count against
// the budget but do not abort the loop.
func Await(ctx context.Context, policy Policy, fetch FetchFunc, onProgress ProgressFunc) (*types.JobStatus, error) {
	if policy.Interval <= 0 {
		policy.Interval = DefaultPolicy().Interval
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		st, err := fetch(ctx)
		switch {
		case err != nil:
			log.Printf("[poll] status check %d failed: %v", attempt, err)
		case st.Status == types.JobCompleted:
			return st, nil
		case st.Status == types.JobFailed:
			msg := st.Error
			if msg == "" {
				msg = st.Message
			}
			if msg == "" {
				msg = "job failed"
			}
			return st, fmt.Errorf("job failed: %s", msg)
		default:
			if onProgress != nil {
				onProgress(st.Progress, st.Message)
			}
		}

		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Interval):
		}
	}
	return nil, ErrTimeout
}
