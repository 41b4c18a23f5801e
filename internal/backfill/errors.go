package backfill

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"

	ghclient "github.com/clintrovert/praxis/internal/github"
	"github.com/clintrovert/praxis/pkg/types"
)

// TaskError wraps a failure together with a snapshot of the task that was
// being attempted, taken before dispatch so the failure stays attributable.
type TaskError struct {
	Task types.Task
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed for repository %d: %v", e.Task.Type, e.Task.RepositoryID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// errorClass is the exhaustive classification of an attempt failure.
type errorClass int

const (
	errUnknown errorClass = iota
	errRateLimited
	errNotFound
)

// classify maps an upstream failure into the retry policy's three outcomes.
// Rate limits carry the delay until the limit resets (zero when the reset is
// already in the past). Not-found means the repository no longer exists and
// the current task should complete with no data. Everything else propagates
// for transport-level redelivery.
func classify(err error, now time.Time) (errorClass, time.Duration) {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return errRateLimited, delayUntil(rle.Rate.Reset.Time, now)
	}
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &arle) {
		if arle.RetryAfter != nil {
			return errRateLimited, *arle.RetryAfter
		}
		return errRateLimited, 0
	}
	if errors.Is(err, ghclient.ErrNotFound) {
		return errNotFound, 0
	}
	var ger *gh.ErrorResponse
	if errors.As(err, &ger) && ger.Response != nil && ger.Response.StatusCode == http.StatusNotFound {
		return errNotFound, 0
	}
	return errUnknown, 0
}

func delayUntil(reset, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
