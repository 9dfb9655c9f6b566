package bot

import (
	"errors"
	"strings"

	"github.com/t77yq/rep4rep-bot/internal/rep4rep"
	"github.com/t77yq/rep4rep-bot/internal/steam"
)

// FailureKind classifies one task execution failure
type FailureKind int

const (
	// FailureTransient covers everything not otherwise classified: the
	// worker logs, backs off and continues its loop.
	FailureTransient FailureKind = iota

	// FailureRateLimited means the remote signalled backpressure: the
	// account is benched for the rest of its 24h window, or in
	// sequential mode the whole run pauses and retries.
	FailureRateLimited

	// FailurePermissionDenied means the target does not accept comments
	// from this account: the single task is skipped.
	FailurePermissionDenied
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailurePermissionDenied:
		return "permission_denied"
	default:
		return "transient"
	}
}

// RetryPolicy classifies execution failures. Matching is by sentinel
// error first, then by the message fragments the remote services are
// known to produce.
type RetryPolicy struct{}

// Classify maps an error to exactly one failure kind
func (RetryPolicy) Classify(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}

	if errors.Is(err, rep4rep.ErrRateLimited) {
		return FailureRateLimited
	}
	if errors.Is(err, steam.ErrCommentsNotAllowed) {
		return FailurePermissionDenied
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "posting too frequently"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return FailureRateLimited
	case strings.Contains(msg, "do not allow you to add comments"):
		return FailurePermissionDenied
	}

	return FailureTransient
}
