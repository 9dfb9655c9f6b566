package steam

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GuardRegistry holds pending Steam Guard challenges keyed by account id.
// Each challenge is a one-shot continuation: the connector awaits a code,
// an external answer resolves it, and unanswered entries expire so the
// map never leaks.
type GuardRegistry struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan string
}

// NewGuardRegistry creates a registry with the given challenge timeout
func NewGuardRegistry(timeout time.Duration, logger *zap.Logger) *GuardRegistry {
	return &GuardRegistry{
		logger:  logger.Named("steam-guard"),
		timeout: timeout,
		pending: make(map[string]chan string),
	}
}

// Await blocks until a code arrives for the account, the timeout elapses
// or the context is cancelled. A second challenge for the same account
// replaces the first.
func (r *GuardRegistry) Await(ctx context.Context, accountID string) (string, error) {
	ch := make(chan string, 1)

	r.mu.Lock()
	if old, ok := r.pending[accountID]; ok {
		close(old)
	}
	r.pending[accountID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if current, ok := r.pending[accountID]; ok && current == ch {
			delete(r.pending, accountID)
		}
		r.mu.Unlock()
	}()

	r.logger.Info("Awaiting steam guard code", zap.String("account_id", accountID))

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case code, ok := <-ch:
		if !ok {
			return "", ErrGuardTimeout
		}
		return code, nil
	case <-timer.C:
		return "", ErrGuardTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers a code for a pending challenge. Returns false when no
// challenge is waiting for the account.
func (r *GuardRegistry) Resolve(accountID, code string) bool {
	r.mu.Lock()
	ch, ok := r.pending[accountID]
	if ok {
		delete(r.pending, accountID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	ch <- code
	return true
}

// Pending returns the account ids with outstanding challenges
func (r *GuardRegistry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}
