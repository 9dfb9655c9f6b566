package steam

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

// AccountStore is the slice of the persistence contract the session
// manager needs
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error
}

// Manager owns the live Steam sessions, one per account. Authentication
// prefers a stored refresh token and falls back to login/password; a
// renewed token and the resolved Steam ID are persisted on success.
type Manager struct {
	logger    *zap.Logger
	connector Connector
	store     AccountStore

	mu          sync.Mutex
	sessions    map[string]Conn
	authorizing map[string]bool
	closed      chan struct{}
}

// NewManager creates a session manager
func NewManager(connector Connector, store AccountStore, logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger.Named("steam"),
		connector:   connector,
		store:       store,
		sessions:    make(map[string]Conn),
		authorizing: make(map[string]bool),
		closed:      make(chan struct{}),
	}
}

// Authenticate establishes a session for the account. It is a no-op when
// the account is already authenticated or an authentication is in flight.
func (m *Manager) Authenticate(ctx context.Context, accountID string) error {
	m.mu.Lock()
	if _, ok := m.sessions[accountID]; ok || m.authorizing[accountID] {
		m.mu.Unlock()
		return nil
	}
	m.authorizing[accountID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.authorizing, accountID)
		m.mu.Unlock()
	}()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	m.updateAccount(ctx, accountID, map[string]interface{}{
		"status": string(model.AccountStatusAuthorizing),
	})

	conn, err := m.connect(ctx, account)
	if err != nil {
		m.updateAccount(ctx, accountID, map[string]interface{}{
			"status": string(model.AccountStatusError),
		})
		m.logger.Error("Authentication failed",
			zap.String("account_id", accountID),
			zap.String("login", account.Login),
			zap.Error(err))
		return fmt.Errorf("authentication failed for %s: %w", account.Login, err)
	}

	fields := map[string]interface{}{
		"status": string(model.AccountStatusReady),
	}
	if token := conn.RefreshToken(); token != "" {
		fields["token"] = token
	}
	if steamID := conn.SteamID(); steamID != "" {
		fields["steam_id"] = steamID
	}
	m.updateAccount(ctx, accountID, fields)

	m.mu.Lock()
	m.sessions[accountID] = conn
	m.mu.Unlock()

	go m.watch(accountID, conn)

	m.logger.Info("Account authenticated",
		zap.String("account_id", accountID),
		zap.String("login", account.Login))

	return nil
}

// connect tries the stored refresh token first, then login/password
func (m *Manager) connect(ctx context.Context, account *model.Account) (Conn, error) {
	passwordCreds := Credentials{
		Login:         account.Login,
		Password:      account.Password,
		TwoFactorCode: account.TwoFactorSecret,
		SteamID:       account.SteamID,
	}

	if account.Token != "" {
		tokenCreds := passwordCreds
		tokenCreds.RefreshToken = account.Token

		conn, err := m.connector.Connect(ctx, tokenCreds)
		if err == nil {
			return conn, nil
		}

		// Stale token: drop it and retry with credentials.
		m.logger.Warn("Token authentication failed, falling back to password",
			zap.String("login", account.Login),
			zap.Error(err))
		m.updateAccount(ctx, account.ID, map[string]interface{}{"token": ""})
	}

	return m.connector.Connect(ctx, passwordCreds)
}

// IsAuthenticated reports whether the account has a live session
func (m *Manager) IsAuthenticated(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[accountID]
	return ok
}

// Deauthenticate terminates the account's session if any and marks the
// account offline. Idempotent.
func (m *Manager) Deauthenticate(ctx context.Context, accountID string) error {
	m.mu.Lock()
	conn, ok := m.sessions[accountID]
	delete(m.sessions, accountID)
	m.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			m.logger.Warn("Failed to close session",
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}

	m.updateAccount(ctx, accountID, map[string]interface{}{
		"status": string(model.AccountStatusOffline),
	})

	m.logger.Info("Account logged out", zap.String("account_id", accountID))
	return nil
}

// PostComment posts a comment on the target profile using the account's
// session
func (m *Manager) PostComment(ctx context.Context, accountID, targetSteamID, text string) (string, error) {
	m.mu.Lock()
	conn, ok := m.sessions[accountID]
	m.mu.Unlock()

	if !ok {
		return "", ErrNotAuthenticated
	}

	return conn.PostComment(ctx, targetSteamID, text)
}

// ConnectedAccounts returns the IDs of accounts with live sessions
func (m *Manager) ConnectedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close terminates all sessions
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Deauthenticate(ctx, id)
	}
}

// watch drops the session when the connection is lost out-of-band
func (m *Manager) watch(accountID string, conn Conn) {
	select {
	case <-conn.Done():
	case <-m.closed:
		return
	}

	m.mu.Lock()
	current, ok := m.sessions[accountID]
	if !ok || current != conn {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, accountID)
	m.mu.Unlock()

	m.logger.Warn("Account disconnected", zap.String("account_id", accountID))
	m.updateAccount(context.Background(), accountID, map[string]interface{}{
		"status": string(model.AccountStatusOffline),
	})
}

// updateAccount persists a partial account update, logging failures
// instead of propagating them: session state must stay usable even when
// the store is briefly unavailable.
func (m *Manager) updateAccount(ctx context.Context, accountID string, fields map[string]interface{}) {
	if err := m.store.UpdateAccount(ctx, accountID, fields); err != nil {
		m.logger.Error("Failed to update account",
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
