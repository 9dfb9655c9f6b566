package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

// AccountStore defines the persistence contract for accounts, settings
// and the append-only task log
type AccountStore interface {
	// CreateAccount inserts a new account record
	CreateAccount(ctx context.Context, account *model.Account) error

	// ListAccounts retrieves all accounts, newest first
	ListAccounts(ctx context.Context) ([]*model.Account, error)

	// GetAccount retrieves a single account by ID
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// UpdateAccount applies a partial update. Keys must be known
	// account columns.
	UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error

	// DeleteAccount removes an account record
	DeleteAccount(ctx context.Context, id string) error

	// AppendTaskLog appends one task outcome record
	AppendTaskLog(ctx context.Context, entry *model.TaskLogEntry) error

	// ListTaskLogs retrieves recent task log entries, newest first.
	// An empty accountID returns entries for all accounts.
	ListTaskLogs(ctx context.Context, accountID string, limit int) ([]*model.TaskLogEntry, error)

	// DeleteTaskLogsBefore deletes log entries older than the given time
	DeleteTaskLogsBefore(ctx context.Context, before time.Time) error

	// GetSetting retrieves a setting value, "" when absent
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting stores a setting value
	SetSetting(ctx context.Context, key, value string) error
}

// accountColumns whitelists the columns UpdateAccount may touch.
var accountColumns = map[string]bool{
	"login":       true,
	"password":    true,
	"two_factor":  true,
	"token":       true,
	"steam_id":    true,
	"last_comment": true,
	"tasks_today": true,
	"status":      true,
}

// SQLiteStore implements AccountStore using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			login TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			two_factor TEXT,
			token TEXT,
			steam_id TEXT,
			last_comment DATETIME,
			tasks_today INTEGER DEFAULT 0,
			status TEXT DEFAULT 'offline',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS task_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			target_steam_id TEXT,
			comment_id TEXT,
			status TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (account_id) REFERENCES accounts (id)
		);
		CREATE INDEX IF NOT EXISTS idx_task_logs_account_id ON task_logs(account_id);
		CREATE INDEX IF NOT EXISTS idx_task_logs_created_at ON task_logs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// CreateAccount implements AccountStore.CreateAccount
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *model.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Status == "" {
		account.Status = model.AccountStatusOffline
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, login, password, two_factor, token, steam_id, last_comment, tasks_today, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Login,
		account.Password,
		sql.NullString{String: account.TwoFactorSecret, Valid: account.TwoFactorSecret != ""},
		sql.NullString{String: account.Token, Valid: account.Token != ""},
		sql.NullString{String: account.SteamID, Valid: account.SteamID != ""},
		nullTime(account.LastComment),
		account.TasksToday,
		account.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// ListAccounts implements AccountStore.ListAccounts
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, login, password, two_factor, token, steam_id, last_comment,
			tasks_today, status, created_at, updated_at
		FROM accounts
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return accounts, nil
}

// GetAccount implements AccountStore.GetAccount
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, login, password, two_factor, token, steam_id, last_comment,
			tasks_today, status, created_at, updated_at
		FROM accounts
		WHERE id = ?`, id)

	account, err := scanAccount(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// UpdateAccount implements AccountStore.UpdateAccount
func (s *SQLiteStore) UpdateAccount(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	query := "UPDATE accounts SET"
	args := make([]interface{}, 0, len(fields)+1)
	first := true
	for key, value := range fields {
		if !accountColumns[key] {
			return fmt.Errorf("unknown account column: %s", key)
		}
		if !first {
			query += ","
		}
		query += fmt.Sprintf(" %s = ?", key)
		args = append(args, value)
		first = false
	}
	query += ", updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount implements AccountStore.DeleteAccount
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// AppendTaskLog implements AccountStore.AppendTaskLog
func (s *SQLiteStore) AppendTaskLog(ctx context.Context, entry *model.TaskLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (id, account_id, task_id, target_steam_id, comment_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.TaskID,
		sql.NullString{String: entry.TargetSteamID, Valid: entry.TargetSteamID != ""},
		sql.NullString{String: entry.CommentID, Valid: entry.CommentID != ""},
		entry.Status,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append task log: %w", err)
	}
	return nil
}

// ListTaskLogs implements AccountStore.ListTaskLogs
func (s *SQLiteStore) ListTaskLogs(ctx context.Context, accountID string, limit int) ([]*model.TaskLogEntry, error) {
	query := `
		SELECT id, account_id, task_id, target_steam_id, comment_id, status, created_at
		FROM task_logs`
	args := make([]interface{}, 0, 2)

	if accountID != "" {
		query += " WHERE account_id = ?"
		args = append(args, accountID)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.TaskLogEntry
	for rows.Next() {
		entry := &model.TaskLogEntry{}
		var target, comment sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.TaskID,
			&target,
			&comment,
			&entry.Status,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task log: %w", err)
		}

		entry.TargetSteamID = target.String
		entry.CommentID = comment.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return entries, nil
}

// DeleteTaskLogsBefore implements AccountStore.DeleteTaskLogsBefore
func (s *SQLiteStore) DeleteTaskLogsBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM task_logs WHERE created_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete task logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old task log records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// GetSetting implements AccountStore.GetSetting
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting implements AccountStore.SetSetting
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanAccount scans one account row using the provided scan function
func scanAccount(scan func(dest ...interface{}) error) (*model.Account, error) {
	account := &model.Account{}
	var twoFactor, token, steamID sql.NullString
	var lastComment sql.NullTime

	err := scan(
		&account.ID,
		&account.Login,
		&account.Password,
		&twoFactor,
		&token,
		&steamID,
		&lastComment,
		&account.TasksToday,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account.TwoFactorSecret = twoFactor.String
	account.Token = token.String
	account.SteamID = steamID.String
	if lastComment.Valid {
		t := lastComment.Time
		account.LastComment = &t
	}

	return account, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
