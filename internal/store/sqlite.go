package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
	"github.com/alphatech-ng/alphatech-site/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	deviceMu   sync.Mutex // serializes device session writes to avoid SQLITE_BUSY
	maxRetries int
	retryDelay time.Duration
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better read concurrency.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, maxRetries: 3, retryDelay: 50 * time.Millisecond}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// SetRetryPolicy overrides the SQLITE_BUSY retry policy for writes.
func (s *SQLiteStore) SetRetryPolicy(maxRetries int, baseDelay time.Duration) {
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		s.retryDelay = baseDelay
	}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS accounts (
		account_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_sessions (
		visitor_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		signed_in_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_created ON profiles(created_at);

	CREATE TABLE IF NOT EXISTS leads (
		lead_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		program TEXT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		message TEXT,
		visitor_id TEXT,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.maxRetries, s.retryDelay, func(ctx context.Context) error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `SELECT visitor_id, last_seen_at, created_at, updated_at FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(&v.VisitorID, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.execWithRetry(ctx, query,
		visitor.VisitorID, visitor.LastSeenAt.Unix(),
		visitor.CreatedAt.Unix(), visitor.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.execWithRetry(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// DeleteIdleVisitors removes visitors idle longer than ttl and their device sessions.
func (s *SQLiteStore) DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, int64, error) {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin idle visitor cleanup: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back idle visitor cleanup", "error", rbErr)
		}
	}()

	sessRes, err := tx.ExecContext(ctx, `
		DELETE FROM device_sessions WHERE visitor_id IN (
			SELECT visitor_id FROM visitors WHERE last_seen_at < ?
		)`, threshold)
	if err != nil {
		return 0, 0, fmt.Errorf("delete idle device sessions: %w", err)
	}
	sessRows, err := sessRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("idle device sessions rows affected: %w", err)
	}

	visRes, err := tx.ExecContext(ctx, `DELETE FROM visitors WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, 0, fmt.Errorf("delete idle visitors: %w", err)
	}
	visRows, err := visRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("idle visitors rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit idle visitor cleanup: %w", err)
	}
	return visRows, sessRows, nil
}

// CreateAccount inserts a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `INSERT INTO accounts (account_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.execWithRetry(ctx, query,
		account.AccountID, strings.TrimSpace(account.Email),
		account.PasswordHash, account.CreatedAt.Unix(),
	)
	if shared.IsSQLiteUniqueError(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccountByEmail returns the account registered under email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.getAccount(ctx, `WHERE email = ?`, strings.TrimSpace(email))
}

// GetAccount returns the account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.getAccount(ctx, `WHERE account_id = ?`, accountID)
}

func (s *SQLiteStore) getAccount(ctx context.Context, where string, arg string) (*domain.Account, error) {
	query := `SELECT account_id, email, password_hash, created_at FROM accounts ` + where

	var a domain.Account
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.AccountID, &a.Email, &a.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// SetDeviceSession records accountID as signed in on visitorID.
func (s *SQLiteStore) SetDeviceSession(ctx context.Context, visitorID, accountID string) error {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	query := `
	INSERT INTO device_sessions (visitor_id, account_id, signed_in_at) VALUES (?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		account_id = excluded.account_id,
		signed_in_at = excluded.signed_in_at`
	if _, err := s.execWithRetry(ctx, query, visitorID, accountID, time.Now().Unix()); err != nil {
		return fmt.Errorf("set device session: %w", err)
	}
	return nil
}

// GetDeviceSession returns the account signed in on visitorID, or "".
func (s *SQLiteStore) GetDeviceSession(ctx context.Context, visitorID string) (string, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM device_sessions WHERE visitor_id = ?`, visitorID).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan device session: %w", err)
	}
	return accountID, nil
}

// DeleteDeviceSession signs visitorID out.
func (s *SQLiteStore) DeleteDeviceSession(ctx context.Context, visitorID string) error {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	if _, err := s.execWithRetry(ctx, `DELETE FROM device_sessions WHERE visitor_id = ?`, visitorID); err != nil {
		return fmt.Errorf("delete device session: %w", err)
	}
	return nil
}

// WriteProfile creates or replaces a profile.
func (s *SQLiteStore) WriteProfile(ctx context.Context, profile *domain.Profile) error {
	query := `
	INSERT INTO profiles (user_id, name, email, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		created_at = excluded.created_at`
	_, err := s.execWithRetry(ctx, query, profile.UserID, profile.Name, profile.Email, profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// ReadProfile returns the profile for userID, or nil.
func (s *SQLiteStore) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, email, created_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.Email, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}
	return &p, nil
}

// ListAllProfiles returns every profile ordered by creation time.
func (s *SQLiteStore) ListAllProfiles(ctx context.Context) ([]*domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, name, email, created_at FROM profiles ORDER BY created_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close profile rows", "error", closeErr)
		}
	}()

	var profiles []*domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.UserID, &p.Name, &p.Email, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// CountProfiles returns the number of stored profiles.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

// CreateLead stores a contact or training request.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *domain.Lead) error {
	query := `
	INSERT INTO leads (lead_id, kind, program, name, email, phone, message, visitor_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var program, message any
	if lead.Program != "" {
		program = lead.Program
	}
	if lead.Message != "" {
		message = lead.Message
	}

	_, err := s.execWithRetry(ctx, query,
		lead.LeadID, string(lead.Kind), program, lead.Name, lead.Email,
		lead.Phone, message, lead.VisitorID, lead.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// ListLeads returns all leads, newest first.
func (s *SQLiteStore) ListLeads(ctx context.Context) ([]*domain.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lead_id, kind, program, name, email, phone, message, visitor_id, created_at
		FROM leads ORDER BY created_at DESC, lead_id`)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lead rows", "error", closeErr)
		}
	}()

	var leads []*domain.Lead
	for rows.Next() {
		var l domain.Lead
		var kind string
		var program, message, visitorID sql.NullString
		var createdAt int64
		if err := rows.Scan(&l.LeadID, &kind, &program, &l.Name, &l.Email, &l.Phone, &message, &visitorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		l.Kind = domain.LeadKind(kind)
		l.Program = program.String
		l.Message = message.String
		l.VisitorID = visitorID.String
		l.CreatedAt = time.Unix(createdAt, 0)
		leads = append(leads, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

var _ Repository = (*SQLiteStore)(nil)
