// Package userstore persists the local user records provisioned from
// identity provider sign-ins.
package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var ErrNotFound = errors.New("user not found")

// User is a locally provisioned account. Subject is the stable
// identifier asserted by the identity provider; Email may be empty when
// the provider does not release one.
type User struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// Store handles SQLite persistence for provisioned users.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the user database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "users.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL UNIQUE,
			email TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			admin INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_login TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Provision records a sign-in for the asserted subject, creating the
// user on first login and refreshing email and last-login otherwise.
func (s *Store) Provision(ctx context.Context, subject, email string) (*User, error) {
	now := time.Now().UTC()

	existing, err := s.GetBySubject(ctx, subject)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if errors.Is(err, ErrNotFound) {
		user := &User{
			ID:        uuid.New().String(),
			Subject:   subject,
			Email:     email,
			Active:    true,
			CreatedAt: now,
			LastLogin: now,
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users (id, subject, email, active, created_at, last_login)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			user.ID, user.Subject, user.Email,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}

	if email == "" {
		email = existing.Email
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, last_login = ? WHERE subject = ?`,
		email, now.Format(time.RFC3339), subject)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	existing.Email = email
	existing.LastLogin = now
	return existing, nil
}

// GetByID retrieves a user by its local ID.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	return s.get(ctx, `SELECT id, subject, email, active, admin, created_at, last_login
		FROM users WHERE id = ?`, id)
}

// GetBySubject retrieves a user by the provider-asserted subject.
func (s *Store) GetBySubject(ctx context.Context, subject string) (*User, error) {
	return s.get(ctx, `SELECT id, subject, email, active, admin, created_at, last_login
		FROM users WHERE subject = ?`, subject)
}

func (s *Store) get(ctx context.Context, query, arg string) (*User, error) {
	var (
		user      User
		active    int
		admin     int
		createdAt string
		lastLogin string
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Subject, &user.Email, &active, &admin, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Active = active != 0
	user.Admin = admin != 0
	if user.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if user.LastLogin, err = time.Parse(time.RFC3339, lastLogin); err != nil {
		return nil, fmt.Errorf("failed to parse last_login: %w", err)
	}
	return &user, nil
}

// SetActive enables or disables a user.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	val := 0
	if active {
		val = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAdmin grants or removes the admin flag.
func (s *Store) SetAdmin(ctx context.Context, id string, admin bool) error {
	val := 0
	if admin {
		val = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET admin = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
