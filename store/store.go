// Package store persists per-user Feishu credentials, task records and local
// users in SQLite.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/coverbridge/idgen"
)

var (
	// ErrConfigMissing is returned when the user has not saved credentials.
	ErrConfigMissing = errors.New("store: feishu config missing")

	// ErrNotFound is returned when a task or user does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalid is returned for input that fails validation.
	ErrInvalid = errors.New("store: invalid input")

	// ErrBadCredentials is returned by Authenticate on unknown user or wrong password.
	ErrBadCredentials = errors.New("store: bad credentials")

	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("store: user exists")
)

// Schema is the DDL for all store tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('user','admin')),
    login_method TEXT NOT NULL DEFAULT 'local',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    last_signed_in INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feishu_config (
    user_id TEXT PRIMARY KEY,
    app_id TEXT NOT NULL,
    app_secret TEXT NOT NULL,
    app_token TEXT NOT NULL,
    table_id TEXT NOT NULL,
    image_field_name TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','exporting','uploading','completed','failed')),
    total_records INTEGER NOT NULL DEFAULT 0,
    processed_records INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at DESC);
`

// Store wraps the application database.
type Store struct {
	DB *sql.DB

	now      func() time.Time
	newTask  idgen.Generator
	newUser  idgen.Generator
	hashCost int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the task and user ID generators.
func WithIDs(task, user idgen.Generator) Option {
	return func(s *Store) { s.newTask, s.newUser = task, user }
}

// WithHashCost sets the bcrypt cost (tests use bcrypt.MinCost).
func WithHashCost(cost int) Option {
	return func(s *Store) { s.hashCost = cost }
}

// New creates a Store from an already-opened database with Schema applied.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:       db,
		now:      time.Now,
		newTask:  idgen.TaskID,
		newUser:  idgen.UserID,
		hashCost: defaultHashCost,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) stamp() int64 { return s.now().UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
