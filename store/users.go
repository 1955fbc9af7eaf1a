package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/coverbridge/dbopen"
)

const defaultHashCost = bcrypt.DefaultCost

// Guest user identity, used when guest mode is on and no session is present.
const (
	GuestUserID   = "usr_guest"
	GuestUsername = "guest"
)

// User is a local account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role"`
	LoginMethod  string    `json:"loginMethod"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

const userColumns = `id, username, display_name, email, role, login_method, created_at, last_signed_in`

// CreateUser registers a local user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password, role string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password required", ErrInvalid)
	}
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "admin" {
		return nil, fmt.Errorf("%w: role %q", ErrInvalid, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("store: hash password: %w", err)
	}
	now := s.stamp()
	u := &User{
		ID:          s.newUser(),
		Username:    username,
		DisplayName: username,
		Role:        role,
		LoginMethod: "local",
		CreatedAt:   fromMillis(now),
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO users (id, username, display_name, password_hash, role, login_method,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'local', ?, ?)`,
		u.ID, u.Username, u.DisplayName, string(hash), u.Role, now, now)
	if err != nil {
		if dbopen.IsUnique(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// Authenticate checks a password and records the sign-in.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var hash string
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE username = ? AND login_method = 'local'`,
		strings.TrimSpace(username)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("store: authenticate: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	if _, err := dbopen.Exec(ctx, s.DB,
		`UPDATE users SET last_signed_in = ? WHERE id = ?`, s.stamp(), id); err != nil {
		return nil, fmt.Errorf("store: record sign-in: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser returns a user by ID, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var created, signed int64
	err := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.Role, &u.LoginMethod, &created, &signed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.CreatedAt, u.LastSignedIn = fromMillis(created), fromMillis(signed)
	return &u, nil
}

// EnsureGuest creates the guest account if absent and returns it. The guest
// has no password and cannot log in; it is only assumed in guest mode.
func (s *Store) EnsureGuest(ctx context.Context) (*User, error) {
	now := s.stamp()
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT OR IGNORE INTO users (id, username, display_name, email, role, login_method,
		created_at, updated_at)
		VALUES (?, ?, 'Guest User', 'guest@example.com', 'admin', 'guest', ?, ?)`,
		GuestUserID, GuestUsername, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: ensure guest: %w", err)
	}
	return s.GetUser(ctx, GuestUserID)
}
