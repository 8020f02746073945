// Package auth provides credential verification, JWT session tokens,
// and the sqlite-backed user store.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned for lookups of unknown usernames. Callers
// on the login path must not leak it to clients.
var ErrUserNotFound = errors.New("user not found")

// User is one stored account. Usernames are case-sensitive: "Alice" and
// "alice" are distinct accounts.
type User struct {
	Username     string
	PasswordHash string
	Roles        []string
	IsActive     bool
}

// Store is the sqlite-backed user store.
type Store struct {
	db *sql.DB
}

const userSchema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	roles         TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1
);`

// OpenStore opens (creating if needed) the user database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("auth: open user db: %w", err)
	}
	if _, err := db.Exec(userSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: init user schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetUser fetches a user by exact username. The TEXT primary key uses
// BINARY collation, so the lookup is case-sensitive.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, roles, is_active FROM users WHERE username = ?`, username)

	var u User
	var rolesJSON string
	var active int
	if err := row.Scan(&u.Username, &u.PasswordHash, &rolesJSON, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: query user: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &u.Roles); err != nil {
		return nil, fmt.Errorf("auth: decode roles for %s: %w", username, err)
	}
	u.IsActive = active != 0
	return &u, nil
}

// CreateUser inserts a new account. The password is bcrypt-hashed here;
// plaintext never touches the database.
func (s *Store) CreateUser(ctx context.Context, username, password string, roles []string) error {
	if username == "" {
		return fmt.Errorf("auth: username must not be empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("auth: encode roles: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, roles, is_active) VALUES (?, ?, ?, 1)`,
		username, hash, string(rolesJSON))
	if err != nil {
		return fmt.Errorf("auth: create user %s: %w", username, err)
	}
	return nil
}

// SetActive enables or disables an account.
func (s *Store) SetActive(ctx context.Context, username string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE username = ?`, flag, username)
	if err != nil {
		return fmt.Errorf("auth: update user %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// HashPassword bcrypt-hashes a plaintext password at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("auth: password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}
