package users

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Profile is the display identity attached to a seated player.
type Profile struct {
	UserID string
	Name   string
	Email  string
}

// Directory is a read-only lookup of display identity by user id.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
}

// Static is a Directory backed by an in-memory map, used when no database
// is configured. Unknown users get a generated guest name so a lookup never
// blocks seating a player.
type Static struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewStatic() *Static {
	return &Static{profiles: make(map[string]Profile)}
}

func (s *Static) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *Static) Lookup(_ context.Context, userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return Profile{UserID: userID, Name: guestName(userID)}, nil
}

func guestName(userID string) string {
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return "Player-" + suffix
}

// DB is a Directory over the shared users table.
type DB struct {
	conn *sql.DB
}

func NewDB(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

func (d *DB) Lookup(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	var email sql.NullString
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, display_name, email FROM users WHERE id = $1
	`, userID).Scan(&p.UserID, &p.Name, &email)
	if err == sql.ErrNoRows {
		return Profile{UserID: userID, Name: guestName(userID)}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("looking up user %s: %w", userID, err)
	}
	p.Email = email.String
	return p, nil
}
