package auth

import (
	"context"
	"database/sql"
	"errors"
)

var _ UserStore = (*PGUserStore)(nil)

// PGUserStore implements UserStore over a users table:
//
//	users(id text primary key, email text unique, password_hash text,
//	      role text, status text, created_at timestamptz default now())
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, status, created_at
		from users where email = $1
	`, email)

	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.Status, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, ok := ParseRole(role)
	if !ok {
		parsed = RoleViewer
	}
	u.Role = parsed
	return &u, nil
}
