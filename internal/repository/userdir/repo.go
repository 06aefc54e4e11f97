// Package userdir reads the user directory. The directory is owned by the
// main application; this subsystem only ever reads it.
package userdir

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/haneulk/tarot-timer/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// Repository provides read access to the users table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new user directory repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetUser retrieves a single user by id.
func (r *Repository) GetUser(ctx context.Context, userID string) (model.User, error) {
	query := `
		SELECT id, timezone, push_address, email, language, preferences, last_seen_at
		FROM users
		WHERE id = $1;
    `

	var (
		u     model.User
		prefs []byte
	)

	err := r.db.Master.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Timezone, &u.PushAddress, &u.Email, &u.Language, &prefs, &u.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}

		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
			return model.User{}, fmt.Errorf("failed to decode preferences for %s: %w", u.ID, err)
		}
	}

	return u, nil
}

// ActiveUsers retrieves every user marked active, the population the
// scheduler passes iterate over.
func (r *Repository) ActiveUsers(ctx context.Context) ([]model.User, error) {
	query := `
		SELECT id, timezone, push_address, email, language, preferences, last_seen_at
		FROM users
		WHERE active = TRUE
		ORDER BY id;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u     model.User
			prefs []byte
		)

		if err := rows.Scan(&u.ID, &u.Timezone, &u.PushAddress, &u.Email, &u.Language, &prefs, &u.LastSeenAt); err != nil {
			return nil, err
		}

		if len(prefs) > 0 {
			if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
				return nil, fmt.Errorf("failed to decode preferences for %s: %w", u.ID, err)
			}
		}

		users = append(users, u)
	}

	return users, rows.Err()
}
