// Package sessions tracks saved daily readings, one row per user per local
// date.
package sessions

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
)

// Repository provides access to the daily_sessions table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new sessions repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// HasSavedToday reports whether the user saved a reading for the given local
// date. The evening reminder skips users who already did.
func (r *Repository) HasSavedToday(ctx context.Context, userID, localDate string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM daily_sessions
			WHERE user_id = $1 AND session_date = $2
		);
    `

	var exists bool
	if err := r.db.Master.QueryRowContext(ctx, query, userID, localDate).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check saved session: %w", err)
	}

	return exists, nil
}

// MarkSaved records that the user saved a reading for the given local date.
// Saving twice on the same date is a no-op.
func (r *Repository) MarkSaved(ctx context.Context, userID, localDate string, memo string) error {
	query := `
		INSERT INTO daily_sessions (user_id, session_date, memo)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, session_date) DO NOTHING;
    `

	if _, err := r.db.ExecContext(ctx, query, userID, localDate, memo); err != nil {
		return fmt.Errorf("failed to mark session saved: %w", err)
	}

	return nil
}
