package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/vidora/vidora/internal/models"
)

// GetUser retrieves a user by their ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, email, display_name, plan, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.Plan,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// UpsertUser creates or updates a user record. The ID matches the auth
// provider's user id carried in the JWT sub claim — after token verification
// the backend upserts so a local record always exists.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, display_name, plan)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = COALESCE(EXCLUDED.display_name, users.display_name),
			updated_at = NOW()
		RETURNING plan, created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		user.ID, user.Email, user.DisplayName, user.Plan,
	).Scan(&user.Plan, &user.CreatedAt, &user.UpdatedAt)
}

// UpdateUserPlan sets the user's subscription plan. Called from the billing
// webhook on subscription lifecycle events.
func (db *DB) UpdateUserPlan(ctx context.Context, id uuid.UUID, plan models.Plan) error {
	result, err := db.ExecContext(ctx, `
		UPDATE users SET plan = $1, updated_at = NOW() WHERE id = $2
	`, plan, id)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
