package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oleksandr-h/weather-agent/internal/models"
)

// CreateUser inserts a user record. User identity normally comes from the
// authentication collaborator; this exists for bookkeeping and tests.
func (r *SubscriptionRepository) CreateUser(ctx context.Context, email string) (models.User, error) {
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		user.ID, user.Email, user.CreatedAt,
	)
	if err != nil {
		r.log.Error().Err(err).Str("email", email).Msg("failed to insert user")
		r.m.TechnicalErrors.WithLabelValues("db_insert_error", "critical").Inc()
		return models.User{}, err
	}

	r.log.Info().Str("user_id", user.ID).Msg("user created")
	return user, nil
}

// GetUser reads one user by id.
func (r *SubscriptionRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: user id=%s", models.ErrNotFound, id)
	}
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_query_error", "critical").Inc()
		return models.User{}, err
	}
	return user, nil
}
