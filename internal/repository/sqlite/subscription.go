package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
	"github.com/oleksandr-h/weather-agent/internal/models"
)

// SubscriptionRepository handles subscription and user rows. Write statements
// take an explicit *sql.Tx so the coordinator owns the transaction boundary.
type SubscriptionRepository struct {
	DB  *sql.DB
	log zerolog.Logger
	m   *metrics.Metrics
}

func NewSubscriptionRepository(
	db *sql.DB,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *SubscriptionRepository {
	logger = logger.With().Str("component", "SubscriptionRepository").Logger()
	return &SubscriptionRepository{DB: db, log: logger, m: m}
}

// WithTx runs fn inside one transaction, rolling back on any error.
func (r *SubscriptionRepository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_begin_error", "critical").Inc()
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.log.Error().Err(rbErr).Msg("rollback failed")
			r.m.TechnicalErrors.WithLabelValues("db_rollback_error", "critical").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_commit_error", "critical").Inc()
		return err
	}
	return nil
}

// CreateSubscription inserts one subscription row. Linking the row to the
// owner is a separate statement run by the coordinator in the same
// transaction.
func (r *SubscriptionRepository) CreateSubscription(
	ctx context.Context,
	tx *sql.Tx,
	ownerID, city, recipientEmail, cronPattern string,
) (models.Subscription, error) {
	sub := models.Subscription{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		City:           city,
		RecipientEmail: recipientEmail,
		CronPattern:    cronPattern,
		CreatedAt:      time.Now().UTC(),
	}
	sub.SchedulerKey = models.SchedulerKeyFor(sub.ID)

	r.log.Debug().
		Str("owner_id", ownerID).
		Str("city", city).
		Msg("inserting subscription record")

	_, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions
		    (id, owner_id, city, recipient_email, scheduler_key, cron_pattern, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OwnerID, sub.City, sub.RecipientEmail,
		sub.SchedulerKey, sub.CronPattern, sub.CreatedAt,
	)
	if err != nil {
		r.log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to insert subscription")
		r.m.TechnicalErrors.WithLabelValues("db_insert_error", "critical").Inc()
		return models.Subscription{}, err
	}
	return sub, nil
}

// DeleteSubscription removes a subscription scoped to its owner and returns
// the deleted row. A row owned by someone else is indistinguishable from a
// missing one.
func (r *SubscriptionRepository) DeleteSubscription(
	ctx context.Context,
	tx *sql.Tx,
	id, ownerID string,
) (models.Subscription, error) {
	var sub models.Subscription
	err := tx.QueryRowContext(ctx,
		`SELECT id, owner_id, city, recipient_email, scheduler_key, cron_pattern, created_at
		 FROM subscriptions WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	).Scan(&sub.ID, &sub.OwnerID, &sub.City, &sub.RecipientEmail,
		&sub.SchedulerKey, &sub.CronPattern, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		r.m.BusinessErrors.WithLabelValues("subscription_not_found", "warning").Inc()
		return models.Subscription{}, fmt.Errorf("%w: id=%s", models.ErrNotFound, id)
	}
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_query_error", "critical").Inc()
		return models.Subscription{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE id = ? AND owner_id = ?`, id, ownerID,
	); err != nil {
		r.log.Error().Err(err).Str("subscription_id", id).Msg("failed to delete subscription")
		r.m.TechnicalErrors.WithLabelValues("db_delete_error", "critical").Inc()
		return models.Subscription{}, err
	}

	r.log.Info().Str("subscription_id", id).Str("owner_id", ownerID).Msg("subscription deleted")
	return sub, nil
}

// LinkToUser appends the subscription id to the owner's ordered subscription
// set. The primary key keeps the set duplicate-free.
func (r *SubscriptionRepository) LinkToUser(
	ctx context.Context,
	tx *sql.Tx,
	userID, subscriptionID string,
) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_subscriptions (user_id, subscription_id, position)
		 SELECT ?, ?, COALESCE(MAX(position), 0) + 1
		 FROM user_subscriptions WHERE user_id = ?`,
		userID, subscriptionID, userID,
	)
	if err != nil {
		r.log.Error().Err(err).
			Str("user_id", userID).
			Str("subscription_id", subscriptionID).
			Msg("failed to link subscription to user")
		r.m.TechnicalErrors.WithLabelValues("db_insert_error", "critical").Inc()
		return err
	}
	return nil
}

// UnlinkFromUser removes the subscription id from the owner's subscription set.
func (r *SubscriptionRepository) UnlinkFromUser(
	ctx context.Context,
	tx *sql.Tx,
	userID, subscriptionID string,
) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM user_subscriptions WHERE user_id = ? AND subscription_id = ?`,
		userID, subscriptionID,
	)
	if err != nil {
		r.log.Error().Err(err).
			Str("user_id", userID).
			Str("subscription_id", subscriptionID).
			Msg("failed to unlink subscription from user")
		r.m.TechnicalErrors.WithLabelValues("db_delete_error", "critical").Inc()
		return err
	}
	return nil
}

// GetSubscription reads one subscription by id.
func (r *SubscriptionRepository) GetSubscription(
	ctx context.Context,
	id string,
) (models.Subscription, error) {
	var sub models.Subscription
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, owner_id, city, recipient_email, scheduler_key, cron_pattern, created_at
		 FROM subscriptions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.OwnerID, &sub.City, &sub.RecipientEmail,
		&sub.SchedulerKey, &sub.CronPattern, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("%w: id=%s", models.ErrNotFound, id)
	}
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_query_error", "critical").Inc()
		return models.Subscription{}, err
	}
	return sub, nil
}

// ListAll returns every subscription; reconciliation input.
func (r *SubscriptionRepository) ListAll(ctx context.Context) ([]models.Subscription, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, owner_id, city, recipient_email, scheduler_key, cron_pattern, created_at
		 FROM subscriptions ORDER BY created_at`)
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_query_error", "critical").Inc()
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.City, &sub.RecipientEmail,
			&sub.SchedulerKey, &sub.CronPattern, &sub.CreatedAt); err != nil {
			r.m.TechnicalErrors.WithLabelValues("db_scan_error", "critical").Inc()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscriptionIDs returns the user's subscription ids in link order.
func (r *SubscriptionRepository) SubscriptionIDs(
	ctx context.Context,
	userID string,
) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT subscription_id FROM user_subscriptions
		 WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		r.m.TechnicalErrors.WithLabelValues("db_query_error", "critical").Inc()
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
