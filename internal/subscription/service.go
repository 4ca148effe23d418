package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
	"github.com/oleksandr-h/weather-agent/internal/models"
	"github.com/oleksandr-h/weather-agent/internal/queue"
)

type repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	CreateSubscription(ctx context.Context, tx *sql.Tx, ownerID, city, recipientEmail, cronPattern string) (models.Subscription, error)
	DeleteSubscription(ctx context.Context, tx *sql.Tx, id, ownerID string) (models.Subscription, error)
	LinkToUser(ctx context.Context, tx *sql.Tx, userID, subscriptionID string) error
	UnlinkFromUser(ctx context.Context, tx *sql.Tx, userID, subscriptionID string) error
	ListAll(ctx context.Context) ([]models.Subscription, error)
}

type schedulerAdapter interface {
	Schedule(ctx context.Context, city, recipientEmail, cronPattern, schedulerID string) (string, error)
	Unschedule(ctx context.Context, schedulerID string) (bool, error)
	ListScheduled(ctx context.Context) ([]queue.SchedulerInfo, error)
}

// CreateResult reports a finished create operation. Scheduled is false when
// the store commit succeeded but the recurring job could not be registered;
// SchedulingErr then carries the cause for reconciliation.
type CreateResult struct {
	Subscription  models.Subscription
	Scheduled     bool
	SchedulingErr error
}

// DeleteResult mirrors CreateResult for the delete flow.
type DeleteResult struct {
	Subscription    models.Subscription
	Unscheduled     bool
	UnschedulingErr error
}

// ReconcileResult reports what a reconciliation pass repaired.
type ReconcileResult struct {
	Upserted int
	Removed  int
}

type createInput struct {
	OwnerID string `validate:"required"`
	Email   string `validate:"required,email"`
	City    string `validate:"required"`
}

// Service coordinates the store transaction and the queue-backend scheduler
// so a subscription row and its recurring job stay in lockstep. The two
// systems share no transaction: the scheduler call is a post-commit saga step
// with compensating logging.
type Service struct {
	repo           repository
	sched          schedulerAdapter
	log            zerolog.Logger
	m              *metrics.Metrics
	validate       *validator.Validate
	defaultPattern string
	retryAttempts  uint64
	retryBase      time.Duration
}

func NewService(
	repo repository,
	sched schedulerAdapter,
	logger zerolog.Logger,
	m *metrics.Metrics,
	defaultPattern string,
	retryAttempts uint64,
	retryBase time.Duration,
) *Service {
	logger = logger.With().Str("component", "SubscriptionService").Logger()
	return &Service{
		repo:           repo,
		sched:          sched,
		log:            logger,
		m:              m,
		validate:       validator.New(),
		defaultPattern: defaultPattern,
		retryAttempts:  retryAttempts,
		retryBase:      retryBase,
	}
}

// Create inserts the subscription and links it to the owner in one store
// transaction, then registers the recurring job under the subscription's
// deterministic scheduler key. A scheduling failure after commit is partial
// success, never masked: the row exists, Scheduled is false, and the gap is
// logged for reconciliation.
func (s *Service) Create(
	ctx context.Context,
	auth models.AuthUser,
	city string,
) (CreateResult, error) {
	in := createInput{OwnerID: auth.ID, Email: auth.Email, City: city}
	if err := s.validate.Struct(in); err != nil {
		s.m.BusinessErrors.WithLabelValues("invalid_input", "warning").Inc()
		return CreateResult{}, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	// the stored pattern is the one actually scheduled, so reconciliation can
	// re-register it verbatim
	var sub models.Subscription
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		sub, err = s.repo.CreateSubscription(ctx, tx, auth.ID, city, auth.Email, s.defaultPattern)
		if err != nil {
			return err
		}
		return s.repo.LinkToUser(ctx, tx, auth.ID, sub.ID)
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("owner_id", auth.ID).
			Str("city", city).
			Msg("create transaction aborted")
		return CreateResult{}, fmt.Errorf("%w: %w", models.ErrStoreTransaction, err)
	}
	s.m.SubscriptionsCreated.Inc()

	if err := s.scheduleWithRetry(ctx, sub); err != nil {
		s.log.Error().Err(err).
			Str("subscription_id", sub.ID).
			Str("scheduler_key", sub.SchedulerKey).
			Str("operation", "schedule").
			Msg("subscription committed but recurring job not registered")
		s.m.TechnicalErrors.WithLabelValues("post_commit_schedule", "critical").Inc()
		return CreateResult{Subscription: sub, Scheduled: false, SchedulingErr: err}, nil
	}

	s.log.Info().
		Str("subscription_id", sub.ID).
		Str("scheduler_key", sub.SchedulerKey).
		Str("city", sub.City).
		Msg("subscription created and scheduled")
	return CreateResult{Subscription: sub, Scheduled: true}, nil
}

// Delete removes the subscription scoped to its owner and unlinks it in one
// transaction, then removes the recurring job. Unscheduling failure leaves an
// orphaned definition; it is logged and flagged, not fatal to the delete.
func (s *Service) Delete(
	ctx context.Context,
	auth models.AuthUser,
	subscriptionID string,
) (DeleteResult, error) {
	if auth.ID == "" || subscriptionID == "" {
		s.m.BusinessErrors.WithLabelValues("invalid_input", "warning").Inc()
		return DeleteResult{}, fmt.Errorf("%w: owner and subscription id are required", models.ErrValidation)
	}

	var sub models.Subscription
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		sub, err = s.repo.DeleteSubscription(ctx, tx, subscriptionID, auth.ID)
		if err != nil {
			return err
		}
		return s.repo.UnlinkFromUser(ctx, tx, auth.ID, sub.ID)
	})
	if errors.Is(err, models.ErrNotFound) {
		return DeleteResult{}, err
	}
	if err != nil {
		s.log.Error().Err(err).
			Str("subscription_id", subscriptionID).
			Msg("delete transaction aborted")
		return DeleteResult{}, fmt.Errorf("%w: %w", models.ErrStoreTransaction, err)
	}
	s.m.SubscriptionsDeleted.Inc()

	if err := s.unscheduleWithRetry(ctx, sub.SchedulerKey); err != nil {
		s.log.Error().Err(err).
			Str("subscription_id", sub.ID).
			Str("scheduler_key", sub.SchedulerKey).
			Str("operation", "unschedule").
			Msg("subscription deleted but recurring job still registered")
		s.m.TechnicalErrors.WithLabelValues("post_commit_unschedule", "critical").Inc()
		return DeleteResult{Subscription: sub, Unscheduled: false, UnschedulingErr: err}, nil
	}

	s.log.Info().
		Str("subscription_id", sub.ID).
		Str("scheduler_key", sub.SchedulerKey).
		Msg("subscription deleted and unscheduled")
	return DeleteResult{Subscription: sub, Unscheduled: true}, nil
}

// Reconcile restores the row-iff-scheduler invariant after partial failures:
// every subscription gets a definition, definitions without a subscription go
// away. Meant to run out-of-band.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	subs, err := s.repo.ListAll(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %w", models.ErrStoreTransaction, err)
	}
	scheduled, err := s.sched.ListScheduled(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	known := make(map[string]struct{}, len(scheduled))
	for _, info := range scheduled {
		known[info.Key] = struct{}{}
	}

	var result ReconcileResult
	wanted := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		wanted[sub.SchedulerKey] = struct{}{}
		if _, ok := known[sub.SchedulerKey]; ok {
			continue
		}
		if _, err := s.sched.Schedule(ctx, sub.City, sub.RecipientEmail, sub.CronPattern, sub.SchedulerKey); err != nil {
			s.log.Error().Err(err).
				Str("scheduler_key", sub.SchedulerKey).
				Msg("reconcile: failed to restore scheduler")
			continue
		}
		result.Upserted++
	}

	for _, info := range scheduled {
		if _, ok := wanted[info.Key]; ok {
			continue
		}
		removed, err := s.sched.Unschedule(ctx, info.Key)
		if err != nil {
			s.log.Error().Err(err).
				Str("scheduler_key", info.Key).
				Msg("reconcile: failed to remove orphaned scheduler")
			continue
		}
		if removed {
			result.Removed++
		}
	}

	s.log.Info().
		Int("upserted", result.Upserted).
		Int("removed", result.Removed).
		Msg("reconciliation pass finished")
	return result, nil
}

// scheduleWithRetry retries only connectivity faults; a backend-side
// rejection is returned immediately since retrying cannot fix it.
func (s *Service) scheduleWithRetry(ctx context.Context, sub models.Subscription) error {
	backoff := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.sched.Schedule(ctx, sub.City, sub.RecipientEmail, sub.CronPattern, sub.SchedulerKey)
		if errors.Is(err, models.ErrBackendUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Service) unscheduleWithRetry(ctx context.Context, schedulerKey string) error {
	backoff := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.sched.Unschedule(ctx, schedulerKey)
		if errors.Is(err, models.ErrBackendUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
