package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
	"github.com/oleksandr-h/weather-agent/internal/models"
	sqliterepo "github.com/oleksandr-h/weather-agent/internal/repository/sqlite"
	"github.com/oleksandr-h/weather-agent/internal/storage"
)

func newRepo(t *testing.T) *sqliterepo.SubscriptionRepository {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "repo_test.db"))
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite", "../../../migrations"))
	t.Cleanup(func() { _ = db.Close() })

	return sqliterepo.NewSubscriptionRepository(db, zerolog.Nop(), metrics.New("repo_test"))
}

func createLinked(
	t *testing.T,
	repo *sqliterepo.SubscriptionRepository,
	owner models.User,
	city string,
) models.Subscription {
	t.Helper()

	var sub models.Subscription
	err := repo.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		sub, err = repo.CreateSubscription(
			context.Background(), tx, owner.ID, city, owner.Email, "0 17 * * *")
		if err != nil {
			return err
		}
		return repo.LinkToUser(context.Background(), tx, owner.ID, sub.ID)
	})
	require.NoError(t, err)
	return sub
}

func TestCreateSubscription_DerivesSchedulerKey(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "a@x.com")
	require.NoError(t, err)

	sub := createLinked(t, repo, user, "London")
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, models.SchedulerKeyFor(sub.ID), sub.SchedulerKey)

	got, err := repo.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "London", got.City)
	assert.Equal(t, "a@x.com", got.RecipientEmail)
	assert.Equal(t, user.ID, got.OwnerID)
}

func TestSubscriptionIDs_KeepsLinkOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "a@x.com")
	require.NoError(t, err)

	first := createLinked(t, repo, user, "London")
	second := createLinked(t, repo, user, "Kyiv")
	third := createLinked(t, repo, user, "Lviv")

	ids, err := repo.SubscriptionIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, ids)
}

func TestLinkToUser_RejectsDuplicate(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "a@x.com")
	require.NoError(t, err)
	sub := createLinked(t, repo, user, "London")

	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.LinkToUser(ctx, tx, user.ID, sub.ID)
	})
	assert.Error(t, err)

	ids, err := repo.SubscriptionIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestDeleteSubscription_ScopedToOwner(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	owner, err := repo.CreateUser(ctx, "a@x.com")
	require.NoError(t, err)
	other, err := repo.CreateUser(ctx, "b@x.com")
	require.NoError(t, err)
	sub := createLinked(t, repo, owner, "London")

	// someone else's id does not reach the row
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := repo.DeleteSubscription(ctx, tx, sub.ID, other.ID)
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := repo.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	// the owner does
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		deleted, err := repo.DeleteSubscription(ctx, tx, sub.ID, owner.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, sub.SchedulerKey, deleted.SchedulerKey)
		return repo.UnlinkFromUser(ctx, tx, owner.ID, sub.ID)
	})
	require.NoError(t, err)

	_, err = repo.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	ids, err := repo.SubscriptionIDs(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "a@x.com")
	require.NoError(t, err)

	var subID string
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		sub, err := repo.CreateSubscription(ctx, tx, user.ID, "London", user.Email, "0 17 * * *")
		if err != nil {
			return err
		}
		subID = sub.ID
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// nothing persisted
	_, err = repo.GetSubscription(ctx, subID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
