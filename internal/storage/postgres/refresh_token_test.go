package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

func newRefresh(userID uuid.UUID, hash string, expiresAt time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		ClientIP:  "10.0.0.1",
		UserAgent: "test-agent",
		CreatedAt: time.Now().UTC(),
	}
}

func countRefresh(t *testing.T, st *Storage, userID uuid.UUID) int {
	t.Helper()

	var n int
	require.NoError(t, st.db.QueryRow(context.Background(),
		`SELECT count(*) FROM refresh_tokens WHERE user_id = $1`, userID).Scan(&n))

	return n
}

// TestIntegration_SaveRefreshToken_HashCollision_And_UnknownUser — совпадение хэша
// даёт ErrAlreadyExists, неизвестный пользователь — ErrNotFound.
func TestIntegration_SaveRefreshToken_HashCollision_And_UnknownUser(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "alice")
	exp := time.Now().UTC().Add(time.Hour)

	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "h1", exp)))

	err := st.SaveRefreshToken(ctx, newRefresh(u.ID, "h1", exp))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	err = st.SaveRefreshToken(ctx, newRefresh(uuid.New(), "h2", exp))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_HashCollision_DoesNotAbortTx — коллизия внутри транзакции
// не мешает следующей вставке.
func TestIntegration_HashCollision_DoesNotAbortTx(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "alice")
	exp := time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "taken", exp)))

	err := st.WithTx(ctx, func(ctx context.Context) error {
		err := st.SaveRefreshToken(ctx, newRefresh(u.ID, "taken", exp))
		require.ErrorIs(t, err, storage.ErrAlreadyExists)
		return st.SaveRefreshToken(ctx, newRefresh(u.ID, "fresh", exp))
	})
	require.NoError(t, err)
	require.Equal(t, 2, countRefresh(t, st, u.ID))
}

// TestIntegration_ExtendRefreshToken — продление живого токена и отказ для истёкшего.
func TestIntegration_ExtendRefreshToken(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "alice")
	now := time.Now().UTC()

	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "live", now.Add(time.Minute))))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "dead", now.Add(-time.Minute))))

	newExp := now.Add(24 * time.Hour)
	got, err := st.ExtendRefreshToken(ctx, "live", now, newExp)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)
	require.Equal(t, "10.0.0.1", got.ClientIP)
	require.WithinDuration(t, newExp, got.ExpiresAt, time.Second)

	_, err = st.ExtendRefreshToken(ctx, "dead", now, newExp)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.ExtendRefreshToken(ctx, "absent", now, newExp)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_DeleteExpiredRefreshToken — удаляет только истёкший токен.
func TestIntegration_DeleteExpiredRefreshToken(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := seedUser(t, st, "alice")
	now := time.Now().UTC()

	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "live", now.Add(time.Minute))))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(u.ID, "dead", now.Add(-time.Minute))))

	_, err := st.DeleteExpiredRefreshToken(ctx, "live", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := st.DeleteExpiredRefreshToken(ctx, "dead", now)
	require.NoError(t, err)
	require.Equal(t, "dead", got.TokenHash)

	_, err = st.DeleteExpiredRefreshToken(ctx, "dead", now)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Equal(t, 1, countRefresh(t, st, u.ID))
}

// TestIntegration_DeleteRefreshTokensByUser_And_Sweep — отзыв всех токенов
// пользователя и периодическая очистка.
func TestIntegration_DeleteRefreshTokensByUser_And_Sweep(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	a := seedUser(t, st, "alice")
	b := seedUser(t, st, "bob")
	now := time.Now().UTC()

	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(a.ID, "a1", now.Add(time.Hour))))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(a.ID, "a2", now.Add(time.Hour))))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(b.ID, "b1", now.Add(-time.Hour))))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(b.ID, "b2", now.Add(time.Hour))))

	n, err := st.DeleteRefreshTokensByUser(ctx, a.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 0, countRefresh(t, st, a.ID))

	n, err = st.DeleteExpiredRefreshTokens(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 1, countRefresh(t, st, b.ID))
}
