package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/signal-auth/internal/config"
	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/mocks"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:                "unit-secret-unit-secret-unit-secret!",
		SigningAlgorithm:         "HS512",
		Issuer:                   "signal-auth",
		AccessTokenTTL:           15 * time.Minute,
		RefreshTokenTTL:          7 * 24 * time.Hour,
		VerificationTTL:          24 * time.Hour,
		PasswordResetTTL:         30 * time.Minute,
		BcryptCost:               bcrypt.MinCost,
		RequireEmailVerification: true,
	}
}

// captureNotifier запоминает отправленные уведомления.
type captureNotifier struct {
	mu      sync.Mutex
	notices []models.Notice
	err     error
}

func (n *captureNotifier) Notify(_ context.Context, notice models.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *captureNotifier) sent() []models.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notice(nil), n.notices...)
}

// fakeLimiter считает вызовы ограничителя.
type fakeLimiter struct {
	mu      sync.Mutex
	blocked bool
	err     error
	fails   int
	resets  int
}

func (l *fakeLimiter) Blocked(context.Context, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked, l.err
}

func (l *fakeLimiter) Fail(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails++
	return nil
}

func (l *fakeLimiter) Reset(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	return nil
}

func newSvcWith(t *testing.T, cfg config.AuthConfig) (*Service, *mocks.MockStorage, *captureNotifier) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)

	svc, err := New(st, cfg)
	require.NoError(t, err)

	n := &captureNotifier{}
	svc.SetNotifier(n)

	// WithTx мока выполняет fn в том же контексте.
	st.EXPECT().WithTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}).AnyTimes()

	return svc, st, n
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *captureNotifier) {
	t.Helper()
	return newSvcWith(t, testCfg())
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := NewBcryptHasher(bcrypt.MinCost).Hash(pw)
	require.NoError(t, err)
	return h
}

func activeUser(t *testing.T, username, pw string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	return &models.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         username + "@x.com",
		PasswordHash:  mustHashPW(t, pw),
		Role:          models.RoleUser,
		Status:        models.StatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestNew_InvalidIssuerConfig(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.SigningAlgorithm = "RS256"

	_, err := New(nil, cfg)
	require.Error(t, err)
}

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("Passw0rd1")
	require.NoError(t, err)
	require.True(t, h.Matches("Passw0rd1", hash))
	require.False(t, h.Matches("Passw0rd2", hash))
	require.False(t, h.Matches("Passw0rd1", "not-a-hash"))

	// Стоимость вне диапазона заменяется на DefaultCost.
	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(100).cost)
}

func TestValidationError_Message(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Fields: map[string]string{"username": "bad", "email": "worse"}}
	require.Equal(t, "validation failed: email: worse; username: bad", err.Error())
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(validationErr(errors.New("plain")), &verr))
	require.Equal(t, "plain", verr.Fields["request"])
	require.NoError(t, validationErr(nil))
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().DeleteExpiredRefreshTokens(gomock.Any(), gomock.Any()).Return(int64(2), nil)
	st.EXPECT().DeleteExpiredVerificationTokens(gomock.Any(), gomock.Any()).Return(int64(5), nil)

	r, v, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, r)
	require.EqualValues(t, 5, v)

	boom := errors.New("db down")
	st.EXPECT().DeleteExpiredRefreshTokens(gomock.Any(), gomock.Any()).Return(int64(0), boom)
	_, _, err = svc.PurgeExpired(context.Background())
	require.ErrorIs(t, err, boom)
}
