package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
	"github.com/pribylovaa/signal-auth/internal/tokens"
)

func validInput() RegisterInput {
	return RegisterInput{
		Username:  "alice",
		Email:     "Alice@X.com",
		Password:  "Passw0rd1",
		FirstName: "Alice",
	}
}

func TestRegister_OK_PendingWithVerificationToken(t *testing.T) {
	t.Parallel()

	svc, st, n := newSvc(t)

	var saved *models.User
	var tok *models.VerificationToken
	st.EXPECT().ExistsByUsername(gomock.Any(), "alice").Return(false, nil)
	st.EXPECT().ExistsByEmail(gomock.Any(), "alice@x.com").Return(false, nil)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			saved = u
			return nil
		})
	st.EXPECT().SaveVerificationToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, vt *models.VerificationToken) error {
			tok = vt
			return nil
		})

	u, err := svc.Register(context.Background(), validInput(), "10.0.0.1", "ua")
	require.NoError(t, err)
	require.Equal(t, saved, u)
	require.Equal(t, "alice@x.com", u.Email)
	require.Equal(t, models.StatusPending, u.Status)
	require.False(t, u.EmailVerified)
	require.True(t, svc.hasher.Matches("Passw0rd1", u.PasswordHash))

	require.Equal(t, u.ID, tok.UserID)
	require.Equal(t, models.PurposeEmailVerification, tok.Purpose)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), tok.ExpiresAt, 5*time.Second)

	sent := n.sent()
	require.Len(t, sent, 1)
	require.Equal(t, tokens.Hash(sent[0].Token), tok.TokenHash)
	require.Equal(t, "alice@x.com", sent[0].Email)
}

func TestRegister_WithoutVerification_Active(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.RequireEmailVerification = false
	svc, st, n := newSvcWith(t, cfg)

	st.EXPECT().ExistsByUsername(gomock.Any(), gomock.Any()).Return(false, nil)
	st.EXPECT().ExistsByEmail(gomock.Any(), gomock.Any()).Return(false, nil)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)

	u, err := svc.Register(context.Background(), validInput(), "", "")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, u.Status)
	require.True(t, u.EmailVerified)
	require.Empty(t, n.sent())
}

func TestRegister_ValidationFailure_NoStorageCalls(t *testing.T) {
	t.Parallel()

	svc, _, _ := newSvc(t)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "a", Email: "bad", Password: "weak"}, "", "")
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "username")
	require.Contains(t, verr.Fields, "email")
	require.Contains(t, verr.Fields, "password")
}

func TestRegister_Conflicts(t *testing.T) {
	t.Parallel()

	t.Run("username_on_lookup", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		st.EXPECT().ExistsByUsername(gomock.Any(), "alice").Return(true, nil)

		_, err := svc.Register(context.Background(), validInput(), "", "")
		require.ErrorIs(t, err, ErrUsernameTaken)
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("email_on_lookup", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		st.EXPECT().ExistsByUsername(gomock.Any(), "alice").Return(false, nil)
		st.EXPECT().ExistsByEmail(gomock.Any(), "alice@x.com").Return(true, nil)

		_, err := svc.Register(context.Background(), validInput(), "", "")
		require.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("race_on_insert", func(t *testing.T) {
		svc, st, n := newSvc(t)
		st.EXPECT().ExistsByUsername(gomock.Any(), gomock.Any()).Return(false, nil)
		st.EXPECT().ExistsByEmail(gomock.Any(), gomock.Any()).Return(false, nil)
		st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrEmailExists)

		_, err := svc.Register(context.Background(), validInput(), "", "")
		require.ErrorIs(t, err, ErrEmailTaken)
		require.Empty(t, n.sent())
	})

	t.Run("storage_error", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		boom := errors.New("db down")
		st.EXPECT().ExistsByUsername(gomock.Any(), gomock.Any()).Return(false, boom)

		_, err := svc.Register(context.Background(), validInput(), "", "")
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, ErrConflict)
	})
}

func TestRegister_NotifierFailure_DoesNotFail(t *testing.T) {
	t.Parallel()

	svc, st, n := newSvc(t)
	n.err = errors.New("broker down")

	st.EXPECT().ExistsByUsername(gomock.Any(), gomock.Any()).Return(false, nil)
	st.EXPECT().ExistsByEmail(gomock.Any(), gomock.Any()).Return(false, nil)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveVerificationToken(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.Register(context.Background(), validInput(), "", "")
	require.NoError(t, err)
	require.Len(t, n.sent(), 1)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	lim := &fakeLimiter{}
	svc.SetLimiter(lim)
	user := activeUser(t, "alice", "Passw0rd1")

	var seenAt time.Time
	st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(user, nil)
	gomock.InOrder(
		st.EXPECT().UserByIDForUpdate(gomock.Any(), user.ID).Return(user, nil),
		st.EXPECT().LockUser(gomock.Any(), user.ID).Return(nil),
		st.EXPECT().DeleteRefreshTokensByUser(gomock.Any(), user.ID).Return(int64(1), nil),
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil),
		st.EXPECT().SetOnline(gomock.Any(), user.ID, true, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ uuid.UUID, _ bool, at time.Time) error {
				seenAt = at
				return nil
			}),
	)

	res, err := svc.Login(context.Background(), LoginInput{Login: " alice ", Password: "Passw0rd1"}, "10.0.0.1", "ua")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, models.TokenTypeBearer, res.TokenType)
	require.EqualValues(t, (15 * time.Minute).Seconds(), res.ExpiresIn)
	require.Equal(t, user.ID, res.User.ID)
	require.True(t, res.User.Online)

	claims, err := svc.Issuer().Validate(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)

	require.False(t, seenAt.IsZero())
	require.Equal(t, 1, lim.resets)
	require.Zero(t, lim.fails)
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()

	t.Run("unknown_user", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		lim := &fakeLimiter{}
		svc.SetLimiter(lim)
		st.EXPECT().UserByLogin(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)

		_, err := svc.Login(context.Background(), LoginInput{Login: "ghost", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.ErrorIs(t, err, ErrAuthentication)
		require.Equal(t, 1, lim.fails)
	})

	t.Run("bad_password", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		lim := &fakeLimiter{}
		svc.SetLimiter(lim)
		u := activeUser(t, "alice", "Passw0rd1")
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(u, nil)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Wrong0ne1"}, "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Equal(t, 1, lim.fails)
	})

	t.Run("banned", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		u := activeUser(t, "alice", "Passw0rd1")
		u.Status = models.StatusBanned
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(u, nil)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrAccountBanned)
		require.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("deleted", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		u := activeUser(t, "alice", "Passw0rd1")
		u.Status = models.StatusDeleted
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(u, nil)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrAccountDeleted)
	})

	t.Run("unverified_when_required", func(t *testing.T) {
		cfg := testCfg()
		cfg.LoginRequiresVerifiedEmail = true
		svc, st, _ := newSvcWith(t, cfg)
		u := activeUser(t, "alice", "Passw0rd1")
		u.Status = models.StatusPending
		u.EmailVerified = false
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(u, nil)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("blocked_by_limiter", func(t *testing.T) {
		svc, _, _ := newSvc(t)
		svc.SetLimiter(&fakeLimiter{blocked: true})

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrTooManyAttempts)
	})

	t.Run("limiter_unavailable_fails_open", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		svc.SetLimiter(&fakeLimiter{err: errors.New("redis down")})
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(nil, storage.ErrNotFound)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("empty_fields", func(t *testing.T) {
		svc, _, _ := newSvc(t)

		_, err := svc.Login(context.Background(), LoginInput{}, "", "")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("tx_failure_rolls_back", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		u := activeUser(t, "alice", "Passw0rd1")
		boom := errors.New("db down")
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(u, nil)
		st.EXPECT().LockUser(gomock.Any(), u.ID).Return(nil)
		st.EXPECT().DeleteRefreshTokensByUser(gomock.Any(), u.ID).Return(int64(0), nil)
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
		st.EXPECT().SetOnline(gomock.Any(), u.ID, true, gomock.Any()).Return(boom)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, boom)
	})

	t.Run("user_vanished_before_lock", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		u := activeUser(t, "alice", "Passw0rd1")
		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(u, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), u.ID).Return(nil, storage.ErrNotFound)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

// Сброс пароля и блокировка, зафиксированные между поиском пользователя
// и блокировкой строки, решают исход входа: проверяется заблокированная
// строка, токены не выпускаются, пароль и статус не перезаписываются.
func TestLogin_ConcurrentResetAndBan_Wins(t *testing.T) {
	t.Parallel()

	t.Run("password_reset", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		lim := &fakeLimiter{}
		svc.SetLimiter(lim)
		stale := activeUser(t, "alice", "Passw0rd1")
		fresh := *stale
		fresh.PasswordHash = mustHashPW(t, "N3wPassword")

		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(stale, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), stale.ID).Return(&fresh, nil)
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Times(0)
		st.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		st.EXPECT().SetPasswordHash(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Equal(t, 1, lim.fails)
		require.Zero(t, lim.resets)
	})

	t.Run("banned", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		stale := activeUser(t, "alice", "Passw0rd1")
		fresh := *stale
		fresh.Status = models.StatusBanned

		st.EXPECT().UserByLogin(gomock.Any(), "alice").Return(stale, nil)
		st.EXPECT().UserByIDForUpdate(gomock.Any(), stale.ID).Return(&fresh, nil)
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Times(0)
		st.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Login(context.Background(), LoginInput{Login: "alice", Password: "Passw0rd1"}, "", "")
		require.ErrorIs(t, err, ErrAccountBanned)
	})
}

func TestRefresh_OK_SameRefreshValue(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	user := activeUser(t, "alice", "Passw0rd1")
	const plain = "refresh-plain"

	st.EXPECT().ExtendRefreshToken(gomock.Any(), tokens.Hash(plain), gomock.Any(), gomock.Any()).
		Return(&models.RefreshToken{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	res, err := svc.Refresh(context.Background(), plain, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, plain, res.RefreshToken)
	require.True(t, svc.Issuer().ValidateForPrincipal(res.AccessToken, "alice"))
}

func TestRefresh_Failures(t *testing.T) {
	t.Parallel()

	t.Run("expired", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		st.EXPECT().ExtendRefreshToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
		st.EXPECT().DeleteExpiredRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.RefreshToken{}, nil)

		_, err := svc.Refresh(context.Background(), "old", "")
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("not_found", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		st.EXPECT().ExtendRefreshToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
		st.EXPECT().DeleteExpiredRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)

		_, err := svc.Refresh(context.Background(), "absent", "")
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("banned_owner", func(t *testing.T) {
		svc, st, _ := newSvc(t)
		u := activeUser(t, "alice", "Passw0rd1")
		u.Status = models.StatusBanned
		st.EXPECT().ExtendRefreshToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.RefreshToken{UserID: u.ID}, nil)
		st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

		_, err := svc.Refresh(context.Background(), "x", "")
		require.ErrorIs(t, err, ErrAccountBanned)
	})

	t.Run("blank", func(t *testing.T) {
		svc, _, _ := newSvc(t)

		_, err := svc.Refresh(context.Background(), "  ", "")
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestLogout_RevokesAndMarksOffline(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	user := activeUser(t, "alice", "Passw0rd1")
	user.Online = true

	access, _, err := svc.Issuer().Issue(user.Principal())
	require.NoError(t, err)

	gomock.InOrder(
		st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil),
		st.EXPECT().LockUser(gomock.Any(), user.ID).Return(nil),
		st.EXPECT().DeleteRefreshTokensByUser(gomock.Any(), user.ID).Return(int64(1), nil),
		st.EXPECT().SetOnline(gomock.Any(), user.ID, false, gomock.Any()).Return(nil),
	)

	require.NoError(t, svc.Logout(context.Background(), access))
}

func TestLogout_InvalidToken(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	require.ErrorIs(t, svc.Logout(context.Background(), "garbage"), ErrInvalidToken)

	// Валидный токен, но владелец исчез.
	access, _, err := svc.Issuer().Issue(&models.Principal{ID: uuid.New(), Username: "ghost"})
	require.NoError(t, err)
	st.EXPECT().UserByUsername(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)

	require.ErrorIs(t, svc.Logout(context.Background(), access), ErrInvalidToken)
}

func TestResolvePrincipal(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)
	user := activeUser(t, "alice", "Passw0rd1")
	user.FirstName, user.LastName = "Alice", "Smith"

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	p, err := svc.ResolvePrincipal(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice Smith", p.DisplayName)
	require.True(t, p.HasRole("ROLE_USER"))

	st.EXPECT().UserByUsername(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)
	_, err = svc.ResolvePrincipal(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrInvalidToken)

	deleted := activeUser(t, "bob", "Passw0rd1")
	deleted.Status = models.StatusDeleted
	st.EXPECT().UserByUsername(gomock.Any(), "bob").Return(deleted, nil)
	_, err = svc.ResolvePrincipal(context.Background(), "bob")
	require.ErrorIs(t, err, ErrAccountDeleted)
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	svc, st, _ := newSvc(t)

	st.EXPECT().ExistsByUsername(gomock.Any(), "alice").Return(true, nil)
	ok, err := svc.UsernameAvailable(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, ok)

	st.EXPECT().ExistsByEmail(gomock.Any(), "new@x.com").Return(false, nil)
	ok, err = svc.EmailAvailable(context.Background(), " New@X.com ")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.UsernameAvailable(context.Background(), "a")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.EmailAvailable(context.Background(), "nope")
	require.ErrorIs(t, err, ErrValidation)
}
