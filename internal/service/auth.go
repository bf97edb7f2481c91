package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/pkg/redact"
	"github.com/pribylovaa/signal-auth/internal/storage"
	"github.com/pribylovaa/signal-auth/internal/tokens"
	"github.com/pribylovaa/signal-auth/internal/validate"
)

// RegisterInput — данные для регистрации.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput — учётные данные для входа; Login — username или e-mail.
type LoginInput struct {
	Login    string
	Password string
}

// Register регистрирует нового пользователя.
// При включённом подтверждении e-mail пользователь создаётся в статусе PENDING
// и в той же транзакции получает токен EMAIL_VERIFICATION.
func (s *Service) Register(ctx context.Context, in RegisterInput, clientIP, userAgent string) (*models.User, error) {
	const op = "service.auth.Register"

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	form := validate.Registration{
		Username:  in.Username,
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}
	if err := form.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, validationErr(err))
	}

	taken, err := s.storage.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
	}

	taken, err = s.storage.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := &models.User{
		ID:            uuid.New(),
		Username:      in.Username,
		Email:         in.Email,
		PasswordHash:  hash,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Role:          models.RoleUser,
		Status:        models.StatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s.cfg.RequireEmailVerification {
		user.Status = models.StatusPending
		user.EmailVerified = false
	}

	var notice *models.Notice
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		if err := s.storage.SaveUser(ctx, user); err != nil {
			// Параллельная регистрация могла занять имя после проверки выше.
			switch {
			case errors.Is(err, storage.ErrUsernameExists):
				return ErrUsernameTaken
			case errors.Is(err, storage.ErrEmailExists):
				return ErrEmailTaken
			}

			return err
		}

		if !s.cfg.RequireEmailVerification {
			return nil
		}

		n, err := s.createNotice(ctx, user, models.PurposeEmailVerification, s.cfg.VerificationTTL)
		if err != nil {
			return err
		}
		notice = n

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.deliver(ctx, notice)

	log.From(ctx).Info("user_registered",
		slog.String("user_id", user.ID.String()),
		slog.String("username", user.Username),
		slog.String("email", redact.Email(user.Email)),
		slog.String("client_ip", clientIP),
		slog.String("user_agent", userAgent),
	)

	return user, nil
}

// Login выполняет вход по username или e-mail и паролю.
// Проверка пароля и статуса, выпуск токенов и отметка online выполняются
// в одной транзакции над заблокированной строкой пользователя, поэтому
// параллельный сброс пароля или блокировка не теряются.
func (s *Service) Login(ctx context.Context, in LoginInput, clientIP, userAgent string) (*models.AuthResult, error) {
	const op = "service.auth.Login"

	in.Login = strings.TrimSpace(in.Login)
	if err := (validate.Credentials{Login: in.Login, Password: in.Password}).Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, validationErr(err))
	}

	key := strings.ToLower(in.Login)
	if s.limiter != nil {
		blocked, err := s.limiter.Blocked(ctx, key)
		if err != nil {
			log.From(ctx).Warn("login_limiter_unavailable", slog.String("err", err.Error()))
		} else if blocked {
			return nil, fmt.Errorf("%s: %w", op, ErrTooManyAttempts)
		}
	}

	found, err := s.storage.UserByLogin(ctx, in.Login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Matches(in.Password, s.dummy())
			s.loginFailed(ctx, key, "unknown_login")

			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		user    *models.User
		access  string
		refresh *models.RefreshToken
		reason  string
	)
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.storage.UserByIDForUpdate(ctx, found.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				reason = "unknown_login"
				return ErrInvalidCredentials
			}

			return err
		}

		if !s.hasher.Matches(in.Password, u.PasswordHash) {
			reason = "bad_password"
			return ErrInvalidCredentials
		}

		if err := checkStatus(u); err != nil {
			reason = strings.ToLower(string(u.Status))
			return err
		}

		if s.cfg.LoginRequiresVerifiedEmail && !u.EmailVerified {
			return ErrEmailNotVerified
		}

		now := s.now()
		u.Online = true
		u.LastSeenAt = &now
		u.UpdatedAt = now

		access, err = s.accessToken(u)
		if err != nil {
			return err
		}

		refresh, err = s.refresh.Issue(ctx, u.ID, clientIP, userAgent)
		if err != nil {
			return err
		}

		if err := s.storage.SetOnline(ctx, u.ID, true, now); err != nil {
			return err
		}
		user = u

		return nil
	})
	if err != nil {
		if reason != "" {
			s.loginFailed(ctx, key, reason)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			log.From(ctx).Warn("login_limiter_reset_failed", slog.String("err", err.Error()))
		}
	}

	log.From(ctx).Info("login_succeeded",
		slog.String("user_id", user.ID.String()),
		slog.String("client_ip", clientIP),
	)

	return s.authResult(user, access, refresh.Token), nil
}

// Refresh продлевает refresh-токен и выпускает новый access-токен.
// Значение refresh-токена не меняется. Истёкший токен удаляется,
// даже если вызов завершается ошибкой.
func (s *Service) Refresh(ctx context.Context, refreshToken, clientIP string) (*models.AuthResult, error) {
	const op = "service.auth.Refresh"

	refreshToken = strings.TrimSpace(refreshToken)
	if err := validate.Required("refreshToken", refreshToken); err != nil {
		return nil, fmt.Errorf("%s: %w", op, validationErr(err))
	}

	var (
		user    *models.User
		expired error
	)
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		rt, err := s.refresh.Renew(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, tokens.ErrExpired) {
				// Удаление истёкшей записи должно зафиксироваться.
				expired = err
				return nil
			}

			return err
		}

		u, err := s.storage.UserByID(ctx, rt.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidToken
			}

			return err
		}

		// Заблокированный пользователь: продление откатывается.
		if err := checkStatus(u); err != nil {
			return err
		}
		user = u

		return nil
	})
	if err == nil {
		err = expired
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, tokenErr(err))
	}

	access, err := s.accessToken(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("token_refreshed",
		slog.String("user_id", user.ID.String()),
		slog.String("client_ip", clientIP),
	)

	return s.authResult(user, access, refreshToken), nil
}

// Logout отзывает все refresh-токены владельца access-токена
// и отмечает пользователя offline.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	const op = "service.auth.Logout"

	claims, err := s.issuer.Validate(accessToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, tokenErr(err))
	}

	var userID uuid.UUID
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		user, err := s.storage.UserByUsername(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidToken
			}

			return err
		}
		userID = user.ID

		if err := s.storage.LockUser(ctx, user.ID); err != nil {
			return err
		}

		if err := s.refresh.RevokeAll(ctx, user.ID); err != nil {
			return err
		}

		return s.storage.SetOnline(ctx, user.ID, false, s.now())
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout", slog.String("user_id", userID.String()))

	return nil
}

// ResolvePrincipal находит пользователя по subject access-токена.
// Неизвестный, заблокированный или удалённый пользователь — ErrAuthentication.
func (s *Service) ResolvePrincipal(ctx context.Context, username string) (*models.Principal, error) {
	const op = "service.auth.ResolvePrincipal"

	user, err := s.storage.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkStatus(user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user.Principal(), nil
}

// UsernameAvailable сообщает, свободен ли username.
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	const op = "service.auth.UsernameAvailable"

	username = strings.TrimSpace(username)
	if err := validate.Username(username); err != nil {
		return false, fmt.Errorf("%s: %w", op, validationErr(err))
	}

	taken, err := s.storage.ExistsByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return !taken, nil
}

// EmailAvailable сообщает, свободен ли e-mail.
func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	const op = "service.auth.EmailAvailable"

	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Email(email); err != nil {
		return false, fmt.Errorf("%s: %w", op, validationErr(err))
	}

	taken, err := s.storage.ExistsByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return !taken, nil
}

// accessToken выпускает access-токен и сверяет его subject с пользователем.
func (s *Service) accessToken(user *models.User) (string, error) {
	token, _, err := s.issuer.Issue(user.Principal())
	if err != nil {
		return "", err
	}

	if !s.issuer.ValidateForPrincipal(token, user.Username) {
		return "", fmt.Errorf("issued token does not match user %s", user.ID)
	}

	return token, nil
}

func (s *Service) authResult(user *models.User, access, refresh string) *models.AuthResult {
	return &models.AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    models.TokenTypeBearer,
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
		User:         user.Principal(),
	}
}

func (s *Service) loginFailed(ctx context.Context, key, reason string) {
	log.From(ctx).Info("login_failed", slog.String("reason", reason))

	if s.limiter == nil {
		return
	}

	if err := s.limiter.Fail(ctx, key); err != nil {
		log.From(ctx).Warn("login_limiter_unavailable", slog.String("err", err.Error()))
	}
}

// checkStatus запрещает вход заблокированным и удалённым пользователям.
func checkStatus(user *models.User) error {
	switch user.Status {
	case models.StatusBanned:
		return ErrAccountBanned
	case models.StatusDeleted:
		return ErrAccountDeleted
	}

	return nil
}
