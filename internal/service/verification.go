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

// VerifyEmail потребляет токен EMAIL_VERIFICATION, отмечает e-mail
// подтверждённым и переводит пользователя из PENDING в ACTIVE.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	const op = "service.verification.VerifyEmail"

	token = strings.TrimSpace(token)
	if err := validate.Required("token", token); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}

	var userID uuid.UUID
	err := s.consume(ctx, token, models.PurposeEmailVerification, func(ctx context.Context, user *models.User) error {
		userID = user.ID

		return s.storage.MarkEmailVerified(ctx, user.ID, s.now())
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, tokenErr(err))
	}

	log.From(ctx).Info("email_verified", slog.String("user_id", userID.String()))

	return nil
}

// ResendVerification перевыпускает токен EMAIL_VERIFICATION.
// Для неизвестного или уже подтверждённого e-mail ничего не делает
// и возвращает nil.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	const op = "service.verification.ResendVerification"

	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Email(email); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Info("resend_verification_unknown_email", slog.String("email", redact.Email(email)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.EmailVerified || !user.CanLogin() {
		return nil
	}

	notice, err := s.createNotice(ctx, user, models.PurposeEmailVerification, s.cfg.VerificationTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.deliver(ctx, notice)

	return nil
}

// ForgotPassword выпускает токен PASSWORD_RESET с коротким TTL.
// Результат не зависит от того, зарегистрирован ли e-mail.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	const op = "service.verification.ForgotPassword"

	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Email(email); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Info("password_reset_unknown_email", slog.String("email", redact.Email(email)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !user.CanLogin() {
		return nil
	}

	notice, err := s.createNotice(ctx, user, models.PurposePasswordReset, s.cfg.PasswordResetTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.deliver(ctx, notice)

	return nil
}

// ResetPassword потребляет токен PASSWORD_RESET, меняет пароль
// и отзывает все refresh-токены пользователя.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "service.verification.ResetPassword"

	token = strings.TrimSpace(token)
	if err := validate.Required("token", token); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}
	if err := validate.Password("newPassword", newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var userID uuid.UUID
	err = s.consume(ctx, token, models.PurposePasswordReset, func(ctx context.Context, user *models.User) error {
		userID = user.ID

		if err := s.storage.SetPasswordHash(ctx, user.ID, hash, s.now()); err != nil {
			return err
		}

		return s.refresh.RevokeAll(ctx, user.ID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, tokenErr(err))
	}

	log.From(ctx).Info("password_reset", slog.String("user_id", userID.String()))

	return nil
}

// ChangePassword меняет пароль после проверки текущего.
// Сессии отзываются только при RevokeSessionsOnPasswordChange.
func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	const op = "service.verification.ChangePassword"

	if err := validate.Required("currentPassword", currentPassword); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}
	if err := validate.Password("newPassword", newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, validationErr(err))
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var userID uuid.UUID
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		found, err := s.storage.UserByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidCredentials
			}

			return err
		}

		user, err := s.storage.UserByIDForUpdate(ctx, found.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidCredentials
			}

			return err
		}
		userID = user.ID

		if !s.hasher.Matches(currentPassword, user.PasswordHash) {
			return ErrInvalidCredentials
		}

		if err := s.storage.SetPasswordHash(ctx, user.ID, hash, s.now()); err != nil {
			return err
		}

		if !s.cfg.RevokeSessionsOnPasswordChange {
			return nil
		}

		return s.refresh.RevokeAll(ctx, user.ID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_changed", slog.String("user_id", userID.String()))

	return nil
}

// consume в одной транзакции потребляет одноразовый токен и применяет apply
// к его владельцу. Истёкший токен удаляется с фиксацией и даёт ErrExpired.
// Токен другого назначения не потребляется и даёт ErrNotFound.
func (s *Service) consume(ctx context.Context, token string, purpose models.TokenPurpose, apply func(ctx context.Context, user *models.User) error) error {
	var expired error
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.verify.Consume(ctx, token)
		if err != nil {
			if errors.Is(err, tokens.ErrExpired) {
				expired = err
				return nil
			}

			return err
		}

		if rec.Purpose != purpose {
			// Откат транзакции возвращает запись на место.
			return tokens.ErrNotFound
		}

		user, err := s.storage.UserByIDForUpdate(ctx, rec.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return tokens.ErrNotFound
			}

			return err
		}

		return apply(ctx, user)
	})
	if err != nil {
		return err
	}

	return expired
}
