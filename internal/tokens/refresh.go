package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

// RefreshBackend — часть хранилища, нужная RefreshStore.
type RefreshBackend interface {
	storage.Transactor
	storage.RefreshTokenStorage
	LockUser(ctx context.Context, id uuid.UUID) error
}

// RefreshStore управляет refresh-токенами по политике одной сессии:
// выпуск удаляет все прежние записи пользователя.
type RefreshStore struct {
	st  RefreshBackend
	ttl time.Duration
	now func() time.Time
}

// NewRefreshStore создаёт хранилище refresh-токенов с заданным TTL.
func NewRefreshStore(st RefreshBackend, ttl time.Duration) *RefreshStore {
	return &RefreshStore{st: st, ttl: ttl, now: utcNow}
}

// TTL — срок действия записи после выпуска или продления.
func (s *RefreshStore) TTL() time.Duration { return s.ttl }

// Issue удаляет все refresh-токены пользователя и создаёт новый.
// Блокировка строки пользователя упорядочивает параллельные входы:
// выживает запись последнего зафиксированного входа.
// Token в результате содержит значение для клиента.
func (s *RefreshStore) Issue(ctx context.Context, userID uuid.UUID, clientIP, userAgent string) (*models.RefreshToken, error) {
	const op = "tokens.RefreshStore.Issue"

	var issued *models.RefreshToken
	err := s.st.WithTx(ctx, func(ctx context.Context) error {
		if err := s.st.LockUser(ctx, userID); err != nil {
			return err
		}

		if _, err := s.st.DeleteRefreshTokensByUser(ctx, userID); err != nil {
			return err
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			plain, hash, err := newSecret()
			if err != nil {
				return err
			}

			now := s.now()
			token := &models.RefreshToken{
				ID:        uuid.New(),
				TokenHash: hash,
				UserID:    userID,
				ExpiresAt: now.Add(s.ttl),
				ClientIP:  clientIP,
				UserAgent: userAgent,
				CreatedAt: now,
			}

			if err := s.st.SaveRefreshToken(ctx, token); err != nil {
				if errors.Is(err, storage.ErrAlreadyExists) {
					// Редкая коллизия — пробуем сгенерировать заново.
					continue
				}

				return err
			}

			token.Token = plain
			issued = token

			return nil
		}

		log.From(ctx).Error("refresh_collision_exceeded", slog.String("op", op))

		return ErrCollision
	})

	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return issued, nil
}

// Renew продлевает запись на TTL, не меняя значение токена.
// Нет записи — ErrNotFound; запись истекла — удаляется, ErrExpired.
func (s *RefreshStore) Renew(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "tokens.RefreshStore.Renew"

	hash := Hash(plain)
	now := s.now()

	token, err := s.st.ExtendRefreshToken(ctx, hash, now, now.Add(s.ttl))
	if err == nil {
		token.Token = plain
		return token, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Продлить не удалось: записи нет либо она истекла.
	if _, err := s.st.DeleteExpiredRefreshToken(ctx, hash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, ErrExpired)
}

// RevokeAll удаляет все refresh-токены пользователя.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	const op = "tokens.RefreshStore.RevokeAll"

	if _, err := s.st.DeleteRefreshTokensByUser(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PurgeExpired удаляет все истёкшие записи и возвращает их число.
func (s *RefreshStore) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "tokens.RefreshStore.PurgeExpired"

	n, err := s.st.DeleteExpiredRefreshTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
