package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

// VerificationStore управляет одноразовыми токенами подтверждения e-mail
// и сброса пароля.
type VerificationStore struct {
	st  storage.VerificationTokenStorage
	now func() time.Time
}

// NewVerificationStore создаёт хранилище одноразовых токенов.
func NewVerificationStore(st storage.VerificationTokenStorage) *VerificationStore {
	return &VerificationStore{st: st, now: utcNow}
}

// Create заменяет токен пары (user, purpose) новым со сроком ttl.
// Token в результате содержит значение для отправки пользователю.
func (s *VerificationStore) Create(ctx context.Context, userID uuid.UUID, purpose models.TokenPurpose, ttl time.Duration) (*models.VerificationToken, error) {
	const op = "tokens.VerificationStore.Create"

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, hash, err := newSecret()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		now := s.now()
		token := &models.VerificationToken{
			ID:        uuid.New(),
			TokenHash: hash,
			UserID:    userID,
			Purpose:   purpose,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}

		if err := s.st.SaveVerificationToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}

			return nil, fmt.Errorf("%s: %w", op, err)
		}

		token.Token = plain

		return token, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrCollision)
}

// Consume атомарно удаляет токен и возвращает запись.
// Из параллельных вызовов с одним значением успех получает ровно один,
// остальные — ErrNotFound. Истёкший токен тоже удаляется, но даёт ErrExpired.
func (s *VerificationStore) Consume(ctx context.Context, plain string) (*models.VerificationToken, error) {
	const op = "tokens.VerificationStore.Consume"

	token, err := s.st.ConsumeVerificationToken(ctx, Hash(plain))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if token.Expired(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}

	token.Token = plain

	return token, nil
}

// PurgeExpired удаляет все истёкшие записи и возвращает их число.
func (s *VerificationStore) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "tokens.VerificationStore.PurgeExpired"

	n, err := s.st.DeleteExpiredVerificationTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
