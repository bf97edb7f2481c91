//go:generate mockgen -source=storage.go -destination=../../mocks/storage.go -package=mocks

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/signal-auth/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/email/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
	// ErrUsernameExists — занят username.
	ErrUsernameExists = fmt.Errorf("username %w", ErrAlreadyExists)
	// ErrEmailExists — занят e-mail.
	ErrEmailExists = fmt.Errorf("email %w", ErrAlreadyExists)
)

// Transactor выполняет fn в одной транзакции. Вложенный вызов
// присоединяется к уже открытой транзакции из контекста.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserStorage — каталог пользователей.
type UserStorage interface {
	// SaveUser создаёт пользователя. Нарушение уникальности —
	// ErrUsernameExists или ErrEmailExists.
	SaveUser(ctx context.Context, user *models.User) error
	// SetOnline меняет флаг online и last_seen_at.
	SetOnline(ctx context.Context, id uuid.UUID, online bool, at time.Time) error
	// SetPasswordHash заменяет хэш пароля.
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	// MarkEmailVerified отмечает e-mail подтверждённым (PENDING -> ACTIVE).
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByIDForUpdate находит пользователя по ID и блокирует строку
	// до конца текущей транзакции.
	UserByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByUsername находит пользователя по username.
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByEmail находит пользователя по e-mail.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByLogin находит пользователя по username или e-mail.
	UserByLogin(ctx context.Context, login string) (*models.User, error)
	// ExistsByUsername проверяет занятость username.
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	// ExistsByEmail проверяет занятость e-mail.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// LockUser блокирует строку пользователя до конца текущей транзакции.
	LockUser(ctx context.Context, id uuid.UUID) error
}

// RefreshTokenStorage — записи refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет запись; совпадение хэша — ErrAlreadyExists.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// DeleteRefreshTokensByUser удаляет все записи пользователя.
	DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// ExtendRefreshToken продлевает ещё действующую (expires_at > now) запись
	// до expiresAt. Иначе — ErrNotFound.
	ExtendRefreshToken(ctx context.Context, hash string, now, expiresAt time.Time) (*models.RefreshToken, error)
	// DeleteExpiredRefreshToken удаляет запись, если она истекла к now.
	// Иначе — ErrNotFound.
	DeleteExpiredRefreshToken(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)
	// DeleteExpiredRefreshTokens удаляет все истёкшие записи.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// VerificationTokenStorage — одноразовые токены подтверждения и сброса.
type VerificationTokenStorage interface {
	// SaveVerificationToken заменяет запись для пары (user, purpose) новой.
	// Совпадение хэша с чужой записью — ErrAlreadyExists.
	SaveVerificationToken(ctx context.Context, token *models.VerificationToken) error
	// ConsumeVerificationToken атомарно удаляет запись и возвращает её.
	ConsumeVerificationToken(ctx context.Context, hash string) (*models.VerificationToken, error)
	// DeleteExpiredVerificationTokens удаляет все истёкшие записи.
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	Transactor
	UserStorage
	RefreshTokenStorage
	VerificationTokenStorage
	Ping(ctx context.Context) error
	Close()
}
