package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

const userColumns = `id, username, email, password_hash, first_name, last_name, role,
		status, online, email_verified, last_seen_at, created_at, updated_at`

// SaveUser создает нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(id, username, email, password_hash, first_name, last_name, role,
			status, online, email_verified, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.conn(ctx).Exec(ctx, query,
		user.ID,
		user.Username,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		string(user.Status),
		user.Online,
		user.EmailVerified,
		user.LastSeenAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "users_username_uniq":
				return fmt.Errorf("%s: %w", op, storage.ErrUsernameExists)
			case "users_email_uniq":
				return fmt.Errorf("%s: %w", op, storage.ErrEmailExists)
			}

			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetOnline меняет флаг online и отметку last_seen_at.
func (s *Storage) SetOnline(ctx context.Context, id uuid.UUID, online bool, at time.Time) error {
	const op = "storage.postgres.SetOnline"

	query := `
		UPDATE users
		SET online = $2,
		    last_seen_at = $3,
		    updated_at = $3
		WHERE id = $1
	`

	return s.execUser(ctx, op, query, id, online, at)
}

// SetPasswordHash заменяет хэш пароля.
func (s *Storage) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	const op = "storage.postgres.SetPasswordHash"

	query := `
		UPDATE users
		SET password_hash = $2,
		    updated_at = $3
		WHERE id = $1
	`

	return s.execUser(ctx, op, query, id, hash, at)
}

// MarkEmailVerified отмечает e-mail подтверждённым; PENDING переходит в ACTIVE,
// остальные статусы не меняются.
func (s *Storage) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "storage.postgres.MarkEmailVerified"

	query := `
		UPDATE users
		SET email_verified = TRUE,
		    status = CASE WHEN status = $2 THEN $3 ELSE status END,
		    updated_at = $4
		WHERE id = $1
	`

	return s.execUser(ctx, op, query, id, string(models.StatusPending), string(models.StatusActive), at)
}

func (s *Storage) execUser(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return s.queryUser(ctx, op, query, id)
}

// UserByIDForUpdate читает пользователя и блокирует строку до конца
// текущей транзакции. Имеет смысл только внутри WithTx.
func (s *Storage) UserByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByIDForUpdate"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

	return s.queryUser(ctx, op, query, id)
}

// UserByUsername находит пользователя по username.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.postgres.UserByUsername"

	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	return s.queryUser(ctx, op, query, username)
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	return s.queryUser(ctx, op, query, strings.ToLower(email))
}

// UserByLogin находит пользователя по username или email.
// Совпадение по username имеет приоритет.
func (s *Storage) UserByLogin(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.postgres.UserByLogin"

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR email = $2
		ORDER BY (username = $1) DESC
		LIMIT 1
	`

	return s.queryUser(ctx, op, query, login, strings.ToLower(login))
}

// ExistsByUsername проверяет, занят ли username.
func (s *Storage) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	const op = "storage.postgres.ExistsByUsername"

	var exists bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

// ExistsByEmail проверяет, занят ли email.
func (s *Storage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const op = "storage.postgres.ExistsByEmail"

	var exists bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, strings.ToLower(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

// LockUser берёт блокировку строки пользователя (SELECT ... FOR UPDATE).
// Имеет смысл только внутри WithTx.
func (s *Storage) LockUser(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.LockUser"

	var locked uuid.UUID
	err := s.conn(ctx).QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) queryUser(ctx context.Context, op, query string, args ...any) (*models.User, error) {
	var (
		user   models.User
		status string
	)

	err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&status,
		&user.Online,
		&user.EmailVerified,
		&user.LastSeenAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.Status = models.UserStatus(status)

	return &user, nil
}
