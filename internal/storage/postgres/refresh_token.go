package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

const refreshColumns = `id, token_hash, user_id, expires_at, client_ip, user_agent, created_at`

// SaveRefreshToken сохраняет новый refresh-токен в БД.
// Совпадение хэша не прерывает транзакцию (ON CONFLICT DO NOTHING),
// поэтому вызывающий может повторить попытку с новым значением.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens(id, token_hash, user_id, expires_at, client_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_hash) DO NOTHING
	`

	tag, err := s.conn(ctx).Exec(ctx, query,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.ExpiresAt,
		token.ClientIP,
		token.UserAgent,
		token.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	return nil
}

// DeleteRefreshTokensByUser удаляет все refresh-токены пользователя.
func (s *Storage) DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.postgres.DeleteRefreshTokensByUser"

	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// ExtendRefreshToken переносит срок действия ещё живого токена.
// Одиночный UPDATE берёт блокировку строки, поэтому параллельный
// DeleteRefreshTokensByUser либо дождётся продления, либо продление
// не найдёт строку.
func (s *Storage) ExtendRefreshToken(ctx context.Context, hash string, now, expiresAt time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.ExtendRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET expires_at = $3
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING ` + refreshColumns

	return s.queryRefreshToken(ctx, op, query, hash, now, expiresAt)
}

// DeleteExpiredRefreshToken удаляет конкретный токен, если он уже истёк.
func (s *Storage) DeleteExpiredRefreshToken(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.DeleteExpiredRefreshToken"

	query := `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at <= $2
		RETURNING ` + refreshColumns

	return s.queryRefreshToken(ctx, op, query, hash, now)
}

// DeleteExpiredRefreshTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredRefreshTokens"

	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (s *Storage) queryRefreshToken(ctx context.Context, op, query string, args ...any) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&token.ExpiresAt,
		&token.ClientIP,
		&token.UserAgent,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}
