package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/storage"
)

// SaveVerificationToken заменяет токен пары (user, purpose) новым.
// Удаление прежней записи и вставка идут в одной транзакции; вставка
// не поднимает ошибку уникальности (ON CONFLICT DO NOTHING), поэтому
// совпадение хэша или параллельная замена той же пары дают ErrAlreadyExists,
// не прерывая внешнюю транзакцию, и вызывающий может повторить попытку.
func (s *Storage) SaveVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	const op = "storage.postgres.SaveVerificationToken"

	deleteQuery := `DELETE FROM verification_tokens WHERE user_id = $1 AND purpose = $2`
	insertQuery := `
		INSERT INTO verification_tokens(id, token_hash, user_id, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).Exec(ctx, deleteQuery, token.UserID, string(token.Purpose)); err != nil {
			return err
		}

		tag, err := s.conn(ctx).Exec(ctx, insertQuery,
			token.ID,
			token.TokenHash,
			token.UserID,
			string(token.Purpose),
			token.ExpiresAt,
			token.CreatedAt,
		)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return storage.ErrAlreadyExists
		}

		return nil
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeVerificationToken удаляет токен по хэшу и возвращает удалённую запись.
// DELETE ... RETURNING выполняется атомарно: из параллельных вызовов
// строку получит ровно один.
func (s *Storage) ConsumeVerificationToken(ctx context.Context, hash string) (*models.VerificationToken, error) {
	const op = "storage.postgres.ConsumeVerificationToken"

	query := `
		DELETE FROM verification_tokens
		WHERE token_hash = $1
		RETURNING id, token_hash, user_id, purpose, expires_at, created_at
	`

	var (
		token   models.VerificationToken
		purpose string
	)

	err := s.conn(ctx).QueryRow(ctx, query, hash).Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&purpose,
		&token.ExpiresAt,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token.Purpose = models.TokenPurpose(purpose)

	return &token, nil
}

// DeleteExpiredVerificationTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredVerificationTokens"

	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
