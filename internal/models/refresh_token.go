package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись долгоживущей сессии.
//
// В БД хранится только TokenHash; Token заполняется лишь при выпуске,
// чтобы вернуть значение клиенту.
type RefreshToken struct {
	ID        uuid.UUID
	Token     string
	TokenHash string
	UserID    uuid.UUID
	ExpiresAt time.Time
	ClientIP  string
	UserAgent string
	CreatedAt time.Time
}

// Expired сообщает, истёк ли токен к моменту now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
