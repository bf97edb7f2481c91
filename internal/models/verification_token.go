package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenPurpose — назначение одноразового токена.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "EMAIL_VERIFICATION"
	PurposePasswordReset     TokenPurpose = "PASSWORD_RESET"
)

// VerificationToken — одноразовый токен подтверждения e-mail или сброса пароля.
// Для пары (UserID, Purpose) в хранилище существует не более одной записи.
type VerificationToken struct {
	ID        uuid.UUID
	Token     string
	TokenHash string
	UserID    uuid.UUID
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли токен к моменту now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Notice — уведомление пользователю с одноразовым токеном
// (письмо подтверждения или сброса пароля).
type Notice struct {
	Purpose   TokenPurpose
	UserID    uuid.UUID
	Username  string
	Email     string
	Token     string
	ExpiresAt time.Time
}
