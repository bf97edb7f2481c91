package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserStatus — статус учётной записи.
type UserStatus string

const (
	// StatusPending — e-mail ещё не подтверждён.
	StatusPending UserStatus = "PENDING"
	// StatusActive — обычная рабочая учётная запись (online/offline задаётся флагом Online).
	StatusActive UserStatus = "ACTIVE"
	// StatusBanned — заблокирован администратором, вход запрещён.
	StatusBanned UserStatus = "BANNED"
	// StatusDeleted — удалён, вход запрещён.
	StatusDeleted UserStatus = "DELETED"
)

// RoleUser — роль по умолчанию для новых учётных записей.
const RoleUser = "USER"

// User — учётная запись в каталоге пользователей.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          string
	Status        UserStatus
	Online        bool
	EmailVerified bool
	LastSeenAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanLogin сообщает, разрешён ли вход для текущего статуса.
func (u *User) CanLogin() bool {
	return u.Status != StatusBanned && u.Status != StatusDeleted
}

// DisplayName — "Имя Фамилия", либо username, если имя не заполнено.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}

	return name
}

// Roles возвращает набор ролей в формате ROLE_<name>.
func (u *User) Roles() []string {
	role := u.Role
	if role == "" {
		role = RoleUser
	}

	return []string{"ROLE_" + role}
}

// Principal строит представление пользователя для контекста запроса и ответов.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		DisplayName:   u.DisplayName(),
		Roles:         u.Roles(),
		EmailVerified: u.EmailVerified,
		Online:        u.Online,
	}
}
