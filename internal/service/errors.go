package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pribylovaa/signal-auth/internal/tokens"
	"github.com/pribylovaa/signal-auth/internal/validate"
)

var (
	// ErrValidation — входные данные не прошли проверку формата.
	// Конкретные причины по полям — в *ValidationError. HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrConflict — username или e-mail уже заняты. HTTP 409.
	ErrConflict = errors.New("conflict")
	// ErrUsernameTaken — занят username.
	ErrUsernameTaken = fmt.Errorf("username already taken: %w", ErrConflict)
	// ErrEmailTaken — занят e-mail.
	ErrEmailTaken = fmt.Errorf("email already registered: %w", ErrConflict)

	// ErrAuthentication — общая категория отказа в аутентификации. HTTP 401.
	ErrAuthentication = errors.New("authentication failed")
	// ErrInvalidCredentials — неверная пара логин/пароль или пользователь не найден.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrAuthentication)
	// ErrAccountBanned — учётная запись заблокирована.
	ErrAccountBanned = fmt.Errorf("account is banned: %w", ErrAuthentication)
	// ErrAccountDeleted — учётная запись удалена.
	ErrAccountDeleted = fmt.Errorf("account is deleted: %w", ErrAuthentication)
	// ErrInvalidToken — access-токен повреждён, подписан чужим ключом
	// или его владелец не найден.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", ErrAuthentication)
	// ErrEmailNotVerified — вход до подтверждения e-mail запрещён политикой.
	ErrEmailNotVerified = fmt.Errorf("email is not verified: %w", ErrAuthentication)

	// ErrTokenExpired — срок действия токена истёк. HTTP 401.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenNotFound — токен неизвестен, уже использован или отозван. HTTP 401.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTooManyAttempts — превышен лимит неудачных попыток входа. HTTP 429.
	ErrTooManyAttempts = errors.New("too many login attempts")
)

// ValidationError несёт причины отказа по полям.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}

	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// validationErr оборачивает ошибку пакета validate.
func validationErr(err error) error {
	if err == nil {
		return nil
	}

	fields := validate.Fields(err)
	if len(fields) == 0 {
		fields = map[string]string{"request": err.Error()}
	}

	return &ValidationError{Fields: fields}
}

// tokenErr переводит ошибки пакета tokens в ошибки сервиса.
// Прочие ошибки (хранилище, контекст) возвращаются как есть.
func tokenErr(err error) error {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, tokens.ErrNotFound):
		return ErrTokenNotFound
	case errors.Is(err, tokens.ErrMalformed), errors.Is(err, tokens.ErrSignatureMismatch):
		return ErrInvalidToken
	}

	return err
}
