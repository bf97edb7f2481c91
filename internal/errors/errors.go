// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает ошибку сервисного слоя, а на выход даёт:
//   - корректный HTTP-статус;
//   - короткий стабильный код для клиента;
//   - безопасное message без утечки деталей хранилища.
//
// Источник истинности по маппингу: sentinel-ошибки пакета service.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат для фронта.
// Fields заполняется только для ошибок валидации (поле -> причина).
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку сервиса в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal;
//   - ошибки валидации — 400 с перечнем полей;
//   - конфликты уникальности — 409;
//   - ошибки аутентификации и токенов — 401;
//   - исчерпан лимит попыток входа — 429;
//   - отмена/дедлайн контекста — 499/504;
//   - прочее — 500/internal.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)
	resp := ErrorResponse{Error: APIError{Code: code, Message: msg}}

	var verr *service.ValidationError
	if stderrors.As(err, &verr) {
		resp.Error.Fields = verr.Fields
	}

	return status, resp
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус/тело, добавляет request_id из заголовка; 5xx логируются с причиной.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	if status >= http.StatusInternalServerError {
		var cause string
		if err != nil {
			cause = err.Error()
		}

		log.From(r.Context()).Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("err", cause),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Outcome — короткая метка исхода операции для метрик ("ok" при err == nil).
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}

	_, code, _ := classify(err)
	return code
}

func classify(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"

	case stderrors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "invalid_argument", "validation failed"

	case stderrors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict, "username_taken", "username is already taken"
	case stderrors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email is already in use"
	case stderrors.Is(err, service.ErrConflict):
		return http.StatusConflict, "already_exists", "already exists"

	case stderrors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts", "too many login attempts, try again later"

	case stderrors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case stderrors.Is(err, service.ErrAccountBanned):
		return http.StatusUnauthorized, "account_banned", "account is banned"
	case stderrors.Is(err, service.ErrAccountDeleted):
		return http.StatusUnauthorized, "account_deleted", "account is deleted"
	case stderrors.Is(err, service.ErrEmailNotVerified):
		return http.StatusUnauthorized, "email_not_verified", "email is not verified"
	case stderrors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "invalid token"
	case stderrors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "token has expired"
	case stderrors.Is(err, service.ErrTokenNotFound):
		return http.StatusUnauthorized, "token_not_found", "token is invalid or already used"
	case stderrors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"

	case stderrors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"

	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
