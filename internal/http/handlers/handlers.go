package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/signal-auth/internal/metrics"
	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/service"
)

// AuthService — операции сервиса авторизации, доступные через HTTP.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput, clientIP, userAgent string) (*models.User, error)
	Login(ctx context.Context, in service.LoginInput, clientIP, userAgent string) (*models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken, clientIP string) (*models.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	EmailAvailable(ctx context.Context, email string) (bool, error)
}

// Handlers агрегирует зависимости HTTP-обработчиков.
type Handlers struct {
	svc     AuthService
	metrics *metrics.Metrics
}

func New(svc AuthService, m *metrics.Metrics) *Handlers {
	return &Handlers{svc: svc, metrics: m}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeMessage — ответ {message, status, timestamp}.
func writeMessage(w http.ResponseWriter, message, status string) {
	writeJSON(w, http.StatusOK, MessageResponse{
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// badRequest — локальная ошибка разбора тела в терминах сервиса.
func badRequest() error {
	return &service.ValidationError{Fields: map[string]string{"body": "malformed JSON"}}
}

// proxyHeaders — заголовки с адресом клиента за прокси, по убыванию приоритета.
var proxyHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Originating-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// clientIP — адрес клиента с учётом прокси; из X-Forwarded-For берётся первый.
func clientIP(r *http.Request) string {
	for _, h := range proxyHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" || strings.EqualFold(v, "unknown") {
			continue
		}

		first, _, _ := strings.Cut(v, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
