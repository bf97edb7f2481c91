package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/signal-auth/internal/metrics"
	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/pkg/redact"
	"github.com/pribylovaa/signal-auth/internal/tokens"
)

// Типы отказа аутентификации, которые видит клиент в поле errorType.
const (
	FailureAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	FailureInvalidToken           = "INVALID_TOKEN"
	FailureTokenExpired           = "TOKEN_EXPIRED"
)

const bearerPrefix = "Bearer "

// TokenValidator проверяет access-токены (tokens.Issuer).
type TokenValidator interface {
	Validate(token string) (*tokens.Claims, error)
	ValidateForPrincipal(token, username string) bool
}

// PrincipalResolver находит principal по username из токена.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, username string) (*models.Principal, error)
}

// GateConfig — зависимости SecurityGate.
type GateConfig struct {
	Validator TokenValidator
	Resolver  PrincipalResolver
	// PublicPaths — точные пути; элемент, оканчивающийся на "/", задаёт префикс.
	PublicPaths []string
	Metrics     *metrics.Metrics
}

// SecurityGate извлекает Bearer-токен, проверяет его и кладёт principal
// в контекст запроса. Сам запрос не отклоняет: при любой неудаче запрос
// идёт дальше без principal, а причина доступна через FailureFrom.
// Отказ формируют обработчики, которым нужен principal (RequireAuth).
func SecurityGate(cfg GateConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, cfg.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r.WithContext(withFailure(ctx, FailureAuthenticationRequired)))
				return
			}

			principal, kind := authenticate(ctx, cfg, token)
			if principal == nil {
				cfg.Metrics.GateFailure(kind)
				log.From(ctx).Debug("bearer_rejected",
					slog.String("path", r.URL.Path),
					slog.String("type", kind),
					slog.String("token", redact.Token(token)),
				)
				next.ServeHTTP(w, r.WithContext(withFailure(ctx, kind)))
				return
			}

			ctx = context.WithValue(ctx, ctxPrincipal, principal)
			ctx = context.WithValue(ctx, ctxToken, token)
			ctx = log.With(ctx, slog.String("user_id", principal.ID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(ctx context.Context, cfg GateConfig, token string) (*models.Principal, string) {
	claims, err := cfg.Validator.Validate(token)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			return nil, FailureTokenExpired
		}

		return nil, FailureInvalidToken
	}

	principal, err := cfg.Resolver.ResolvePrincipal(ctx, claims.Subject)
	if err != nil {
		log.From(ctx).Debug("principal_unresolved", slog.String("err", err.Error()))
		return nil, FailureInvalidToken
	}

	if !cfg.Validator.ValidateForPrincipal(token, principal.Username) {
		return nil, FailureInvalidToken
	}

	return principal, ""
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(auth[len(bearerPrefix):])
	return token, token != ""
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}

	return false
}

func withFailure(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, ctxFailure, kind)
}

// PrincipalFrom возвращает principal, установленный SecurityGate.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(*models.Principal)
	return p, ok && p != nil
}

// TokenFrom возвращает проверенный access-токен или "".
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(ctxToken).(string)
	return t
}

// FailureFrom возвращает тип отказа; для запроса без заголовка
// Authorization — FailureAuthenticationRequired.
func FailureFrom(ctx context.Context) string {
	if kind, ok := ctx.Value(ctxFailure).(string); ok {
		return kind
	}

	return FailureAuthenticationRequired
}

// Unauthorized — тело ответа 401 для запросов без действительного principal.
type Unauthorized struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	ErrorType string    `json:"errorType"`
	Hint      string    `json:"hint,omitempty"`
}

// RequireAuth пропускает запрос только с principal в контексте,
// иначе отвечает 401 с типом отказа и подсказкой.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		WriteUnauthorized(w, r, FailureFrom(r.Context()))
	})
}

// WriteUnauthorized пишет ответ 401 для типа отказа kind.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, kind string) {
	body := Unauthorized{
		Error:     "Unauthorized",
		Path:      r.URL.Path,
		Method:    r.Method,
		Timestamp: time.Now().UTC(),
		Status:    http.StatusUnauthorized,
		ErrorType: kind,
	}

	switch kind {
	case FailureTokenExpired:
		body.Message = "Authentication token has expired"
		body.Hint = "Please refresh your token"
	case FailureInvalidToken:
		body.Message = "Invalid authentication token"
		body.Hint = "Please provide a valid JWT token in Authorization header"
	default:
		body.ErrorType = FailureAuthenticationRequired
		body.Message = "Authentication required"
		body.Hint = "Please login to access this resource"
	}

	log.From(r.Context()).Warn("unauthorized_access",
		slog.String("path", r.URL.Path),
		slog.String("type", body.ErrorType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(body)
}
