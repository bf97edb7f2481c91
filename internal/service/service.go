// service содержит бизнес-логику auth-сервиса: регистрацию, вход,
// обновление и отзыв сессий, подтверждение e-mail и смену/сброс пароля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса; экземпляр безопасен для
//     конкурентного использования, если хранилище потокобезопасно.
//   - Изменения, которые должны примениться вместе (выпуск refresh-токена
//     и отметка online, потребление токена и смена пароля), выполняются
//     в одной транзакции storage.Transactor.
//   - Ошибки возвращаются как сентинелы из errors.go и далее
//     маппятся транспортом на HTTP-коды.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/signal-auth/internal/config"
	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/pkg/redact"
	"github.com/pribylovaa/signal-auth/internal/storage"
	"github.com/pribylovaa/signal-auth/internal/tokens"
)

// Notifier доставляет пользователю одноразовый токен
// (письмо подтверждения e-mail или сброса пароля).
type Notifier interface {
	Notify(ctx context.Context, notice models.Notice) error
}

// LoginLimiter ограничивает число неудачных попыток входа по ключу.
type LoginLimiter interface {
	// Blocked сообщает, исчерпан ли лимит для ключа.
	Blocked(ctx context.Context, key string) (bool, error)
	// Fail учитывает неудачную попытку.
	Fail(ctx context.Context, key string) error
	// Reset сбрасывает счётчик после успешного входа.
	Reset(ctx context.Context, key string) error
}

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage  storage.Storage
	cfg      config.AuthConfig
	issuer   *tokens.Issuer
	refresh  *tokens.RefreshStore
	verify   *tokens.VerificationStore
	hasher   PasswordHasher
	notifier Notifier
	limiter  LoginLimiter // может быть nil, если Redis не сконфигурирован
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// New создаёт новый экземпляр Service.
func New(st storage.Storage, cfg config.AuthConfig) (*Service, error) {
	const op = "service.New"

	issuer, err := tokens.NewIssuer(cfg.JWTSecret, cfg.SigningAlgorithm, cfg.Issuer, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Service{
		storage:  st,
		cfg:      cfg,
		issuer:   issuer,
		refresh:  tokens.NewRefreshStore(st, cfg.RefreshTokenTTL),
		verify:   tokens.NewVerificationStore(st),
		hasher:   NewBcryptHasher(cfg.BcryptCost),
		notifier: discardNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNotifier устанавливает доставку уведомлений.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = discardNotifier{}
	}
	s.notifier = n
}

// SetLimiter устанавливает ограничитель попыток входа (опционально).
func (s *Service) SetLimiter(l LoginLimiter) {
	s.limiter = l
}

// Issuer возвращает выпускающий access-токены компонент;
// нужен SecurityGate для проверки токенов без обращения к хранилищу.
func (s *Service) Issuer() *tokens.Issuer {
	return s.issuer
}

// deliver отправляет уведомление после фиксации транзакции.
// Ошибка доставки не отменяет операцию.
func (s *Service) deliver(ctx context.Context, n *models.Notice) {
	if n == nil {
		return
	}

	if err := s.notifier.Notify(ctx, *n); err != nil {
		log.From(ctx).Warn("notice_delivery_failed",
			slog.String("purpose", string(n.Purpose)),
			slog.String("user_id", n.UserID.String()),
			slog.String("email", redact.Email(n.Email)),
			slog.String("err", err.Error()),
		)
	}
}

// createNotice выпускает одноразовый токен и готовит уведомление.
func (s *Service) createNotice(ctx context.Context, user *models.User, purpose models.TokenPurpose, ttl time.Duration) (*models.Notice, error) {
	token, err := s.verify.Create(ctx, user.ID, purpose, ttl)
	if err != nil {
		return nil, err
	}

	return &models.Notice{
		Purpose:   purpose,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// dummy — хэш для сравнения, когда пользователь не найден:
// время ответа не должно выдавать существование логина.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})

	return s.dummyHash
}

// PurgeExpired удаляет истёкшие refresh- и одноразовые токены.
// Возвращает число удалённых записей каждого вида.
func (s *Service) PurgeExpired(ctx context.Context) (refresh, verification int64, err error) {
	const op = "service.PurgeExpired"

	refresh, err = s.refresh.PurgeExpired(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	verification, err = s.verify.PurgeExpired(ctx)
	if err != nil {
		return refresh, 0, fmt.Errorf("%s: %w", op, err)
	}

	return refresh, verification, nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, models.Notice) error { return nil }
