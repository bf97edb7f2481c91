// Package notify доставляет пользователю одноразовые токены
// (подтверждение e-mail, сброс пароля): через Kafka в сервис рассылки
// или в лог, если брокер не сконфигурирован.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/pkg/log"
	"github.com/pribylovaa/signal-auth/internal/pkg/redact"
)

// Message — полезная нагрузка сообщения в топике уведомлений.
type Message struct {
	Purpose   string    `json:"purpose"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newMessage(n models.Notice) Message {
	return Message{
		Purpose:   string(n.Purpose),
		UserID:    n.UserID.String(),
		Username:  n.Username,
		Email:     n.Email,
		Token:     n.Token,
		ExpiresAt: n.ExpiresAt.UTC(),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka публикует уведомления в топик; ключ — ID пользователя,
// поэтому уведомления одного пользователя попадают в одну партицию.
type Kafka struct {
	w     messageWriter
	topic string
}

// NewKafka создаёт продюсера уведомлений.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Notify публикует уведомление.
func (k *Kafka) Notify(ctx context.Context, n models.Notice) error {
	const op = "notify.Kafka.Notify"

	value, err := json.Marshal(newMessage(n))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := kafka.Message{
		Key:   []byte(n.UserID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "purpose", Value: []byte(n.Purpose)},
		},
	}

	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Debug("notice_published",
		slog.String("topic", k.topic),
		slog.String("purpose", string(n.Purpose)),
		slog.String("user_id", n.UserID.String()),
		slog.String("token", redact.Token(n.Token)),
	)

	return nil
}

// Close закрывает продюсера.
func (k *Kafka) Close() error { return k.w.Close() }

// Log пишет уведомления в лог. Значение токена выводится только
// при reveal=true (локальная разработка без почтового сервиса).
type Log struct {
	reveal bool
}

// NewLog создаёт уведомитель через лог.
func NewLog(reveal bool) *Log {
	return &Log{reveal: reveal}
}

// Notify пишет уведомление в лог из контекста.
func (l *Log) Notify(ctx context.Context, n models.Notice) error {
	token := redact.Token(n.Token)
	if l.reveal {
		token = n.Token
	}

	log.From(ctx).Info("notice_issued",
		slog.String("purpose", string(n.Purpose)),
		slog.String("user_id", n.UserID.String()),
		slog.String("email", redact.Email(n.Email)),
		slog.String("token", token),
		slog.Time("expires_at", n.ExpiresAt),
	)

	return nil
}
