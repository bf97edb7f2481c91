// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// MaxPasswordResetTTL — верхняя граница жизни токена сброса пароля.
const MaxPasswordResetTTL = 30 * time.Minute

// minSecretLen — минимальная длина HMAC-секрета в байтах.
const minSecretLen = 32

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Auth     AuthConfig    `yaml:"auth"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Janitor  JanitorConfig `yaml:"janitor"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	SigningAlgorithm string        `yaml:"signing_algorithm" env:"JWT_SIGNING_ALGORITHM" env-default:"HS512"`
	Issuer           string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"signal-auth"`
	AccessTokenTTL   time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"24h"`
	RefreshTokenTTL  time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	VerificationTTL  time.Duration `yaml:"verification_ttl" env:"VERIFICATION_TTL" env-default:"24h"`
	PasswordResetTTL time.Duration `yaml:"password_reset_ttl" env:"PASSWORD_RESET_TTL" env-default:"30m"`
	BcryptCost       int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`

	// RequireEmailVerification — при регистрации создаётся токен EMAIL_VERIFICATION,
	// а пользователь остаётся в статусе PENDING до подтверждения.
	RequireEmailVerification bool `yaml:"require_email_verification" env:"REQUIRE_EMAIL_VERIFICATION" env-default:"true"`
	// LoginRequiresVerifiedEmail запрещает вход до подтверждения e-mail.
	LoginRequiresVerifiedEmail bool `yaml:"login_requires_verified_email" env:"LOGIN_REQUIRES_VERIFIED_EMAIL" env-default:"false"`
	// RevokeSessionsOnPasswordChange — отзывать refresh-токены при смене пароля.
	RevokeSessionsOnPasswordChange bool `yaml:"revoke_sessions_on_password_change" env:"REVOKE_SESSIONS_ON_PASSWORD_CHANGE" env-default:"false"`

	// PublicPaths — пути, которые SecurityGate пропускает без разбора токена.
	// Элемент, оканчивающийся на "/", трактуется как префикс.
	PublicPaths []string `yaml:"public_paths" env:"PUBLIC_PATHS" env-separator:","`

	LoginMaxAttempts int           `yaml:"login_max_attempts" env:"LOGIN_MAX_ATTEMPTS" env-default:"5"`
	LoginLockout     time.Duration `yaml:"login_lockout" env:"LOGIN_LOCKOUT" env-default:"15m"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL   string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
	RunMigrations bool   `yaml:"run_migrations" env:"DB_RUN_MIGRATIONS" env-default:"true"`
}

// RedisConfig — подключение к Redis для ограничения попыток входа.
// Пустой URL отключает ограничитель.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:login:"`
}

// KafkaConfig — доставка уведомлений о токенах подтверждения/сброса.
// Пустой список брокеров включает доставку через лог.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_NOTIFY_TOPIC" env-default:"auth.notifications"`
}

// JanitorConfig — период фоновой очистки просроченных токенов.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// Validate проверяет значения, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	const op = "config.Validate"

	a := c.Auth
	switch {
	case len(a.JWTSecret) < minSecretLen:
		return fmt.Errorf("%s: jwt_secret must be at least %d bytes", op, minSecretLen)
	case a.AccessTokenTTL <= 0 || a.RefreshTokenTTL <= 0 || a.VerificationTTL <= 0:
		return fmt.Errorf("%s: token ttl must be positive", op)
	case a.PasswordResetTTL <= 0 || a.PasswordResetTTL > MaxPasswordResetTTL:
		return fmt.Errorf("%s: password_reset_ttl must be in (0, %s]", op, MaxPasswordResetTTL)
	}

	switch a.SigningAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("%s: unsupported signing_algorithm %q", op, a.SigningAlgorithm)
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла поверх значений из YAML накладываются ENV-переменные.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file does not exist: %s", p)
			}
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	// 1) Явный путь.
	if path != "" {
		return readFile(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return readFile(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
