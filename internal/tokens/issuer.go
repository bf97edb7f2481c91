package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pribylovaa/signal-auth/internal/models"
)

// Claims — полезная нагрузка access-токена. Subject — username.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Issuer подписывает и проверяет access-токены общим секретом.
// Не обращается к хранилищу и безопасен для конкурентного использования.
type Issuer struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption настраивает Issuer.
type IssuerOption func(*Issuer)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer создаёт Issuer для алгоритма HS256/HS384/HS512.
func NewIssuer(secret, alg, issuer string, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	const op = "tokens.NewIssuer"

	if secret == "" {
		return nil, fmt.Errorf("%s: empty secret", op)
	}

	if ttl <= 0 {
		return nil, fmt.Errorf("%s: ttl must be positive", op)
	}

	var method *jwt.SigningMethodHMAC
	switch alg {
	case "", jwt.SigningMethodHS512.Alg():
		method = jwt.SigningMethodHS512
	case jwt.SigningMethodHS384.Alg():
		method = jwt.SigningMethodHS384
	case jwt.SigningMethodHS256.Alg():
		method = jwt.SigningMethodHS256
	default:
		return nil, fmt.Errorf("%s: unsupported algorithm %q", op, alg)
	}

	i := &Issuer{
		secret: []byte(secret),
		method: method,
		issuer: issuer,
		ttl:    ttl,
		now:    utcNow,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// TTL — время жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue выпускает access-токен для principal: exp = iat + TTL.
func (i *Issuer) Issue(p *models.Principal) (string, *Claims, error) {
	const op = "tokens.Issuer.Issue"

	now := i.now().Truncate(time.Second)
	claims := &Claims{
		UserID: p.ID.String(),
		Roles:  p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims, nil
}

// Validate проверяет подпись, алгоритм, издателя и срок действия.
// Ошибки: ErrMalformed, ErrExpired, ErrSignatureMismatch.
func (i *Issuer) Validate(token string) (*Claims, error) {
	const op = "tokens.Issuer.Validate"

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%s: %w", op, ErrSignatureMismatch)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		default:
			return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
		}
	}

	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	return claims, nil
}

// ValidateForPrincipal — Validate плюс совпадение subject с ожидаемым username.
func (i *Issuer) ValidateForPrincipal(token, username string) bool {
	claims, err := i.Validate(token)
	if err != nil {
		return false
	}

	return claims.Subject == username
}
