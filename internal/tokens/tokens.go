// tokens выпускает и проверяет токены трёх видов:
//   - access-токены (JWT, подпись HMAC, без состояния);
//   - refresh-токены (случайные секреты, в БД хранится хэш);
//   - одноразовые токены подтверждения e-mail и сброса пароля.
//
// Хранилища работают через контракты пакета storage и переводят его
// ошибки в ErrNotFound/ErrExpired этого пакета.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed — access-токен не разбирается или не проходит проверку claims.
	ErrMalformed = errors.New("malformed token")
	// ErrSignatureMismatch — подпись не совпадает с текущим секретом/алгоритмом.
	ErrSignatureMismatch = errors.New("token signature mismatch")
	// ErrExpired — срок действия токена истёк.
	ErrExpired = errors.New("token expired")
	// ErrNotFound — токен не найден в хранилище.
	ErrNotFound = errors.New("token not found")
	// ErrCollision — исчерпаны попытки сгенерировать уникальное значение.
	ErrCollision = errors.New("token collision")
)

const (
	// secretBytes — 256 бит энтропии на значение токена.
	secretBytes = 32
	maxAttempts = 5
)

// Hash — представление значения токена в хранилище (sha256, base64url).
func Hash(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// newSecret генерирует значение токена и его хэш.
func newSecret() (plain, hash string, err error) {
	const op = "tokens.newSecret"

	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	plain = base64.RawURLEncoding.EncodeToString(b)

	return plain, Hash(plain), nil
}

func utcNow() time.Time { return time.Now().UTC() }
