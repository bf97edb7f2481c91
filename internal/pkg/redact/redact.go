// Package redact маскирует персональные данные и секреты перед записью в лог.
package redact

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Masked — замена значения, которое нельзя показывать даже частично.
const Masked = "[REDACTED]"

// fingerprintLen — длина отпечатка токена в символах base64url.
const fingerprintLen = 8

// Email оставляет первые две руны локальной части и домен:
// "alice@example.com" -> "al***@example.com". Короткая локальная часть
// и строки не в формате local@domain скрываются целиком.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}

	if utf8.RuneCountInString(local) <= 2 {
		return "***@" + domain
	}

	var head []rune
	for _, r := range local {
		head = append(head, r)
		if len(head) == 2 {
			break
		}
	}

	return string(head) + "***@" + domain
}

// Token заменяет значение refresh-, access- или одноразового токена
// коротким отпечатком "tok:<8 символов>". Отпечаток — начало sha256 в
// base64url, то есть префикс token_hash в хранилище: по нему запись
// находится в БД, но само значение восстановить нельзя.
func Token(plain string) string {
	if plain == "" {
		return Masked
	}

	sum := sha256.Sum256([]byte(plain))

	return "tok:" + base64.RawURLEncoding.EncodeToString(sum[:])[:fingerprintLen]
}
