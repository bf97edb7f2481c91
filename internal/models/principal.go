package models

import "github.com/google/uuid"

// Principal — аутентифицированная личность, связанная с запросом.
type Principal struct {
	ID            uuid.UUID
	Username      string
	Email         string
	DisplayName   string
	Roles         []string
	EmailVerified bool
	Online        bool
}

// HasRole проверяет наличие роли (в формате ROLE_<name>).
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}

	return false
}
