package handlers

import (
	"time"

	"github.com/pribylovaa/signal-auth/internal/models"
	"github.com/pribylovaa/signal-auth/internal/service"
)

const (
	statusSuccess   = "SUCCESS"
	statusTaken     = "TAKEN"
	statusAvailable = "AVAILABLE"
)

// MessageResponse — ответ операций без полезной нагрузки.
type MessageResponse struct {
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (r RegisterRequest) toInput() service.RegisterInput {
	return service.RegisterInput{
		Username:  r.Username,
		Email:     r.Email,
		Password:  r.Password,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

func (r LoginRequest) toInput() service.LoginInput {
	return service.LoginInput{Login: r.UsernameOrEmail, Password: r.Password}
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UserResponse — представление principal для клиента.
type UserResponse struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	DisplayName   string   `json:"displayName"`
	Roles         []string `json:"roles,omitempty"`
	EmailVerified bool     `json:"emailVerified"`
	Online        bool     `json:"online"`
}

type AuthResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	TokenType    string        `json:"tokenType"`
	ExpiresIn    int64         `json:"expiresIn"`
	User         *UserResponse `json:"user,omitempty"`
}

func userFromPrincipal(p *models.Principal) *UserResponse {
	if p == nil {
		return nil
	}

	return &UserResponse{
		ID:            p.ID.String(),
		Username:      p.Username,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Roles:         p.Roles,
		EmailVerified: p.EmailVerified,
		Online:        p.Online,
	}
}

func authFromResult(res *models.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		ExpiresIn:    res.ExpiresIn,
		User:         userFromPrincipal(res.User),
	}
}
