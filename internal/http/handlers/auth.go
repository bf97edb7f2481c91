package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/signal-auth/internal/errors"
	"github.com/pribylovaa/signal-auth/internal/http/middleware"
	"github.com/pribylovaa/signal-auth/internal/models"
)

// done учитывает исход операции в метриках и пишет ошибку, если она есть.
// Возвращает true, если обработчик может писать успешный ответ.
func (h *Handlers) done(w http.ResponseWriter, r *http.Request, op string, err error) bool {
	h.metrics.AuthEvent(op, apierrors.Outcome(err))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return false
	}

	return true
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in RegisterRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, badRequest())
		return
	}

	user, err := h.svc.Register(r.Context(), in.toInput(), clientIP(r), r.UserAgent())
	if !h.done(w, r, "register", err) {
		return
	}

	msg := "User registered successfully!"
	if user.Status == models.StatusPending {
		msg = "User registered successfully! Please check your email for verification."
	}
	writeMessage(w, msg, statusSuccess)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, badRequest())
		return
	}

	res, err := h.svc.Login(r.Context(), in.toInput(), clientIP(r), r.UserAgent())
	if !h.done(w, r, "login", err) {
		return
	}

	writeJSON(w, http.StatusOK, authFromResult(res))
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in RefreshRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, badRequest())
		return
	}

	res, err := h.svc.Refresh(r.Context(), in.RefreshToken, clientIP(r))
	if !h.done(w, r, "refresh", err) {
		return
	}

	writeJSON(w, http.StatusOK, authFromResult(res))
}

// Logout требует principal (RequireAuth): отзывается сессия владельца токена.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Logout(r.Context(), middleware.TokenFrom(r.Context()))
	if !h.done(w, r, "logout", err) {
		return
	}

	writeMessage(w, "User logged out successfully!", statusSuccess)
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if !h.done(w, r, "verify_email", err) {
		return
	}

	writeMessage(w, "Email verified successfully!", statusSuccess)
}

// ResendVerification и ForgotPassword принимают email из query или формы
// и отвечают одинаково для известных и неизвестных адресов.
func (h *Handlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ResendVerification(r.Context(), r.FormValue("email"))
	if !h.done(w, r, "resend_verification", err) {
		return
	}

	writeMessage(w, "If the address is registered and unverified, a verification email has been sent.", statusSuccess)
}

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ForgotPassword(r.Context(), r.FormValue("email"))
	if !h.done(w, r, "forgot_password", err) {
		return
	}

	writeMessage(w, "If the address is registered, a password reset email has been sent.", statusSuccess)
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ResetPassword(r.Context(), r.FormValue("token"), r.FormValue("newPassword"))
	if !h.done(w, r, "reset_password", err) {
		return
	}

	writeMessage(w, "Password reset successfully!", statusSuccess)
}

// ChangePassword требует principal (RequireAuth).
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())

	var in ChangePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, badRequest())
		return
	}

	err := h.svc.ChangePassword(r.Context(), p.Username, in.CurrentPassword, in.NewPassword)
	if !h.done(w, r, "change_password", err) {
		return
	}

	writeMessage(w, "Password changed successfully!", statusSuccess)
}

// Me возвращает principal текущего запроса (RequireAuth).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, userFromPrincipal(p))
}

func (h *Handlers) CheckUsername(w http.ResponseWriter, r *http.Request) {
	free, err := h.svc.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if free {
		writeMessage(w, "Username available", statusAvailable)
		return
	}
	writeMessage(w, "Username already taken", statusTaken)
}

func (h *Handlers) CheckEmail(w http.ResponseWriter, r *http.Request) {
	free, err := h.svc.EmailAvailable(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if free {
		writeMessage(w, "Email available", statusAvailable)
		return
	}
	writeMessage(w, "Email already registered", statusTaken)
}
