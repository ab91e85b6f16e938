package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/natours/internal/apperror"
	"github.com/natours/internal/logger"
	"github.com/natours/internal/mailer"
	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
	"github.com/natours/internal/storage"
)

const resetTokenTTL = 10 * time.Minute

// Signup godoc
// @Summary Sign up
// @Description Create a user account with role user and return a session token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body model.SignupRequest true "Signup details"
// @Success 201 {object} model.AuthResponse
// @Failure 400 {object} apperror.Body "Invalid input or duplicate email"
// @Router /users/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	hash, err := middleware.HashPassword(req.Password)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	user := req.User()
	user.Password = hash

	created, err := h.users.Create(r.Context(), user)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	h.createSendToken(w, r, created, http.StatusCreated)
}

// Login godoc
// @Summary Log in
// @Description Exchange email and password for a session token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Login credentials"
// @Success 200 {object} model.AuthResponse
// @Failure 400 {object} apperror.Body "Missing credentials"
// @Failure 401 {object} apperror.Body "Incorrect email or password"
// @Router /users/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.errors.Respond(w, r, apperror.BadRequest("Please provide email and password!"))
		return
	}

	user, err := h.users.FindByEmailWithPassword(r.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.errors.Respond(w, r, err)
		return
	}
	if user == nil || !middleware.CheckPassword(user.Password, req.Password) {
		h.errors.Respond(w, r, apperror.Unauthorized("Incorrect email or password"))
		return
	}
	h.createSendToken(w, r, user, http.StatusOK)
}

// ForgotPassword godoc
// @Summary Request a password reset
// @Description Email a single-use reset link valid for 10 minutes
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body model.ForgotPasswordRequest true "Account email"
// @Success 200 {object} map[string]string
// @Failure 404 {object} apperror.Body "No user with that email"
// @Failure 500 {object} apperror.Body "Email delivery failed"
// @Router /users/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req model.ForgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	user, err := h.users.FindByEmailWithPassword(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperror.NotFound("There is no user with email address.")
		}
		h.errors.Respond(w, r, err)
		return
	}

	token, hash, err := newResetToken()
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if err := h.users.SetResetToken(r.Context(), user.ID, hash, h.now().Add(resetTokenTTL)); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	msg := mailer.PasswordReset(user.Email, resetURL(r, token))
	if err := h.mailer.Send(r.Context(), msg); err != nil {
		if clearErr := h.users.ClearResetToken(r.Context(), user.ID); clearErr != nil {
			logger.FromContext(r.Context()).Error("failed to clear reset token", zap.String("user", user.ID), zap.Error(clearErr))
		}
		h.errors.Respond(w, r, apperror.Delivery("There was an error sending the email. Try again later!", err))
		return
	}

	respondJSON(w, http.StatusOK, envelope{"status": "success", "message": "Token sent to email!"})
}

// ResetPassword godoc
// @Summary Reset password
// @Description Consume a reset token, set a new password and log in
// @Tags Authentication
// @Accept json
// @Produce json
// @Param token path string true "Reset token from the email"
// @Param request body model.ResetPasswordRequest true "New password"
// @Success 200 {object} model.AuthResponse
// @Failure 400 {object} apperror.Body "Token is invalid, or expired"
// @Router /users/reset-password/{token} [patch]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req model.ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	now := h.now()
	hash := hashToken(chi.URLParam(r, "token"))
	user, err := h.users.FindByResetToken(r.Context(), hash, now)
	if err == nil && !user.ResetTokenValid(hash, now) {
		// The store and the handler clock must both agree the link is live.
		err = storage.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperror.BadRequest("Token is invalid, or expired")
		}
		h.errors.Respond(w, r, err)
		return
	}
	if err := model.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	if err := h.setPassword(r, user, req.Password, now); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	h.createSendToken(w, r, user, http.StatusOK)
}

// UpdatePassword godoc
// @Summary Change password
// @Description Rotate the current user's password and issue a fresh token
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.UpdatePasswordRequest true "Current and new password"
// @Success 200 {object} model.AuthResponse
// @Failure 401 {object} apperror.Body "Current password is wrong"
// @Router /users/update-my-password [patch]
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req model.UpdatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	current := middleware.GetUserFromContext(r.Context())
	user, err := h.users.FindByIDWithPassword(r.Context(), current.ID)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if !middleware.CheckPassword(user.Password, req.PasswordCurrent) {
		h.errors.Respond(w, r, apperror.Unauthorized("Your current password is wrong."))
		return
	}
	if err := model.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	if err := h.setPassword(r, user, req.Password, h.now()); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	h.createSendToken(w, r, user, http.StatusOK)
}

// setPassword stores the new hash. The change time is backdated a second so
// a token issued right after it is not treated as stale.
func (h *Handler) setPassword(r *http.Request, user *model.User, password string, now time.Time) error {
	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}
	changedAt := now.Add(-time.Second)
	if err := h.users.UpdatePassword(r.Context(), user.ID, hash, changedAt); err != nil {
		return err
	}
	user.Password = hash
	user.PasswordChangedAt = &changedAt
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil
	return nil
}

func (h *Handler) createSendToken(w http.ResponseWriter, r *http.Request, user *model.User, status int) {
	token, err := h.auth.GenerateToken(user)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	h.auth.SetTokenCookie(w, r, token)

	resp := model.AuthResponse{Status: "success", Token: token}
	resp.Data.User = user
	respondJSON(w, status, resp)
}

// newResetToken returns a random token for the email and its digest for
// storage.
func newResetToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errors.Wrap(err, "generate reset token")
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetURL(r *http.Request, token string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/api/v1/users/reset-password/" + token
}
