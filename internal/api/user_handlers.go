package api

import (
	"net/http"

	"github.com/natours/internal/apperror"
	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
)

// GetMe godoc
// @Summary Current user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} apperror.Body
// @Router /users/me [get]
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	h.Users.serveOne(w, r, user.ID)
}

// UpdateMe godoc
// @Summary Update current user
// @Description Change name, email or photo. Password changes go through update-my-password.
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.UpdateMeRequest true "Fields to change"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apperror.Body
// @Router /users/update-me [patch]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if req.Password != nil || req.PasswordConfirm != nil {
		h.errors.Respond(w, r, apperror.BadRequest("This route is not for password updates. Please use /update-my-password."))
		return
	}

	current := middleware.GetUserFromContext(r.Context())
	user := *current
	req.Apply(&user)
	user.Normalize()
	if err := user.Validate(); err != nil {
		h.errors.Respond(w, r, err)
		return
	}

	updated, err := h.users.Update(r.Context(), current.ID, &user)
	if err != nil {
		h.errors.Respond(w, r, notFound(err))
		return
	}
	respondJSON(w, http.StatusOK, envelope{"status": "success", "data": envelope{"user": updated}})
}

// DeleteMe godoc
// @Summary Deactivate current user
// @Tags Users
// @Security BearerAuth
// @Success 204
// @Router /users/delete-me [delete]
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if err := h.users.Deactivate(r.Context(), user.ID); err != nil {
		h.errors.Respond(w, r, notFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser godoc
// @Summary Not available
// @Description Accounts are created through signup.
// @Tags Users
// @Security BearerAuth
// @Failure 500 {object} apperror.Body
// @Router /users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	h.errors.Respond(w, r, apperror.Internal("This route is not defined! Please use /signup instead"))
}
