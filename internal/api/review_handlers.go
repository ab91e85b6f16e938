package api

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
)

// setReviewOwner makes the author the current user and takes the tour from
// the nested route when the body does not name one.
func setReviewOwner(r *http.Request, rv *model.Review) {
	if user := middleware.GetUserFromContext(r.Context()); user != nil {
		rv.UserID = user.ID
	}
	if rv.TourID == "" {
		rv.TourID = chi.URLParam(r, "tourId")
	}
}

// GetAllReviews godoc
// @Summary List reviews
// @Description Lists all reviews, or the reviews of one tour when nested under /tours/{tourId}
// @Tags Reviews
// @Produce json
// @Param rating query string false "Filter, e.g. rating[gte]=4"
// @Success 200 {object} map[string]interface{}
// @Router /reviews [get]
// @Router /tours/{tourId}/reviews [get]
func (h *Handler) GetAllReviews(w http.ResponseWriter, r *http.Request) { h.Reviews.GetAll(w, r) }

// GetReview godoc
// @Summary Get a review
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apperror.Body
// @Router /reviews/{id} [get]
func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) { h.Reviews.GetOne(w, r) }

// CreateReview godoc
// @Summary Review a tour
// @Description One review per user and tour. The tour's rating summary is recomputed.
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.Review true "Review"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} apperror.Body
// @Router /reviews [post]
// @Router /tours/{tourId}/reviews [post]
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) { h.Reviews.CreateOne(w, r) }

// UpdateReview godoc
// @Summary Update a review
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param request body model.Review true "Fields to change"
// @Success 200 {object} map[string]interface{}
// @Router /reviews/{id} [patch]
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) { h.Reviews.UpdateOne(w, r) }

// DeleteReview godoc
// @Summary Delete a review
// @Tags Reviews
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Success 204
// @Router /reviews/{id} [delete]
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) { h.Reviews.DeleteOne(w, r) }
