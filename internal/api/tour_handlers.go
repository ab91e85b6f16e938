package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/natours/internal/apperror"
	"github.com/natours/internal/model"
)

const topToursMinRating = 4.5

// AliasTopTours presets the query for the five best and cheapest tours.
func AliasTopTours(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		q.Set("limit", "5")
		q.Set("sort", "-ratingsAverage,price")
		q.Set("fields", "name,price,ratingsAverage,summary,difficulty")
		r.URL.RawQuery = q.Encode()
		next.ServeHTTP(w, r)
	})
}

// GetAllTours godoc
// @Summary List tours
// @Description Filter with field=value or field[gte|gt|lte|lt]=value, sort=-price,duration, fields=name,price, page and limit
// @Tags Tours
// @Produce json
// @Param sort query string false "Comma separated sort fields, - for descending"
// @Param fields query string false "Comma separated projection"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apperror.Body
// @Router /tours [get]
func (h *Handler) GetAllTours(w http.ResponseWriter, r *http.Request) { h.Tours.GetAll(w, r) }

// GetTour godoc
// @Summary Get a tour with its guides and reviews
// @Tags Tours
// @Produce json
// @Param id path string true "Tour ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apperror.Body
// @Router /tours/{id} [get]
func (h *Handler) GetTour(w http.ResponseWriter, r *http.Request) { h.Tours.GetOne(w, r) }

// CreateTour godoc
// @Summary Create a tour
// @Tags Tours
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.Tour true "Tour"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} apperror.Body
// @Failure 403 {object} apperror.Body
// @Router /tours [post]
func (h *Handler) CreateTour(w http.ResponseWriter, r *http.Request) { h.Tours.CreateOne(w, r) }

// UpdateTour godoc
// @Summary Update a tour
// @Tags Tours
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Tour ID"
// @Param request body model.Tour true "Fields to change"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apperror.Body
// @Router /tours/{id} [patch]
func (h *Handler) UpdateTour(w http.ResponseWriter, r *http.Request) { h.Tours.UpdateOne(w, r) }

// DeleteTour godoc
// @Summary Delete a tour
// @Tags Tours
// @Security BearerAuth
// @Param id path string true "Tour ID"
// @Success 204
// @Failure 404 {object} apperror.Body
// @Router /tours/{id} [delete]
func (h *Handler) DeleteTour(w http.ResponseWriter, r *http.Request) { h.Tours.DeleteOne(w, r) }

// GetTourStats godoc
// @Summary Tour statistics by difficulty
// @Description Aggregates tours rated 4.5 or better, ordered by average price
// @Tags Tours
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /tours/tour-stats [get]
func (h *Handler) GetTourStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tours.Stats(r.Context(), topToursMinRating)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if stats == nil {
		stats = []*model.TourStats{}
	}
	respondJSON(w, http.StatusOK, envelope{"status": "success", "data": envelope{"stats": stats}})
}

// GetMonthlyPlan godoc
// @Summary Tour starts per month
// @Tags Tours
// @Produce json
// @Security BearerAuth
// @Param year path int true "Calendar year"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apperror.Body
// @Router /tours/monthly-plan/{year} [get]
func (h *Handler) GetMonthlyPlan(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		h.errors.Respond(w, r, apperror.Cast("year", raw))
		return
	}

	plan, err := h.tours.MonthlyPlan(r.Context(), year)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if plan == nil {
		plan = []*model.MonthlyPlan{}
	}
	respondJSON(w, http.StatusOK, envelope{"status": "success", "results": len(plan), "data": envelope{"plan": plan}})
}
