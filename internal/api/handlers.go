package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/natours/internal/apperror"
	"github.com/natours/internal/mailer"
	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
	"github.com/natours/internal/storage"
)

// UserStore is the user persistence used by the auth and user handlers.
type UserStore interface {
	Store[*model.User]
	FindByIDWithPassword(ctx context.Context, id string) (*model.User, error)
	FindByEmailWithPassword(ctx context.Context, email string) (*model.User, error)
	FindByResetToken(ctx context.Context, hash string, now time.Time) (*model.User, error)
	Deactivate(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, hash string, expires time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error
}

// TourStore adds the tour aggregates to the generic store.
type TourStore interface {
	Store[*model.Tour]
	Stats(ctx context.Context, minRating float64) ([]*model.TourStats, error)
	MonthlyPlan(ctx context.Context, year int) ([]*model.MonthlyPlan, error)
}

// JobStatus reports the housekeeping scheduler for the health check.
type JobStatus interface {
	IsRunning() bool
	NextRuns() map[string]time.Time
}

// Handler contains all API handlers
type Handler struct {
	users   UserStore
	tours   TourStore
	auth    *middleware.AuthMiddleware
	mailer  mailer.Mailer
	errors  *apperror.Responder
	jobs    JobStatus
	now     func() time.Time

	Tours   *Resource[*model.Tour]
	Users   *Resource[*model.User]
	Reviews *Resource[*model.Review]
}

// NewHandler creates a new API handler. jobs may be nil.
func NewHandler(
	users UserStore,
	tours TourStore,
	reviews Store[*model.Review],
	auth *middleware.AuthMiddleware,
	m mailer.Mailer,
	errs *apperror.Responder,
	jobs JobStatus,
) *Handler {
	return &Handler{
		users:   users,
		tours:   tours,
		auth:    auth,
		mailer:  m,
		errors:  errs,
		jobs:    jobs,
		now:     time.Now,

		Tours: NewResource[*model.Tour](tours, func() *model.Tour { return &model.Tour{} }, errs,
			WithExpand[*model.Tour](storage.ExpandGuides, storage.ExpandReviews)),
		Users: NewResource[*model.User](users, func() *model.User { return &model.User{} }, errs),
		Reviews: NewResource[*model.Review](reviews, func() *model.Review { return &model.Review{} }, errs,
			WithParent[*model.Review]("tourId", "tour_id"),
			WithPrepare(setReviewOwner)),
	}
}

type envelope map[string]interface{}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondData(w http.ResponseWriter, status int, doc interface{}) {
	respondJSON(w, status, envelope{"status": "success", "data": envelope{"data": doc}})
}

func respondList(w http.ResponseWriter, docs []map[string]interface{}) {
	respondJSON(w, http.StatusOK, envelope{
		"status":  "success",
		"results": len(docs),
		"data":    envelope{"data": docs},
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Health godoc
// @Summary Health check
// @Description Check if the API is running and when each housekeeping job runs next
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := envelope{"status": "success", "time": h.now().UTC()}
	if h.jobs != nil {
		body["scheduler"] = h.jobs.IsRunning()
		body["jobs"] = h.jobs.NextRuns()
	}
	respondJSON(w, http.StatusOK, body)
}

// NotFound answers every unmatched route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.errors.Respond(w, r, apperror.NotFound("Can't find "+r.URL.Path+" on this server!"))
}
