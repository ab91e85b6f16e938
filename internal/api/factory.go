package api

import (
	"context"
	"errors"
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/natours/internal/apifeatures"
	"github.com/natours/internal/apperror"
	"github.com/natours/internal/model"
	"github.com/natours/internal/storage"
)

const notFoundMessage = "No document found with that ID"

// Store is the persistence contract behind a Resource. Missing rows are
// reported as storage.ErrNotFound.
type Store[T model.Document] interface {
	Schema() apifeatures.Schema
	BaseQuery() sq.SelectBuilder
	Select(ctx context.Context, q sq.SelectBuilder) ([]T, error)
	FindByID(ctx context.Context, id string, expand ...string) (T, error)
	Create(ctx context.Context, doc T) (T, error)
	Update(ctx context.Context, id string, doc T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Resource serves list, get, create, update and delete for one entity type
// with the standard response envelope.
type Resource[T model.Document] struct {
	store        Store[T]
	newDoc       func() T
	errors       *apperror.Responder
	expand       []string
	parentParam  string
	parentColumn string
	prepare      func(r *http.Request, doc T)
}

type ResourceOption[T model.Document] func(*Resource[T])

// WithExpand loads the named relations on get-one.
func WithExpand[T model.Document](relations ...string) ResourceOption[T] {
	return func(rs *Resource[T]) { rs.expand = relations }
}

// WithParent scopes list requests to column = {param} when the route
// carries param.
func WithParent[T model.Document](param, column string) ResourceOption[T] {
	return func(rs *Resource[T]) {
		rs.parentParam = param
		rs.parentColumn = column
	}
}

// WithPrepare fills server-side fields on a decoded document before create.
func WithPrepare[T model.Document](fn func(r *http.Request, doc T)) ResourceOption[T] {
	return func(rs *Resource[T]) { rs.prepare = fn }
}

func NewResource[T model.Document](store Store[T], newDoc func() T, errs *apperror.Responder, opts ...ResourceOption[T]) *Resource[T] {
	rs := &Resource[T]{store: store, newDoc: newDoc, errors: errs}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

func (rs *Resource[T]) GetAll(w http.ResponseWriter, r *http.Request) {
	base := rs.store.BaseQuery()
	if rs.parentParam != "" {
		if parentID := chi.URLParam(r, rs.parentParam); parentID != "" {
			if err := validateID(rs.parentParam, parentID); err != nil {
				rs.errors.Respond(w, r, err)
				return
			}
			base = base.Where(sq.Eq{rs.parentColumn: parentID})
		}
	}

	features := apifeatures.New(base, r.URL.Query(), rs.store.Schema()).
		Filter().
		Sort().
		Project().
		Paginate()
	if err := features.Err(); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}

	docs, err := rs.store.Select(r.Context(), features.Query())
	if err != nil {
		rs.errors.Respond(w, r, err)
		return
	}

	projected, err := apifeatures.ApplyAll(features.Projection(), docs)
	if err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	respondList(w, projected)
}

func (rs *Resource[T]) GetOne(w http.ResponseWriter, r *http.Request) {
	rs.serveOne(w, r, chi.URLParam(r, "id"))
}

func (rs *Resource[T]) serveOne(w http.ResponseWriter, r *http.Request, id string) {
	if err := validateID("id", id); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	doc, err := rs.store.FindByID(r.Context(), id, rs.expand...)
	if err != nil {
		rs.errors.Respond(w, r, notFound(err))
		return
	}
	respondData(w, http.StatusOK, doc)
}

func (rs *Resource[T]) CreateOne(w http.ResponseWriter, r *http.Request) {
	doc := rs.newDoc()
	if err := decodeJSON(r, doc); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	if rs.prepare != nil {
		rs.prepare(r, doc)
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}

	created, err := rs.store.Create(r.Context(), doc)
	if err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, created)
}

// UpdateOne applies the request body on top of the stored document and
// re-validates the result before saving it.
func (rs *Resource[T]) UpdateOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID("id", id); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}

	doc, err := rs.store.FindByID(r.Context(), id)
	if err != nil {
		rs.errors.Respond(w, r, notFound(err))
		return
	}
	if err := decodeJSON(r, doc); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}

	updated, err := rs.store.Update(r.Context(), id, doc)
	if err != nil {
		rs.errors.Respond(w, r, notFound(err))
		return
	}
	respondData(w, http.StatusOK, updated)
}

func (rs *Resource[T]) DeleteOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID("id", id); err != nil {
		rs.errors.Respond(w, r, err)
		return
	}
	if err := rs.store.Delete(r.Context(), id); err != nil {
		rs.errors.Respond(w, r, notFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperror.Cast(field, id)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperror.NotFound(notFoundMessage)
	}
	return err
}
