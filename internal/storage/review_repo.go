package storage

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/natours/internal/apifeatures"
	"github.com/natours/internal/model"
)

var reviewColumns = []string{"id", "review", "rating", "tour_id", "user_id", "version", "created_at"}

var reviewSchema = apifeatures.Schema{
	"id":        {Column: "id", Kind: apifeatures.UUID},
	"rating":    {Column: "rating", Kind: apifeatures.Number},
	"tour":      {Column: "tour_id", Kind: apifeatures.UUID},
	"user":      {Column: "user_id", Kind: apifeatures.UUID},
	"createdAt": {Column: "created_at", Kind: apifeatures.Time},
}

// ReviewRepository stores reviews and keeps each tour's rating summary in
// step with its reviews.
type ReviewRepository struct {
	db *Database
}

func NewReviewRepository(db *Database) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Schema() apifeatures.Schema { return reviewSchema }

func (r *ReviewRepository) BaseQuery() sq.SelectBuilder {
	return psql.Select(reviewColumns...).From("reviews")
}

func (r *ReviewRepository) Select(ctx context.Context, q sq.SelectBuilder) ([]*model.Review, error) {
	reviews, err := selectAll[model.Review](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reviews")
	}
	return reviews, nil
}

func (r *ReviewRepository) FindByID(ctx context.Context, id string, _ ...string) (*model.Review, error) {
	review, err := getOne[model.Review](ctx, r.db, r.BaseQuery().Where(sq.Eq{"id": id}))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find review")
	}
	return review, nil
}

func (r *ReviewRepository) Create(ctx context.Context, rv *model.Review) (*model.Review, error) {
	var created model.Review
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		q := psql.Insert("reviews").
			SetMap(map[string]interface{}{
				"review":  rv.Review,
				"rating":  rv.Rating,
				"tour_id": rv.TourID,
				"user_id": rv.UserID,
			}).
			Suffix("RETURNING " + strings.Join(reviewColumns, ", "))
		if err := queryRow(ctx, tx, q, &created); err != nil {
			return err
		}
		return recalcRatings(ctx, tx, created.TourID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create review")
	}
	return &created, nil
}

func (r *ReviewRepository) Update(ctx context.Context, id string, rv *model.Review) (*model.Review, error) {
	var updated model.Review
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var previousTour string
		if err := tx.GetContext(ctx, &previousTour, `SELECT tour_id FROM reviews WHERE id = $1 FOR UPDATE`, id); err != nil {
			return err
		}
		q := psql.Update("reviews").
			SetMap(map[string]interface{}{
				"review":  rv.Review,
				"rating":  rv.Rating,
				"tour_id": rv.TourID,
				"user_id": rv.UserID,
			}).
			Set("version", sq.Expr("version + 1")).
			Where(sq.Eq{"id": id}).
			Suffix("RETURNING " + strings.Join(reviewColumns, ", "))
		if err := queryRow(ctx, tx, q, &updated); err != nil {
			return err
		}
		if previousTour != updated.TourID {
			if err := recalcRatings(ctx, tx, previousTour); err != nil {
				return err
			}
		}
		return recalcRatings(ctx, tx, updated.TourID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update review")
	}
	return &updated, nil
}

func (r *ReviewRepository) Delete(ctx context.Context, id string) error {
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var tourID string
		if err := tx.GetContext(ctx, &tourID, `DELETE FROM reviews WHERE id = $1 RETURNING tour_id`, id); err != nil {
			return err
		}
		return recalcRatings(ctx, tx, tourID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return errors.Wrap(err, "failed to delete review")
	}
	return nil
}

// recalcRatings recomputes a tour's review count and average. A tour with
// no reviews falls back to the default average.
func recalcRatings(ctx context.Context, tx *sqlx.Tx, tourID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tours SET
			ratings_quantity = s.quantity,
			ratings_average = COALESCE(ROUND(s.average::numeric, 1)::double precision, $2)
		FROM (SELECT count(*) AS quantity, avg(rating) AS average FROM reviews WHERE tour_id = $1) s
		WHERE tours.id = $1`,
		tourID, model.DefaultRatingsAverage)
	return errors.Wrap(err, "failed to update tour ratings")
}
