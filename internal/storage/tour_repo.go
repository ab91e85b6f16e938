package storage

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/natours/internal/apifeatures"
	"github.com/natours/internal/model"
)

const (
	ExpandGuides  = "guides"
	ExpandReviews = "reviews"
)

var tourColumns = []string{
	"id", "name", "slug", "duration", "max_group_size", "difficulty",
	"ratings_average", "ratings_quantity", "price", "price_discount",
	"summary", "description", "image_cover", "images", "start_dates",
	"secret_tour", "start_location", "locations", "guides", "version", "created_at",
}

var tourSchema = apifeatures.Schema{
	"id":              {Column: "id", Kind: apifeatures.UUID},
	"name":            {Column: "name", Kind: apifeatures.Text},
	"slug":            {Column: "slug", Kind: apifeatures.Text},
	"duration":        {Column: "duration", Kind: apifeatures.Integer},
	"maxGroupSize":    {Column: "max_group_size", Kind: apifeatures.Integer},
	"difficulty":      {Column: "difficulty", Kind: apifeatures.Text},
	"ratingsAverage":  {Column: "ratings_average", Kind: apifeatures.Number},
	"ratingsQuantity": {Column: "ratings_quantity", Kind: apifeatures.Integer},
	"price":           {Column: "price", Kind: apifeatures.Number},
	"priceDiscount":   {Column: "price_discount", Kind: apifeatures.Number},
	"summary":         {Column: "summary", Kind: apifeatures.Text},
	"createdAt":       {Column: "created_at", Kind: apifeatures.Time},
}

// TourRepository stores tours. Secret tours are invisible to every read,
// update, delete and aggregate.
type TourRepository struct {
	db *Database
}

func NewTourRepository(db *Database) *TourRepository {
	return &TourRepository{db: db}
}

func (r *TourRepository) Schema() apifeatures.Schema { return tourSchema }

func (r *TourRepository) BaseQuery() sq.SelectBuilder {
	return psql.Select(tourColumns...).From("tours").Where(sq.Eq{"secret_tour": false})
}

func (r *TourRepository) Select(ctx context.Context, q sq.SelectBuilder) ([]*model.Tour, error) {
	tours, err := selectAll[model.Tour](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tours")
	}
	return tours, nil
}

func (r *TourRepository) FindByID(ctx context.Context, id string, expand ...string) (*model.Tour, error) {
	tour, err := getOne[model.Tour](ctx, r.db, r.BaseQuery().Where(sq.Eq{"id": id}))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find tour")
	}

	for _, e := range expand {
		switch e {
		case ExpandGuides:
			if tour.GuideDetails, err = r.guides(ctx, tour.Guides); err != nil {
				return nil, err
			}
		case ExpandReviews:
			q := psql.Select(reviewColumns...).From("reviews").
				Where(sq.Eq{"tour_id": tour.ID}).
				OrderBy("created_at DESC")
			if tour.Reviews, err = selectAll[model.Review](ctx, r.db, q); err != nil {
				return nil, errors.Wrap(err, "failed to load tour reviews")
			}
		}
	}
	return tour, nil
}

func (r *TourRepository) guides(ctx context.Context, ids pq.StringArray) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	q := psql.Select(userColumns...).From("users").
		Where(sq.Eq{"active": true}).
		Where("id = ANY(?::uuid[])", pq.Array([]string(ids))).
		OrderByClause("array_position(?::uuid[], id)", pq.Array([]string(ids)))
	users, err := selectAll[model.User](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tour guides")
	}
	return users, nil
}

func tourValues(t *model.Tour) map[string]interface{} {
	return map[string]interface{}{
		"name":             t.Name,
		"slug":             t.Slug,
		"duration":         t.Duration,
		"max_group_size":   t.MaxGroupSize,
		"difficulty":       string(t.Difficulty),
		"ratings_average":  t.RatingsAverage,
		"ratings_quantity": t.RatingsQuantity,
		"price":            t.Price,
		"price_discount":   t.PriceDiscount,
		"summary":          t.Summary,
		"description":      t.Description,
		"image_cover":      t.ImageCover,
		"images":           t.Images,
		"start_dates":      t.StartDates,
		"secret_tour":      t.SecretTour,
		"start_location":   t.StartLocation,
		"locations":        t.Locations,
		"guides":           t.Guides,
	}
}

func (r *TourRepository) Create(ctx context.Context, t *model.Tour) (*model.Tour, error) {
	q := psql.Insert("tours").
		SetMap(tourValues(t)).
		Suffix("RETURNING " + strings.Join(tourColumns, ", "))

	var created model.Tour
	if err := queryRow(ctx, r.db, q, &created); err != nil {
		return nil, errors.Wrap(err, "failed to create tour")
	}
	return &created, nil
}

func (r *TourRepository) Update(ctx context.Context, id string, t *model.Tour) (*model.Tour, error) {
	q := psql.Update("tours").
		SetMap(tourValues(t)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "secret_tour": false}).
		Suffix("RETURNING " + strings.Join(tourColumns, ", "))

	var updated model.Tour
	if err := queryRow(ctx, r.db, q, &updated); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to update tour")
	}
	return &updated, nil
}

func (r *TourRepository) Delete(ctx context.Context, id string) error {
	n, err := exec(ctx, r.db, psql.Delete("tours").Where(sq.Eq{"id": id, "secret_tour": false}))
	if err != nil {
		return errors.Wrap(err, "failed to delete tour")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats groups tours rated at least minRating by difficulty, cheapest
// average price first.
func (r *TourRepository) Stats(ctx context.Context, minRating float64) ([]*model.TourStats, error) {
	q := psql.Select(
		"upper(difficulty) AS difficulty",
		"count(*) AS num_tours",
		"coalesce(sum(ratings_quantity), 0) AS num_ratings",
		"avg(ratings_average) AS avg_rating",
		"avg(price) AS avg_price",
		"min(price) AS min_price",
		"max(price) AS max_price",
	).
		From("tours").
		Where(sq.Eq{"secret_tour": false}).
		Where(sq.GtOrEq{"ratings_average": minRating}).
		GroupBy("upper(difficulty)").
		OrderBy("avg_price ASC")

	stats, err := selectAll[model.TourStats](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute tour stats")
	}
	return stats, nil
}

// MonthlyPlan counts tour starts per month of year, busiest month first.
func (r *TourRepository) MonthlyPlan(ctx context.Context, year int) ([]*model.MonthlyPlan, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	q := psql.Select(
		"EXTRACT(MONTH FROM (sd.value)::timestamptz AT TIME ZONE 'UTC')::int AS month",
		"count(*) AS num_tour_starts",
		"array_agg(t.name ORDER BY t.name) AS tours",
	).
		From("tours t, jsonb_array_elements_text(t.start_dates) AS sd(value)").
		Where(sq.Eq{"t.secret_tour": false}).
		Where("(sd.value)::timestamptz >= ?", from).
		Where("(sd.value)::timestamptz < ?", to).
		GroupBy("month").
		OrderBy("num_tour_starts DESC", "month ASC").
		Limit(12)

	plan, err := selectAll[model.MonthlyPlan](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute monthly plan")
	}
	return plan, nil
}
