package storage

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natours/internal/model"
)

func newMockDB(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Database{DB: sqlx.NewDb(db, "postgres")}, mock
}

func tourRow(id, name string) []driver.Value {
	return []driver.Value{
		id, name, model.Slugify(name), int64(5), int64(25), "easy",
		4.7, int64(3), 397.0, nil,
		"Breathtaking hike", "", "tour-1-cover.jpg", []byte("{tour-1-1.jpg,tour-1-2.jpg}"), []byte(`["2021-04-25T09:00:00Z","2021-07-20T09:00:00Z"]`),
		false, []byte(`{"type":"Point","coordinates":[-115.57,51.17],"description":"Banff, CAN"}`), []byte("[]"), []byte("{}"), int64(0), time.Now(),
	}
}

func TestTourFindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTourRepository(db)

	mock.ExpectQuery(`SELECT id, name, .+ FROM tours WHERE secret_tour = \$1 AND id = \$2`).
		WithArgs(false, "t1").
		WillReturnRows(sqlmock.NewRows(tourColumns).AddRow(tourRow("t1", "The Forest Hiker")...))
	mock.ExpectQuery(`SELECT id, review, rating, tour_id, user_id, version, created_at FROM reviews WHERE tour_id = \$1 ORDER BY created_at DESC`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(reviewColumns).
			AddRow("r1", "Amazing", 5.0, "t1", "u1", int64(0), time.Now()))

	tour, err := repo.FindByID(context.Background(), "t1", ExpandReviews)
	require.NoError(t, err)
	assert.Equal(t, "the-forest-hiker", tour.Slug)
	assert.Equal(t, 5, tour.Duration)
	assert.Nil(t, tour.PriceDiscount)
	require.NotNil(t, tour.StartLocation)
	assert.Equal(t, "Banff, CAN", tour.StartLocation.Description)
	assert.Len(t, tour.Images, 2)
	assert.Len(t, tour.StartDates, 2)
	require.Len(t, tour.Reviews, 1)
	assert.Equal(t, "u1", tour.Reviews[0].UserID)
}

func TestTourFindByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTourRepository(db)

	mock.ExpectQuery(`FROM tours WHERE secret_tour = \$1 AND id = \$2`).
		WithArgs(false, "missing").
		WillReturnRows(sqlmock.NewRows(tourColumns))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTourDeleteNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTourRepository(db)

	mock.ExpectExec(`DELETE FROM tours WHERE id = \$1 AND secret_tour = \$2`).
		WithArgs("t1", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "t1"), ErrNotFound)
}

func TestTourStats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTourRepository(db)

	cols := []string{"difficulty", "num_tours", "num_ratings", "avg_rating", "avg_price", "min_price", "max_price"}
	mock.ExpectQuery(`FROM tours WHERE secret_tour = \$1 AND ratings_average >= \$2 GROUP BY upper\(difficulty\) ORDER BY avg_price ASC`).
		WithArgs(false, 4.5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("EASY", int64(4), int64(24), 4.7, 1272.0, 397.0, 1997.0).
			AddRow("MEDIUM", int64(3), int64(18), 4.8, 1663.0, 497.0, 2997.0))

	stats, err := repo.Stats(context.Background(), 4.5)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "EASY", stats[0].Difficulty)
	assert.Equal(t, 24, stats[0].NumRatings)
}

func TestTourMonthlyPlan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTourRepository(db)

	from := time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM tours t, jsonb_array_elements_text\(t.start_dates\) AS sd\(value\) WHERE t.secret_tour = \$1 .+ GROUP BY month ORDER BY num_tour_starts DESC, month ASC LIMIT 12`).
		WithArgs(false, from, from.AddDate(1, 0, 0)).
		WillReturnRows(sqlmock.NewRows([]string{"month", "num_tour_starts", "tours"}).
			AddRow(int64(7), int64(3), []byte("{\"The Sea Explorer\",\"The Park Camper\",\"The Sports Lover\"}")))

	plan, err := repo.MonthlyPlan(context.Background(), 2021)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 7, plan[0].Month)
	assert.Equal(t, 3, plan[0].NumTourStarts)
	assert.Equal(t, "The Park Camper", plan[0].Tours[1])
}

func TestUserFindByEmailWithPassword(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	cols := append(append([]string{}, userColumns...), "password", "password_reset_token", "password_reset_expires")
	mock.ExpectQuery(`SELECT id, name, email, .+, password, password_reset_token, password_reset_expires FROM users WHERE active = \$1 AND email = \$2`).
		WithArgs(true, "a@b.com").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "A", "a@b.com", "default.jpg", "user", nil, true, int64(0), time.Now(), "$2a$12$hash", nil, nil))

	user, err := repo.FindByEmailWithPassword(context.Background(), "  A@B.com ")
	require.NoError(t, err)
	assert.Equal(t, "$2a$12$hash", user.Password)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Nil(t, user.PasswordChangedAt)
}

func TestUserFindByResetTokenChecksExpiry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := append(append([]string{}, userColumns...), "password", "password_reset_token", "password_reset_expires")
	query := `SELECT id, name, email, .+ FROM users WHERE active = \$1 AND \(?password_reset_token = \$2 AND password_reset_expires > \$3\)?`

	mock.ExpectQuery(query).
		WithArgs(true, "hash", now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "A", "a@b.com", "default.jpg", "user", nil, true, int64(0), now, "$2a$12$hash", "hash", now.Add(5*time.Minute)))
	user, err := repo.FindByResetToken(context.Background(), "hash", now)
	require.NoError(t, err)
	require.NotNil(t, user.PasswordResetExpires)
	assert.True(t, user.ResetTokenValid("hash", now))

	mock.ExpectQuery(query).
		WithArgs(true, "hash", now.Add(11*time.Minute)).
		WillReturnRows(sqlmock.NewRows(cols))
	_, err = repo.FindByResetToken(context.Background(), "hash", now.Add(11*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserReadsNeverSelectPassword(t *testing.T) {
	repo := &UserRepository{}
	query, args, err := repo.BaseQuery().ToSql()
	require.NoError(t, err)
	assert.NotContains(t, query, "password,")
	assert.NotContains(t, query, "password_reset")
	assert.Contains(t, query, "WHERE active = $1")
	assert.Equal(t, []interface{}{true}, args)
}

func TestUserDeactivateNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`UPDATE users SET active = \$1 WHERE active = \$2 AND id = \$3`).
		WithArgs(false, true, "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Deactivate(context.Background(), "u1"), ErrNotFound)
}

func TestUserClearExpiredResetTokens(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectExec(`UPDATE users SET password_reset_token = \$1, password_reset_expires = \$2 WHERE password_reset_token IS NOT NULL AND password_reset_expires < \$3`).
		WithArgs(nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ClearExpiredResetTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReviewDeleteRecalculatesRatings(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM reviews WHERE id = \$1 RETURNING tour_id`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"tour_id"}).AddRow("t1"))
	mock.ExpectExec(`UPDATE tours SET`).
		WithArgs("t1", model.DefaultRatingsAverage).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "r1"))
}

func TestReviewDeleteNotFoundRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM reviews WHERE id = \$1 RETURNING tour_id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tour_id"}))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), ErrNotFound)
}

func TestReviewCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReviewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO reviews \(rating,review,tour_id,user_id\) VALUES \(\$1,\$2,\$3,\$4\) RETURNING id, review`).
		WithArgs(4.0, "Lovely", "t1", "u1").
		WillReturnRows(sqlmock.NewRows(reviewColumns).
			AddRow("r1", "Lovely", 4.0, "t1", "u1", int64(0), time.Now()))
	mock.ExpectExec(`UPDATE tours SET`).
		WithArgs("t1", model.DefaultRatingsAverage).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), &model.Review{Review: "Lovely", Rating: 4, TourID: "t1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", created.ID)
}
