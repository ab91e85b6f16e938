package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/natours/internal/apifeatures"
	"github.com/natours/internal/apperror"
	"github.com/natours/internal/config"
	"github.com/natours/internal/mailer"
	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
	"github.com/natours/internal/storage"
)

// memStore is an in-memory Store. Select ignores the query beyond recording
// it, so tests assert on the SQL that would have run.
type memStore[T model.Document] struct {
	mu        sync.Mutex
	docs      map[string]T
	order     []string
	id        func(T) *string
	schema    apifeatures.Schema
	base      sq.SelectBuilder
	lastQuery sq.SelectBuilder
}

func newMemStore[T model.Document](id func(T) *string, schema apifeatures.Schema, base sq.SelectBuilder) *memStore[T] {
	return &memStore[T]{docs: map[string]T{}, id: id, schema: schema, base: base}
}

func (m *memStore[T]) Schema() apifeatures.Schema  { return m.schema }
func (m *memStore[T]) BaseQuery() sq.SelectBuilder { return m.base }

func (m *memStore[T]) Select(_ context.Context, q sq.SelectBuilder) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	out := make([]T, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.docs[id])
	}
	return out, nil
}

func (m *memStore[T]) FindByID(_ context.Context, id string, _ ...string) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		var zero T
		return zero, storage.ErrNotFound
	}
	return doc, nil
}

func (m *memStore[T]) Create(_ context.Context, doc T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id(doc)
	if *id == "" {
		*id = uuid.NewString()
	}
	m.docs[*id] = doc
	m.order = append(m.order, *id)
	return doc, nil
}

func (m *memStore[T]) Update(_ context.Context, id string, doc T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		var zero T
		return zero, storage.ErrNotFound
	}
	m.docs[id] = doc
	return doc, nil
}

func (m *memStore[T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.docs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore[T]) query(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sql, _, err := m.lastQuery.ToSql()
	require.NoError(t, err)
	return sql
}

type memUsers struct {
	*memStore[*model.User]
}

func (m *memUsers) active(id string) (*model.User, error) {
	u, err := m.memStore.FindByID(context.Background(), id)
	if err != nil || !u.Active {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindByID(_ context.Context, id string, _ ...string) (*model.User, error) {
	return m.active(id)
}

func (m *memUsers) FindByIDWithPassword(_ context.Context, id string) (*model.User, error) {
	return m.active(id)
}

func (m *memUsers) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if _, err := m.FindByEmailWithPassword(ctx, u.Email); err == nil {
		return nil, &pq.Error{Code: "23505", Detail: "Key (email)=(" + u.Email + ") already exists."}
	}
	return m.memStore.Create(ctx, u)
}

func (m *memUsers) FindByEmailWithPassword(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.docs {
		if u.Email == email && u.Active {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

// FindByResetToken matches on the hash only and leaves expiry to the handler.
func (m *memUsers) FindByResetToken(_ context.Context, hash string, _ time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.docs {
		if u.Active && u.PasswordResetToken != nil && *u.PasswordResetToken == hash {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) Deactivate(_ context.Context, id string) error {
	u, err := m.active(id)
	if err != nil {
		return err
	}
	u.Active = false
	return nil
}

func (m *memUsers) SetResetToken(_ context.Context, id, hash string, expires time.Time) error {
	u, err := m.active(id)
	if err != nil {
		return err
	}
	u.PasswordResetToken = &hash
	u.PasswordResetExpires = &expires
	return nil
}

func (m *memUsers) ClearResetToken(_ context.Context, id string) error {
	u, err := m.active(id)
	if err != nil {
		return err
	}
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string, changedAt time.Time) error {
	u, err := m.active(id)
	if err != nil {
		return err
	}
	u.Password = hash
	u.PasswordChangedAt = &changedAt
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	return nil
}

type memTours struct {
	*memStore[*model.Tour]
	stats    []*model.TourStats
	planYear int
}

func (m *memTours) Stats(_ context.Context, minRating float64) ([]*model.TourStats, error) {
	return m.stats, nil
}

func (m *memTours) MonthlyPlan(_ context.Context, year int) ([]*model.MonthlyPlan, error) {
	m.planYear = year
	return []*model.MonthlyPlan{{Month: 7, NumTourStarts: 2, Tours: pq.StringArray{"The Forest Hiker", "The Sea Explorer"}}}, nil
}

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeJobs struct{ next time.Time }

func (f fakeJobs) IsRunning() bool { return true }

func (f fakeJobs) NextRuns() map[string]time.Time {
	return map[string]time.Time{"clear-expired-reset-tokens": f.next}
}

type testServer struct {
	handler http.Handler
	h       *Handler
	errs    *apperror.Responder
	log     *zap.Logger
	auth    *middleware.AuthMiddleware
	users   *memUsers
	tours   *memTours
	reviews *memStore[*model.Review]
	mailer  *fakeMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	middleware.BcryptCost = bcrypt.MinCost

	log := zaptest.NewLogger(t)
	errs := &apperror.Responder{Log: log}
	cfg := &config.Config{
		Env: config.EnvProduction,
		JWT: config.JWTConfig{Secret: "test-secret", ExpiresIn: time.Hour, CookieExpiresIn: 24 * time.Hour},
	}

	userRepo := storage.NewUserRepository(nil)
	tourRepo := storage.NewTourRepository(nil)
	reviewRepo := storage.NewReviewRepository(nil)

	s := &testServer{
		users: &memUsers{newMemStore(func(u *model.User) *string { return &u.ID }, userRepo.Schema(), userRepo.BaseQuery())},
		tours: &memTours{memStore: newMemStore(func(t *model.Tour) *string { return &t.ID }, tourRepo.Schema(), tourRepo.BaseQuery())},
		reviews: newMemStore(func(r *model.Review) *string { return &r.ID },
			reviewRepo.Schema(), reviewRepo.BaseQuery()),
		mailer: &fakeMailer{},
	}
	s.auth = middleware.NewAuthMiddleware(cfg, s.users, errs)
	s.errs, s.log = errs, log
	s.h = NewHandler(s.users, s.tours, s.reviews, s.auth, s.mailer, errs,
		fakeJobs{next: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)})
	s.handler = NewRouter(s.h, RouterConfig{Auth: s.auth, Log: log, BodyLimit: 10 * 1024})
	return s
}

func (s *testServer) addUser(t *testing.T, email, password string, role model.Role) (*model.User, string) {
	t.Helper()
	hash, err := middleware.HashPassword(password)
	require.NoError(t, err)
	u := &model.User{Name: "Test User", Email: email, Role: role, Photo: model.DefaultPhoto, Password: hash, Active: true}
	_, err = s.users.Create(context.Background(), u)
	require.NoError(t, err)
	token, err := s.auth.GenerateToken(u)
	require.NoError(t, err)
	return u, token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "missing data in %v", body)
	return d
}

func validTour() map[string]interface{} {
	return map[string]interface{}{
		"name":         "The Forest Hiker",
		"duration":     14,
		"maxGroupSize": 10,
		"difficulty":   "easy",
		"price":        497,
		"summary":      "Breathtaking hike through the Canadian Banff National Park",
		"imageCover":   "tour-1-cover.jpg",
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["scheduler"])
	assert.Equal(t, map[string]interface{}{"clear-expired-reset-tokens": "2026-01-01T00:10:00Z"}, body["jobs"])
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	count := func(trustProxy bool) int {
		s := newTestServer(t)
		handler := NewRouter(s.h, RouterConfig{
			Auth:        s.auth,
			RateLimiter: middleware.NewRateLimiter(3, time.Hour, s.errs),
			Log:         s.log,
			TrustProxy:  trustProxy,
		})
		blocked := 0
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			req.RemoteAddr = "203.0.113.7:5000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code == http.StatusTooManyRequests {
				blocked++
			}
		}
		return blocked
	}

	assert.Equal(t, 7, count(false))
	assert.Equal(t, 0, count(true))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "fail", body["status"])
	assert.Equal(t, "Can't find /api/v1/nope on this server!", body["message"])
}

func TestSignup(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name":            "Jonas",
		"email":           " Jonas@Example.com ",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
		"role":            "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["token"])

	user := data(t, body)["user"].(map[string]interface{})
	assert.Equal(t, "jonas@example.com", user["email"])
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, rec.Body.String(), "password")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookie, cookies[0].Name)
	assert.Equal(t, body["token"], cookies[0].Value)

	rec, body = s.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name": "Jonas", "email": "jonas@example.com", "password": "pass1234", "passwordConfirm": "pass1234",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Duplicate field value: jonas@example.com. Please use another value!", body["message"])
}

func TestSignupValidation(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name": "Jonas", "email": "not-an-email", "password": "pass1234", "passwordConfirm": "pass4321",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	msg := body["message"].(string)
	assert.True(t, strings.HasPrefix(msg, "Invalid input data."), msg)
	assert.Contains(t, msg, "Please provide a valid email")
	assert.Contains(t, msg, "Passwords are not the same!")

	rec, body = s.do(t, http.MethodPost, "/api/v1/users/signup", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fail", body["status"])
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.addUser(t, "user@example.com", "pass1234", model.RoleUser)

	tests := []struct {
		name    string
		body    map[string]string
		code    int
		message string
	}{
		{"missing password", map[string]string{"email": "user@example.com"}, http.StatusBadRequest, "Please provide email and password!"},
		{"wrong password", map[string]string{"email": "user@example.com", "password": "nope12345"}, http.StatusUnauthorized, "Incorrect email or password"},
		{"unknown email", map[string]string{"email": "who@example.com", "password": "pass1234"}, http.StatusUnauthorized, "Incorrect email or password"},
		{"ok", map[string]string{"email": "USER@example.com", "password": "pass1234"}, http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, "/api/v1/users/login", "", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			if tc.message != "" {
				assert.Equal(t, tc.message, body["message"])
				return
			}
			assert.NotEmpty(t, body["token"])
		})
	}
}

func TestGetMe(t *testing.T) {
	s := newTestServer(t)
	u, token := s.addUser(t, "me@example.com", "pass1234", model.RoleUser)

	rec, body := s.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "You are not logged in! Please log in to get access.", body["message"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := data(t, body)["data"].(map[string]interface{})
	assert.Equal(t, u.ID, doc["id"])
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newTestServer(t)
	u, _ := s.addUser(t, "reset@example.com", "pass1234", model.RoleUser)

	rec, body := s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "There is no user with email address.", body["message"])

	rec, body = s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "reset@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Token sent to email!", body["message"])
	require.Len(t, s.mailer.sent, 1)
	msg := s.mailer.sent[0]
	assert.Equal(t, "reset@example.com", msg.To)
	assert.Equal(t, "Your password reset token (valid for 10 min)", msg.Subject)

	const marker = "http://example.com/api/v1/users/reset-password/"
	idx := strings.Index(msg.Text, marker)
	require.GreaterOrEqual(t, idx, 0, msg.Text)
	token := strings.SplitN(msg.Text[idx+len(marker):], ".", 2)[0]
	require.Len(t, token, 64)
	assert.NotEqual(t, token, *u.PasswordResetToken)
	assert.Equal(t, hashToken(token), *u.PasswordResetToken)

	rec, body = s.do(t, http.MethodPatch, "/api/v1/users/reset-password/"+token, "", map[string]string{
		"password": "newpass123", "passwordConfirm": "newpass123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["token"])
	assert.Nil(t, u.PasswordResetToken)
	require.NotNil(t, u.PasswordChangedAt)
	assert.True(t, middleware.CheckPassword(u.Password, "newpass123"))

	rec, body = s.do(t, http.MethodPatch, "/api/v1/users/reset-password/"+token, "", map[string]string{
		"password": "another123", "passwordConfirm": "another123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token is invalid, or expired", body["message"])
}

func TestResetPasswordExpiredToken(t *testing.T) {
	s := newTestServer(t)
	u, _ := s.addUser(t, "late@example.com", "pass1234", model.RoleUser)

	issued := time.Now()
	s.h.now = func() time.Time { return issued }
	rec, _ := s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "late@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.mailer.sent, 1)

	const marker = "/api/v1/users/reset-password/"
	text := s.mailer.sent[0].Text
	idx := strings.Index(text, marker)
	require.GreaterOrEqual(t, idx, 0, text)
	token := strings.SplitN(text[idx+len(marker):], ".", 2)[0]

	s.h.now = func() time.Time { return issued.Add(11 * time.Minute) }
	rec, body := s.do(t, http.MethodPatch, "/api/v1/users/reset-password/"+token, "", map[string]string{
		"password": "newpass123", "passwordConfirm": "newpass123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token is invalid, or expired", body["message"])
	assert.True(t, middleware.CheckPassword(u.Password, "pass1234"))
}

func TestForgotPasswordDeliveryFailure(t *testing.T) {
	s := newTestServer(t)
	u, _ := s.addUser(t, "fail@example.com", "pass1234", model.RoleUser)
	s.mailer.err = errors.New("ses unavailable")

	rec, body := s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "fail@example.com"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "There was an error sending the email. Try again later!", body["message"])
	assert.Nil(t, u.PasswordResetToken)
	assert.Nil(t, u.PasswordResetExpires)
}

func TestUpdatePassword(t *testing.T) {
	s := newTestServer(t)
	u, token := s.addUser(t, "rotate@example.com", "pass1234", model.RoleUser)

	rec, body := s.do(t, http.MethodPatch, "/api/v1/users/update-my-password", token, map[string]string{
		"passwordCurrent": "wrong1234", "password": "newpass123", "passwordConfirm": "newpass123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Your current password is wrong.", body["message"])

	rec, body = s.do(t, http.MethodPatch, "/api/v1/users/update-my-password", token, map[string]string{
		"passwordCurrent": "pass1234", "password": "newpass123", "passwordConfirm": "newpass123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["token"])
	assert.True(t, middleware.CheckPassword(u.Password, "newpass123"))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/users/me", body["token"].(string), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateMe(t *testing.T) {
	s := newTestServer(t)
	u, token := s.addUser(t, "update@example.com", "pass1234", model.RoleUser)

	rec, body := s.do(t, http.MethodPatch, "/api/v1/users/update-me", token, map[string]string{"password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This route is not for password updates. Please use /update-my-password.", body["message"])

	rec, body = s.do(t, http.MethodPatch, "/api/v1/users/update-me", token, map[string]string{"name": "New Name", "role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := data(t, body)["user"].(map[string]interface{})
	assert.Equal(t, "New Name", user["name"])
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, model.RoleUser, u.Role)
}

func TestDeleteMe(t *testing.T) {
	s := newTestServer(t)
	_, token := s.addUser(t, "bye@example.com", "pass1234", model.RoleUser)

	rec, _ := s.do(t, http.MethodDelete, "/api/v1/users/delete-me", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec, body := s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "The user belonging to this token does no longer exist.", body["message"])
}

func TestAdminUserRoutes(t *testing.T) {
	s := newTestServer(t)
	_, userToken := s.addUser(t, "plain@example.com", "pass1234", model.RoleUser)
	_, adminToken := s.addUser(t, "admin@example.com", "pass1234", model.RoleAdmin)

	rec, body := s.do(t, http.MethodGet, "/api/v1/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to perform this action", body["message"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/users?role=admin", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["results"])
	assert.Contains(t, s.users.query(t), "role = $")

	rec, body = s.do(t, http.MethodPost, "/api/v1/users", adminToken, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "This route is not defined! Please use /signup instead", body["message"])
}

func TestTourCRUD(t *testing.T) {
	s := newTestServer(t)
	_, userToken := s.addUser(t, "user@example.com", "pass1234", model.RoleUser)
	_, leadToken := s.addUser(t, "lead@example.com", "pass1234", model.RoleLeadGuide)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/tours", "", validTour())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/v1/tours", userToken, validTour())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/v1/tours", leadToken, validTour())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := data(t, body)["data"].(map[string]interface{})
	id := created["id"].(string)
	assert.Equal(t, "the-forest-hiker", created["slug"])
	assert.Equal(t, 4.5, created["ratingsAverage"])
	assert.Equal(t, 2.0, created["durationWeeks"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The Forest Hiker", data(t, body)["data"].(map[string]interface{})["name"])

	rec, body = s.do(t, http.MethodPatch, "/api/v1/tours/"+id, leadToken, map[string]interface{}{"price": 100, "priceDiscount": 150})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "Discount price (150) should be below regular price")

	rec, body = s.do(t, http.MethodPatch, "/api/v1/tours/"+id, leadToken, map[string]interface{}{"price": 397})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 397.0, data(t, body)["data"].(map[string]interface{})["price"])

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/tours/"+id, leadToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No document found with that ID", body["message"])
}

func TestTourInvalidID(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.do(t, http.MethodGet, "/api/v1/tours/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid id: abc", body["message"])
}

func TestGetAllToursFeatures(t *testing.T) {
	s := newTestServer(t)
	_, err := s.tours.Create(context.Background(), &model.Tour{Name: "The Sea Explorer", Price: 497, Summary: "s"})
	require.NoError(t, err)

	rec, body := s.do(t, http.MethodGet, "/api/v1/tours?duration[gte]=5&difficulty=easy&sort=-price&fields=name,price&page=2&limit=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["results"])

	docs := data(t, body)["data"].([]interface{})
	doc := docs[0].(map[string]interface{})
	assert.ElementsMatch(t, []string{"id", "name", "price"}, keys(doc))

	sql := s.tours.query(t)
	assert.Contains(t, sql, "duration >= $")
	assert.Contains(t, sql, "difficulty = $")
	assert.Contains(t, sql, "ORDER BY price DESC")
	assert.Contains(t, sql, "LIMIT 3 OFFSET 3")

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours?duration[gte]=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fail", body["status"])
}

func TestTopTours(t *testing.T) {
	s := newTestServer(t)
	_, err := s.tours.Create(context.Background(), &model.Tour{Name: "The Sea Explorer", Price: 497, Summary: "s", Difficulty: model.DifficultyMedium})
	require.NoError(t, err)

	rec, body := s.do(t, http.MethodGet, "/api/v1/tours/top-5?limit=50", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := data(t, body)["data"].([]interface{})[0].(map[string]interface{})
	assert.ElementsMatch(t, []string{"id", "name", "price", "ratingsAverage", "summary", "difficulty"}, keys(doc))

	sql := s.tours.query(t)
	assert.Contains(t, sql, "ORDER BY ratings_average DESC, price ASC")
	assert.Contains(t, sql, "LIMIT 5")
}

func TestTourStats(t *testing.T) {
	s := newTestServer(t)
	s.tours.stats = []*model.TourStats{{Difficulty: "EASY", NumTours: 2, AvgPrice: 400}}

	rec, body := s.do(t, http.MethodGet, "/api/v1/tours/tour-stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := data(t, body)["stats"].([]interface{})
	require.Len(t, stats, 1)
	assert.Equal(t, "EASY", stats[0].(map[string]interface{})["difficulty"])
}

func TestMonthlyPlan(t *testing.T) {
	s := newTestServer(t)
	_, userToken := s.addUser(t, "user@example.com", "pass1234", model.RoleUser)
	_, guideToken := s.addUser(t, "guide@example.com", "pass1234", model.RoleGuide)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/tours/monthly-plan/2021", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := s.do(t, http.MethodGet, "/api/v1/tours/monthly-plan/twenty", guideToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid year: twenty", body["message"])

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours/monthly-plan/2021", guideToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2021, s.tours.planYear)
	plan := data(t, body)["plan"].([]interface{})
	assert.EqualValues(t, 7, plan[0].(map[string]interface{})["month"])
}

func TestNestedReviews(t *testing.T) {
	s := newTestServer(t)
	author, userToken := s.addUser(t, "reviewer@example.com", "pass1234", model.RoleUser)
	_, guideToken := s.addUser(t, "guide@example.com", "pass1234", model.RoleGuide)
	tourID := uuid.NewString()

	rec, _ := s.do(t, http.MethodPost, "/api/v1/tours/"+tourID+"/reviews", guideToken, map[string]interface{}{"review": "Great", "rating": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/v1/tours/"+tourID+"/reviews", userToken, map[string]interface{}{
		"review": "Amazing tour!", "rating": 5, "user": "someone-else",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	review := data(t, body)["data"].(map[string]interface{})
	assert.Equal(t, tourID, review["tour"])
	assert.Equal(t, author.ID, review["user"])

	rec, body = s.do(t, http.MethodPost, "/api/v1/reviews", userToken, map[string]interface{}{"review": "", "rating": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "Review must belong to a tour.")

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours/"+tourID+"/reviews", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["results"])
	assert.Contains(t, s.reviews.query(t), "tour_id = $")

	rec, _ = s.do(t, http.MethodGet, "/api/v1/reviews", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, s.reviews.query(t), "tour_id = $")

	rec, body = s.do(t, http.MethodGet, "/api/v1/tours/bad/reviews", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid tourId: bad", body["message"])

	id := review["id"].(string)
	rec, _ = s.do(t, http.MethodPatch, "/api/v1/reviews/"+id, guideToken, map[string]interface{}{"rating": 4})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, body = s.do(t, http.MethodPatch, "/api/v1/reviews/"+id, userToken, map[string]interface{}{"rating": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, data(t, body)["data"].(map[string]interface{})["rating"])

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/reviews/"+id, userToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := map[string]string{"email": strings.Repeat("a", 20*1024), "password": "x"}
	rec, body := s.do(t, http.MethodPost, "/api/v1/users/login", "", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "fail", body["status"])
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
