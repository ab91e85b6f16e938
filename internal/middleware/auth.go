package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/natours/internal/apperror"
	"github.com/natours/internal/config"
	"github.com/natours/internal/model"
	"github.com/natours/internal/storage"
)

type contextKey string

const (
	UserContextKey        contextKey = "user"
	RequestTimeContextKey contextKey = "requestTime"
)

const TokenCookie = "jwt"

// UserFinder loads an active user by id.
type UserFinder interface {
	FindByID(ctx context.Context, id string, expand ...string) (*model.User, error)
}

// AuthMiddleware issues and verifies session tokens.
type AuthMiddleware struct {
	jwtSecret     []byte
	expiresIn     time.Duration
	cookieTTL     time.Duration
	secureCookies bool
	users         UserFinder
	errors        *apperror.Responder
	now           func() time.Time
}

func NewAuthMiddleware(cfg *config.Config, users UserFinder, errs *apperror.Responder) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret:     []byte(cfg.JWT.Secret),
		expiresIn:     cfg.JWT.ExpiresIn,
		cookieTTL:     cfg.JWT.CookieExpiresIn,
		secureCookies: !cfg.IsDevelopment(),
		users:         users,
		errors:        errs,
		now:           time.Now,
	}
}

// Protect requires a valid bearer token whose user still exists and has not
// changed their password since the token was issued.
func (m *AuthMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || strings.TrimSpace(authHeader[len("Bearer "):]) == "" {
			m.errors.Respond(w, r, apperror.Unauthorized("You are not logged in! Please log in to get access."))
			return
		}

		claims, err := m.ValidateToken(strings.TrimSpace(authHeader[len("Bearer "):]))
		if err != nil {
			m.errors.Respond(w, r, err)
			return
		}

		user, err := m.users.FindByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				err = apperror.Unauthorized("The user belonging to this token does no longer exist.")
			}
			m.errors.Respond(w, r, err)
			return
		}

		if user.ChangedPasswordAfter(claims.IssuedAt.Time) {
			m.errors.Respond(w, r, apperror.Unauthorized("User recently changed password! Please log in again."))
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RestrictTo allows only users whose role is in roles. It must run after
// Protect.
func (m *AuthMiddleware) RestrictTo(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				m.errors.Respond(w, r, apperror.Unauthorized("You are not logged in! Please log in to get access."))
				return
			}
			if !user.Role.Allowed(roles...) {
				m.errors.Respond(w, r, apperror.Forbidden("You do not have permission to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GenerateToken signs an HS256 token for user with sub, iat and exp claims.
func (m *AuthMiddleware) GenerateToken(user *model.User) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.expiresIn)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

// ValidateToken verifies signature and expiry and returns the claims.
func (m *AuthMiddleware) ValidateToken(tokenStr string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// SetTokenCookie stores token in the HTTP-only jwt cookie.
func (m *AuthMiddleware) SetTokenCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  m.now().Add(m.cookieTTL),
		HttpOnly: true,
		Secure:   m.secureCookies || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetUserFromContext returns the user attached by Protect, or nil.
func GetUserFromContext(ctx context.Context) *model.User {
	user, ok := ctx.Value(UserContextKey).(*model.User)
	if !ok {
		return nil
	}
	return user
}

// RequestTime stamps each request with its arrival time.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestTimeContextKey, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(RequestTimeContextKey).(time.Time)
	return t
}
