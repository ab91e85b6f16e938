package storage

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/natours/internal/apifeatures"
	"github.com/natours/internal/model"
)

// userColumns never includes the password hash or reset token. Queries that
// need them select credentialColumns explicitly.
var userColumns = []string{
	"id", "name", "email", "photo", "role", "password_changed_at", "active", "version", "created_at",
}

var credentialColumns = append(append([]string{}, userColumns...),
	"password", "password_reset_token", "password_reset_expires")

var userSchema = apifeatures.Schema{
	"id":        {Column: "id", Kind: apifeatures.UUID},
	"name":      {Column: "name", Kind: apifeatures.Text},
	"email":     {Column: "email", Kind: apifeatures.Text},
	"role":      {Column: "role", Kind: apifeatures.Text},
	"createdAt": {Column: "created_at", Kind: apifeatures.Time},
}

// UserRepository stores principals. Inactive users are invisible to every
// read path.
type UserRepository struct {
	db *Database
}

func NewUserRepository(db *Database) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Schema() apifeatures.Schema { return userSchema }

func (r *UserRepository) BaseQuery() sq.SelectBuilder {
	return psql.Select(userColumns...).From("users").Where(sq.Eq{"active": true})
}

func (r *UserRepository) Select(ctx context.Context, q sq.SelectBuilder) ([]*model.User, error) {
	users, err := selectAll[model.User](ctx, r.db, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string, _ ...string) (*model.User, error) {
	return r.find(ctx, userColumns, sq.Eq{"id": id})
}

// FindByIDWithPassword loads an active user including the password hash.
func (r *UserRepository) FindByIDWithPassword(ctx context.Context, id string) (*model.User, error) {
	return r.find(ctx, credentialColumns, sq.Eq{"id": id})
}

// FindByEmailWithPassword loads an active user by case-folded email
// including the password hash.
func (r *UserRepository) FindByEmailWithPassword(ctx context.Context, email string) (*model.User, error) {
	return r.find(ctx, credentialColumns, sq.Eq{"email": strings.ToLower(strings.TrimSpace(email))})
}

// FindByResetToken returns the active user holding hash whose reset window
// is still open at now.
func (r *UserRepository) FindByResetToken(ctx context.Context, hash string, now time.Time) (*model.User, error) {
	return r.find(ctx, credentialColumns, sq.And{
		sq.Eq{"password_reset_token": hash},
		sq.Gt{"password_reset_expires": now},
	})
}

func (r *UserRepository) find(ctx context.Context, columns []string, where sq.Sqlizer) (*model.User, error) {
	q := psql.Select(columns...).From("users").Where(sq.Eq{"active": true}).Where(where)
	user, err := getOne[model.User](ctx, r.db, q)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find user")
	}
	return user, nil
}

// Create inserts u. u.Password must already hold the hash.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	q := psql.Insert("users").
		SetMap(map[string]interface{}{
			"name":     u.Name,
			"email":    u.Email,
			"photo":    u.Photo,
			"role":     string(u.Role),
			"password": u.Password,
			"active":   true,
		}).
		Suffix("RETURNING " + strings.Join(userColumns, ", "))

	var created model.User
	if err := queryRow(ctx, r.db, q, &created); err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}
	return &created, nil
}

// Update writes the profile fields of u. Credentials are changed only
// through UpdatePassword.
func (r *UserRepository) Update(ctx context.Context, id string, u *model.User) (*model.User, error) {
	q := psql.Update("users").
		SetMap(map[string]interface{}{
			"name":  u.Name,
			"email": u.Email,
			"photo": u.Photo,
			"role":  string(u.Role),
		}).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "active": true}).
		Suffix("RETURNING " + strings.Join(userColumns, ", "))

	var updated model.User
	if err := queryRow(ctx, r.db, q, &updated); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to update user")
	}
	return &updated, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	n, err := exec(ctx, r.db, psql.Delete("users").Where(sq.Eq{"id": id, "active": true}))
	if err != nil {
		return errors.Wrap(err, "failed to delete user")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate hides the user from all reads without deleting the row.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	n, err := exec(ctx, r.db, psql.Update("users").
		Set("active", false).
		Where(sq.Eq{"id": id, "active": true}))
	if err != nil {
		return errors.Wrap(err, "failed to deactivate user")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	_, err := exec(ctx, r.db, psql.Update("users").
		Set("password_reset_token", hash).
		Set("password_reset_expires", expires).
		Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "failed to store reset token")
}

func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	_, err := exec(ctx, r.db, psql.Update("users").
		Set("password_reset_token", nil).
		Set("password_reset_expires", nil).
		Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "failed to clear reset token")
}

// UpdatePassword stores a new hash, records when it changed and consumes
// any pending reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	n, err := exec(ctx, r.db, psql.Update("users").
		Set("password", hash).
		Set("password_changed_at", changedAt).
		Set("password_reset_token", nil).
		Set("password_reset_expires", nil).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "active": true}))
	if err != nil {
		return errors.Wrap(err, "failed to update password")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearExpiredResetTokens drops reset tokens whose window closed before now.
func (r *UserRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	n, err := exec(ctx, r.db, psql.Update("users").
		Set("password_reset_token", nil).
		Set("password_reset_expires", nil).
		Where(sq.NotEq{"password_reset_token": nil}).
		Where(sq.Lt{"password_reset_expires": now}))
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear expired reset tokens")
	}
	return n, nil
}

// EnsureAdmin creates an admin with the given password hash unless the
// email is already registered.
func (r *UserRepository) EnsureAdmin(ctx context.Context, email, hash, name string) (*model.User, error) {
	q := psql.Insert("users").
		Columns("name", "email", "role", "password").
		Values(name, strings.ToLower(email), string(model.RoleAdmin), hash).
		Suffix("ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role RETURNING " + strings.Join(userColumns, ", "))

	var user model.User
	if err := queryRow(ctx, r.db, q, &user); err != nil {
		return nil, errors.Wrap(err, "failed to create admin user")
	}
	return &user, nil
}
