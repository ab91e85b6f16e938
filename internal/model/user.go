package model

import (
	"strings"
	"time"
)

const DefaultPhoto = "default.jpg"

// User is the authenticated principal. The password hash and reset-token
// fields never leave the server.
type User struct {
	ID                   string     `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	Email                string     `json:"email" db:"email"`
	Photo                string     `json:"photo" db:"photo"`
	Role                 Role       `json:"role" db:"role"`
	Password             string     `json:"-" db:"password"`
	PasswordChangedAt    *time.Time `json:"-" db:"password_changed_at"`
	PasswordResetToken   *string    `json:"-" db:"password_reset_token"`
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`
	Active               bool       `json:"-" db:"active"`
	Version              int        `json:"version" db:"version"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
}

func (u *User) Normalize() {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Photo == "" {
		u.Photo = DefaultPhoto
	}
}

func (u *User) Validate() error {
	var errs ValidationErrors
	if u.Name == "" {
		errs.add("name", "Please tell us your name!")
	}
	if u.Email == "" {
		errs.add("email", "Please provide your email")
	} else if !IsValidEmail(u.Email) {
		errs.add("email", "Please provide a valid email")
	}
	if !u.Role.Valid() {
		errs.add("role", "Role is either: user, guide, lead-guide, admin")
	}
	return errs.err()
}

// ChangedPasswordAfter reports whether the password was changed after a
// token issued at iat. Comparison is at second granularity, like the token.
func (u *User) ChangedPasswordAfter(iat time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Unix() > iat.Unix()
}

// ResetTokenValid reports whether hash matches the stored reset token and it
// has not expired at now.
func (u *User) ResetTokenValid(hash string, now time.Time) bool {
	if u.PasswordResetToken == nil || u.PasswordResetExpires == nil {
		return false
	}
	return *u.PasswordResetToken == hash && now.Before(*u.PasswordResetExpires)
}

type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// User builds the principal for a signup. Any role in the payload is ignored.
func (r *SignupRequest) User() *User {
	u := &User{Name: r.Name, Email: r.Email, Role: RoleUser, Active: true}
	u.Normalize()
	return u
}

func (r *SignupRequest) Validate() error {
	var errs ValidationErrors
	if err := r.User().Validate(); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	if err := ValidatePassword(r.Password, r.PasswordConfirm); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	return errs.err()
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// UpdateMeRequest carries the only fields a user may change on themselves.
// Password fields are decoded so the handler can reject them.
type UpdateMeRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Photo           *string `json:"photo"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
}

func (r *UpdateMeRequest) Apply(u *User) {
	if r.Name != nil {
		u.Name = *r.Name
	}
	if r.Email != nil {
		u.Email = *r.Email
	}
	if r.Photo != nil {
		u.Photo = *r.Photo
	}
}

type AuthResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   struct {
		User *User `json:"user"`
	} `json:"data"`
}
