package model

import (
	"regexp"
	"strings"
)

// Document is implemented by every persisted entity served through the
// generic resource handlers.
type Document interface {
	// Normalize applies derived fields and defaults before validation.
	Normalize()
	// Validate checks the entity's constraints and returns ValidationErrors.
	Validate() error
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, ". ")
}

func (v *ValidationErrors) add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// err returns nil for an empty set so callers can return it directly.
func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(strings.TrimSpace(email))
}

// ValidatePassword checks a new password and its confirmation.
func ValidatePassword(password, confirm string) error {
	var errs ValidationErrors
	if password == "" {
		errs.add("password", "Please provide a password")
	} else if len(password) < 8 {
		errs.add("password", "A password must have at least 8 characters")
	}
	if confirm == "" {
		errs.add("passwordConfirm", "Please confirm your password")
	} else if confirm != password {
		errs.add("passwordConfirm", "Passwords are not the same!")
	}
	return errs.err()
}
