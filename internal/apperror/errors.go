// Package apperror classifies failures into client-facing errors with an
// HTTP status and renders them according to the running environment.
package apperror

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/natours/internal/model"
)

type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindCast       Kind = "CastError"
	KindDuplicate  Kind = "DuplicateKeyError"
	KindAuth       Kind = "AuthError"
	KindNotFound   Kind = "NotFoundError"
	KindDelivery   Kind = "DeliveryError"
	KindRateLimit  Kind = "RateLimitError"
	KindUnknown    Kind = "UnknownError"
)

const genericMessage = "Something went very wrong!"

// Error is an operational failure that is safe to show to clients.
type Error struct {
	Kind        Kind
	StatusCode  int
	Message     string
	Operational bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status is "fail" for client errors and "error" for server errors.
func (e *Error) Status() string {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return "fail"
	}
	return "error"
}

func newError(kind Kind, code int, message string, cause error) *Error {
	if cause == nil {
		cause = pkgerrors.New(message)
	} else {
		cause = pkgerrors.WithStack(cause)
	}
	return &Error{Kind: kind, StatusCode: code, Message: message, Operational: true, Err: cause}
}

func BadRequest(message string) *Error {
	return newError(KindValidation, http.StatusBadRequest, message, nil)
}

func Cast(field, value string) *Error {
	return newError(KindCast, http.StatusBadRequest, fmt.Sprintf("Invalid %s: %s", field, value), nil)
}

func Unauthorized(message string) *Error {
	return newError(KindAuth, http.StatusUnauthorized, message, nil)
}

// Forbidden is an AuthError carrying 403.
func Forbidden(message string) *Error {
	return newError(KindAuth, http.StatusForbidden, message, nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, http.StatusNotFound, message, nil)
}

func Delivery(message string, cause error) *Error {
	return newError(KindDelivery, http.StatusInternalServerError, message, cause)
}

// Internal is a 500 whose message is still safe to show.
func Internal(message string) *Error {
	return newError(KindUnknown, http.StatusInternalServerError, message, nil)
}

func TooManyRequests(message string) *Error {
	return newError(KindRateLimit, http.StatusTooManyRequests, message, nil)
}

var duplicateValue = regexp.MustCompile(`\)=\((.*)\) already exists`)

// Normalize maps any error into an *Error. Unrecognized errors become a
// non-operational 500 that keeps the original as its cause.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var verrs model.ValidationErrors
	if stderrors.As(err, &verrs) {
		return newError(KindValidation, http.StatusBadRequest, "Invalid input data. "+verrs.Error(), err)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			value := pqErr.Detail
			if m := duplicateValue.FindStringSubmatch(pqErr.Detail); m != nil {
				value = m[1]
			}
			return newError(KindDuplicate, http.StatusBadRequest,
				fmt.Sprintf("Duplicate field value: %s. Please use another value!", value), err)
		case "23503":
			return newError(KindCast, http.StatusBadRequest, "Invalid reference: "+pqErr.Detail, err)
		case "22P02", "22007", "22008", "22003":
			return newError(KindCast, http.StatusBadRequest, "Invalid input: "+pqErr.Message, err)
		}
	}

	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return newError(KindAuth, http.StatusUnauthorized, "Your token has expired! Please log in again.", err)
	}
	if isTokenError(err) {
		return newError(KindAuth, http.StatusUnauthorized, "Invalid token. Please log in again!", err)
	}

	var maxBytes *http.MaxBytesError
	if stderrors.As(err, &maxBytes) {
		return newError(KindValidation, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body too large. Limit is %d bytes", maxBytes.Limit), err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syntaxErr), stderrors.Is(err, io.ErrUnexpectedEOF):
		return newError(KindValidation, http.StatusBadRequest, "Invalid JSON body", err)
	case stderrors.As(err, &typeErr):
		return newError(KindCast, http.StatusBadRequest,
			fmt.Sprintf("Invalid %s: expected %s", typeErr.Field, typeErr.Type), err)
	case stderrors.Is(err, io.EOF):
		return newError(KindValidation, http.StatusBadRequest, "Request body is empty", err)
	}

	return &Error{
		Kind:       KindUnknown,
		StatusCode: http.StatusInternalServerError,
		Message:    genericMessage,
		Err:        pkgerrors.WithStack(err),
	}
}

func isTokenError(err error) bool {
	for _, target := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrSignatureInvalid,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidClaims,
		jwt.ErrTokenRequiredClaimMissing,
		jwt.ErrTokenUsedBeforeIssued,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

// Body is the JSON shape of an error response.
type Body struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   *Debug `json:"error,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

type Debug struct {
	Kind        Kind   `json:"kind"`
	StatusCode  int    `json:"statusCode"`
	Operational bool   `json:"isOperational"`
	Cause       string `json:"cause,omitempty"`
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Render builds the response body. In development every detail is exposed;
// otherwise non-operational errors collapse to a generic message.
func (e *Error) Render(development bool) Body {
	if development {
		b := Body{
			Status:  e.Status(),
			Message: e.Message,
			Error: &Debug{
				Kind:        e.Kind,
				StatusCode:  e.StatusCode,
				Operational: e.Operational,
			},
			Stack: e.stack(),
		}
		if e.Err != nil {
			b.Error.Cause = e.Err.Error()
			if !e.Operational {
				b.Message = e.Err.Error()
			}
		}
		return b
	}
	if !e.Operational {
		return Body{Status: "error", Message: genericMessage}
	}
	return Body{Status: e.Status(), Message: e.Message}
}

// stack returns the deepest recorded stack trace in the chain.
func (e *Error) stack() string {
	var trace string
	var err error = e.Err
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			trace = strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
		}
		err = stderrors.Unwrap(err)
	}
	return trace
}
