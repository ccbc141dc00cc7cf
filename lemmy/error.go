package lemmy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorResponse is the error payload returned by a lemmy instance.
type ErrorResponse struct {
	Code    Code   `json:"error"`
	Message string `json:"message,omitempty"`

	// Status is the http status code the response was sent with.
	Status int `json:"-"`
	// Inner is a private internal error associated with the response.
	Inner error `json:"-"`
}

func (er *ErrorResponse) Error() string {
	msg := er.Message
	if len(msg) == 0 {
		msg = string(er.Code)
	}
	if er.Inner != nil {
		return fmt.Sprintf("%s: %v", msg, er.Inner)
	}
	return msg
}

func (er *ErrorResponse) Unwrap() error {
	return er.Inner
}

// Cause is for [errors.Cause].
func (er *ErrorResponse) Cause() error {
	return er.Inner
}

// Wrap sets the Inner error field.
func (er *ErrorResponse) Wrap(err error) *ErrorResponse {
	er.Inner = err
	return er
}

// IsIncorrectLogin reports whether the instance rejected the username or
// password.
func (er *ErrorResponse) IsIncorrectLogin() bool {
	switch er.Code {
	case IncorrectLogin, PasswordIncorrect, CouldntFindUser:
		return true
	}
	return false
}

// RequiresTwoFactor reports whether the login needs a one-time code.
func (er *ErrorResponse) RequiresTwoFactor() bool {
	return er.Code == MissingTotpToken
}

// IsNotLoggedIn reports whether the credential used for the request is no
// longer accepted.
func (er *ErrorResponse) IsNotLoggedIn() bool {
	return er.Code == NotLoggedIn || er.Status == http.StatusUnauthorized
}

// AsError finds the first [ErrorResponse] in err's chain.
func AsError(err error) (*ErrorResponse, bool) {
	var e *ErrorResponse
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type Code string

const (
	Unknown              Code = "unknown"
	IncorrectLogin       Code = "incorrect_login"
	PasswordIncorrect    Code = "password_incorrect"
	CouldntFindUser      Code = "couldnt_find_that_username_or_email"
	MissingTotpToken     Code = "missing_totp_token"
	IncorrectTotpToken   Code = "incorrect_totp_token"
	NotLoggedIn          Code = "not_logged_in"
	NotFound             Code = "not_found"
	CouldntFindPost      Code = "couldnt_find_post"
	CouldntCreateComment Code = "couldnt_create_comment"
	RateLimitError       Code = "rate_limit_error"
	InvalidRequest       Code = "invalid_request"
	InternalError        Code = "internal_error"
)

func CodeFromStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return InvalidRequest
	case http.StatusUnauthorized:
		return NotLoggedIn
	case http.StatusNotFound:
		return NotFound
	case http.StatusTooManyRequests:
		return RateLimitError
	default:
		if status >= 500 {
			return InternalError
		}
		return Unknown
	}
}

func (c Code) String() string { return string(c) }

// WriteError writes an error payload the way an instance does. Lemmy sends
// most errors with a 400 status regardless of the cause.
func WriteError(l *slog.Logger, w http.ResponseWriter, status int, code Code) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(&ErrorResponse{Code: code})
	if err != nil {
		l.Error("failed to encode error message", "error", err)
	}
}
