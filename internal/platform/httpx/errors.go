// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Generic sentinels for handlers without a domain error of their own.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorMapping binds a domain sentinel to a problem response.
type ErrorMapping struct {
	Err       error
	Status    int
	Title     string
	Retryable bool
}

var defaultMappings = []ErrorMapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
	{Err: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
}

// RespondError maps err to an RFC7807 response. Domain mappings are checked
// first, in order; unknown errors become a detail-less 500.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) {
	m, ok := lookup(err, mappings)
	if !ok {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeProblem(w, ProblemDetail{
		Type:      ProblemType(m.Err),
		Title:     m.Title,
		Status:    m.Status,
		Detail:    err.Error(),
		Retryable: m.Retryable,
	})
}

// RespondStatus returns the status RespondError would write for err.
func RespondStatus(err error, mappings ...ErrorMapping) int {
	if m, ok := lookup(err, mappings); ok {
		return m.Status
	}
	return http.StatusInternalServerError
}

func lookup(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, list := range [][]ErrorMapping{mappings, defaultMappings} {
		for _, m := range list {
			if errors.Is(err, m.Err) {
				return m, true
			}
		}
	}
	return ErrorMapping{}, false
}

// ProblemType derives a stable problem type URI from a sentinel message.
func ProblemType(err error) string {
	msg := err.Error()
	out := make([]byte, 0, len(msg))
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case len(out) > 0 && out[len(out)-1] != '-':
			out = append(out, '-')
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return "urn:problem:" + string(out)
}
