/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package undertaking

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acronis/go-appkit/log"
)

// ContentTypeProblemJSON is the media type of RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// Problem is an RFC 7807 problem details document. Every rejection produced by
// the authorization middleware is rendered as one.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`

	// ErrorCode is a machine-readable OAuth2 error code, e.g. invalid_token.
	ErrorCode string `json:"error,omitempty"`

	// UUID correlates the response with the server-side log record
	// describing the underlying error.
	UUID string `json:"uuid,omitempty"`
}

// NewProblem creates a Problem for the given HTTP status code with the status
// text as title.
func NewProblem(status int, detail string) Problem {
	return Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// RespondProblem writes the Problem to the response with the problem+json
// content type. Rendering failures are logged, not propagated; the status
// line has been sent by then anyway.
func RespondProblem(rw http.ResponseWriter, logger log.FieldLogger, problem Problem) {
	rw.Header().Set("Content-Type", ContentTypeProblemJSON)
	rw.WriteHeader(problem.Status)
	if err := json.NewEncoder(rw).Encode(problem); err != nil {
		logger.Error(fmt.Sprintf("error while encoding problem response with status %d", problem.Status), log.Error(err))
	}
}
