// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when the registry answers 404.
	ErrNotFound = errors.New("not found on registry")
	// ErrServer is returned for any other non-success answer.
	ErrServer = errors.New("registry error")
	// ErrTransport is returned when the registry could not be reached or the
	// response could not be read.
	ErrTransport = errors.New("registry unreachable")
)

type (
	// NotFoundError reports a 404 for URL.
	NotFoundError struct {
		URL string
	}

	// ServerError carries the status and, when the body had one, the error
	// code and message the registry reported.
	ServerError struct {
		StatusCode int
		URL        string
		Code       string
		Message    string
	}

	// TransportError wraps a network or decoding failure for URL.
	TransportError struct {
		URL string
		Err error
	}

	// errorBody covers both error envelopes the registry API uses:
	// {"code": "...", "message": "..."} and
	// {"errors": [{"code": "...", "title": "...", "detail": "..."}]}.
	errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Code   string `json:"code"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, redactURL(e.URL))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("registry returned HTTP %d for %s", e.StatusCode, redactURL(e.URL))
	switch {
	case e.Code != "" && e.Message != "":
		msg += fmt.Sprintf(": %s (%s)", e.Message, e.Code)
	case e.Message != "":
		msg += ": " + e.Message
	case e.Code != "":
		msg += ": " + e.Code
	}
	return msg
}

func (e *ServerError) Unwrap() error { return ErrServer }

// Temporary reports whether retrying the request may succeed.
func (e *ServerError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, redactURL(e.URL), e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// newServerError builds a ServerError from a non-success response body.
// An unparsable body leaves Code empty and uses the trimmed text as the
// message.
func newServerError(status int, rawURL string, body []byte) *ServerError {
	se := &ServerError{StatusCode: status, URL: rawURL}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		se.Message = strings.TrimSpace(string(body))
		return se
	}
	se.Code, se.Message = eb.Code, eb.Message
	if len(eb.Errors) > 0 {
		first := eb.Errors[0]
		if se.Code == "" {
			se.Code = first.Code
		}
		if se.Message == "" {
			se.Message = first.Detail
			if se.Message == "" {
				se.Message = first.Title
			}
		}
	}
	return se
}

// retryable reports whether err is worth another attempt and counts as a
// failure for the host's circuit breaker.
func retryable(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var se *ServerError
	return errors.As(err, &se) && se.Temporary()
}
