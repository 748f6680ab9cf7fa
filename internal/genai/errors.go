package genai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	KindInvalidCredential   ErrorKind = "INVALID_CREDENTIAL"
	KindAccessDenied        ErrorKind = "ACCESS_DENIED"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamFailure     ErrorKind = "UPSTREAM_FAILURE"
	KindTimeout             ErrorKind = "TIMEOUT"
	KindNetwork             ErrorKind = "NETWORK_ERROR"
	KindEmptyContent        ErrorKind = "EMPTY_CONTENT"
	KindEmptyMessage        ErrorKind = "EMPTY_MESSAGE"
	KindMalformedResponse   ErrorKind = "MALFORMED_RESPONSE"
	KindStore               ErrorKind = "STORE_ERROR"
	KindBusy                ErrorKind = "BUSY"
	KindInvalidRequest      ErrorKind = "INVALID_REQUEST"
)

// Error is the single error type surfaced by transport, drivers, stores and the orchestrator.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindRateLimited || kind == KindUpstreamUnavailable,
	}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// ClassifyStatus maps a non-2xx upstream response to a typed error.
func ClassifyStatus(status int, body []byte) *Error {
	detail := upstreamMessage(status, body)

	var e *Error
	switch {
	case status == http.StatusUnauthorized:
		e = NewError(KindInvalidCredential, "API key is invalid or expired: "+detail)
	case status == http.StatusForbidden:
		e = NewError(KindAccessDenied, "access denied for this API key or model: "+detail)
	case status == http.StatusTooManyRequests:
		e = NewError(KindRateLimited, "rate limited by upstream, back off and retry: "+detail)
	case status >= 500:
		e = NewError(KindUpstreamUnavailable, "upstream service unavailable, retry later: "+detail)
	default:
		e = NewError(KindUpstreamFailure, "request failed: "+detail)
	}
	return e.WithHTTPStatus(status)
}

func upstreamMessage(status int, body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return strings.TrimSpace(errResp.Error.Message)
	}

	text := http.StatusText(status)
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d %s", status, text)
}
