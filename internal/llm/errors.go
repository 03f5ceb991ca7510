package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindAPI              ErrorKind = "api"
	KindTimeout          ErrorKind = "timeout"
	KindRateLimit        ErrorKind = "rate_limit"
	KindAuthentication   ErrorKind = "authentication"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindSerialization    ErrorKind = "serialization"
	KindIO               ErrorKind = "io"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Category is the short label used in logs and API responses.
func (e *Error) Category() string {
	switch e.Kind {
	case KindAPI:
		return "API Error"
	case KindTimeout:
		return "Timeout"
	case KindRateLimit:
		return "Rate Limit"
	case KindAuthentication:
		return "Authentication"
	case KindInvalidRequest:
		return "Invalid Request"
	case KindModelUnavailable:
		return "Model Unavailable"
	case KindSerialization:
		return "Serialization"
	case KindIO:
		return "IO"
	}
	return "Unknown"
}

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAPI, KindTimeout, KindRateLimit:
		return true
	}
	return false
}

// RateLimitError carries an explicit retry delay reported by the provider.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// IsLongWait returns true if the retry wait is too long for automatic retry.
func (e *RateLimitError) IsLongWait() bool {
	return e.RetryAfter > 2*time.Minute
}

// ClassifyError wraps err in an *Error. Errors that are already classified
// are returned unchanged.
func ClassifyError(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	out := &Error{Kind: KindAPI, Provider: provider, Err: err}

	var rle *RateLimitError
	var oaiErr *openai.Error
	var antErr *anthropic.Error
	var syntaxErr *json.SyntaxError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
	case errors.As(err, &rle):
		out.Kind = KindRateLimit
		out.Message = rle.Message
	case errors.As(err, &oaiErr):
		out.StatusCode = oaiErr.StatusCode
		out.Kind = kindForStatus(oaiErr.StatusCode)
	case errors.As(err, &antErr):
		out.StatusCode = antErr.StatusCode
		out.Kind = kindForStatus(antErr.StatusCode)
	case errors.As(err, &syntaxErr):
		out.Kind = KindSerialization
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = KindTimeout
	case errors.Is(err, io.ErrUnexpectedEOF):
		out.Kind = KindIO
	default:
		out.Kind = kindFromMessage(err.Error())
	}
	return out
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusNotFound:
		return KindModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindInvalidRequest
	}
	return KindAPI
}

func kindFromMessage(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimit
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"):
		return KindAuthentication
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return KindIO
	}
	return KindAPI
}
