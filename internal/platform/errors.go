// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error raised anywhere in the execution core.
type Kind string

const (
	// Token layer.

	// KindNoCredential means no credential is stored for the user and integration.
	KindNoCredential Kind = "no_credential"

	// KindRefreshUnavailable means the access token expired and no refresh token is stored.
	KindRefreshUnavailable Kind = "refresh_unavailable"

	// KindRefreshFailed means the platform rejected or failed the refresh call.
	KindRefreshFailed Kind = "refresh_failed"

	// Dispatch layer.

	// KindUnknownOperation means the integration has no action or reaction by that name.
	KindUnknownOperation Kind = "unknown_operation"

	// KindMissingParameter means a declared-required parameter was absent.
	KindMissingParameter Kind = "missing_parameter"

	// KindInvalidParameter means a parameter did not match its declared type.
	KindInvalidParameter Kind = "invalid_parameter"

	// KindPreconditionFailed means the remote resource is not in a state the operation needs.
	KindPreconditionFailed Kind = "precondition_failed"

	// KindUpstream means the platform reported an error for the request.
	KindUpstream Kind = "upstream_error"

	// Poller layer.

	// KindCursorInvalidated means the platform no longer recognizes the stored cursor.
	KindCursorInvalidated Kind = "cursor_invalidated"

	// KindTransport means the request never produced a usable platform response.
	KindTransport Kind = "transport_error"
)

// Error is the uniform error shape of the execution core.
type Error struct {
	// Kind classifies the error
	Kind Kind

	// Integration is the integration name (e.g. "gmail")
	Integration string

	// Operation is the action or reaction name, if any
	Operation string

	// Field names the offending parameter for parameter errors
	Field string

	// Message is the human-readable reason
	Message string

	// StatusCode is the upstream HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Integration != "" {
		b.WriteString(e.Integration)
		if e.Operation != "" {
			b.WriteString(".")
			b.WriteString(e.Operation)
		}
		b.WriteString(": ")
	} else if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Kind))
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " [HTTP %d]", e.StatusCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether retrying the same request later may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindTransport, KindRefreshFailed, KindCursorInvalidated:
		return true
	default:
		return false
	}
}

// UserMessage returns a caller-facing message without transport detail.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNoCredential, KindRefreshUnavailable:
		return fmt.Sprintf("reauthorize required for %s", e.Integration)
	case KindRefreshFailed, KindTransport:
		return fmt.Sprintf("%s is temporarily unavailable", e.Integration)
	case KindMissingParameter:
		return fmt.Sprintf("missing required parameter %q", e.Field)
	case KindInvalidParameter:
		return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Message)
	case KindUnknownOperation:
		return fmt.Sprintf("unknown operation %q", e.Operation)
	default:
		return e.Message
	}
}

// NewError creates an error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Precondition returns a PreconditionFailed error carrying reason.
func Precondition(reason string) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: reason}
}

// ErrCursorInvalidated is returned by change sources when the stored marker is
// no longer recognized upstream.
var ErrCursorInvalidated = &Error{Kind: KindCursorInvalidated, Message: "cursor not recognized upstream"}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Is lets errors.Is(err, ErrCursorInvalidated) match cursor errors built by
// adapters with their own message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == ErrCursorInvalidated && e.Kind == KindCursorInvalidated
}

// ClassifyHTTP converts a failed upstream HTTP response into an *Error.
func ClassifyHTTP(statusCode int, message string) *Error {
	kind := KindUpstream
	switch {
	case statusCode == http.StatusTooManyRequests:
		kind = KindTransport
	case statusCode >= 500:
		kind = KindTransport
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &Error{Kind: kind, Message: message, StatusCode: statusCode}
}
