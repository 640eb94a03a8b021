package domain

import (
	"fmt"
	"strings"
)

// FailureContext tags a transport failure with the part of the API surface
// it occurred on. The tag selects the user-facing wording; callers infer it
// from the request path before translation.
type FailureContext string

const (
	// ContextRequest is the generic tag for paths with no special handling.
	ContextRequest FailureContext = "request"
	// ContextIssue tags failures on issue-related paths.
	ContextIssue FailureContext = "issue"
	// ContextProject tags failures on project-related paths.
	ContextProject FailureContext = "project"
	// ContextConnection tags failures establishing the connection itself.
	ContextConnection FailureContext = "connection"
	// ContextResponse tags failures decoding a response body.
	ContextResponse FailureContext = "response"
)

// FailureKind identifies the class of a raw transport failure.
type FailureKind int

const (
	// FailureTimeout is a request that exceeded the configured timeout.
	FailureTimeout FailureKind = iota
	// FailureConnection is a failure to reach the server at all.
	FailureConnection
	// FailureHTTPStatus is a non-2xx response, optionally with a decoded body.
	FailureHTTPStatus
	// FailureDecode is a 2xx response whose body was not valid JSON.
	FailureDecode
)

// APIError is the single error shape surfaced to callers for every Redmine
// failure. StatusCode is zero when no HTTP status applies (timeouts,
// connection failures, missing entities). Body holds the decoded error
// payload from Redmine when one was present.
type APIError struct {
	Message    string
	StatusCode int
	Body       map[string]interface{}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// NewTimeoutError builds the APIError for a timed-out call.
// No status code is set: the server never answered.
func NewTimeoutError(fctx FailureContext) *APIError {
	return &APIError{Message: TranslateFailure(FailureTimeout, fctx, 0, nil)}
}

// NewConnectionError builds the APIError for a failed connection attempt.
func NewConnectionError(fctx FailureContext) *APIError {
	return &APIError{Message: TranslateFailure(FailureConnection, fctx, 0, nil)}
}

// NewStatusError builds the APIError for a non-2xx HTTP response.
// body is the decoded error payload, or nil when absent or malformed.
func NewStatusError(fctx FailureContext, status int, body map[string]interface{}) *APIError {
	return &APIError{
		Message:    TranslateFailure(FailureHTTPStatus, fctx, status, body),
		StatusCode: status,
		Body:       body,
	}
}

// NewDecodeError builds the APIError for an unparseable response body.
func NewDecodeError() *APIError {
	return &APIError{Message: TranslateFailure(FailureDecode, ContextResponse, 0, nil)}
}

// NewNotFoundError builds the APIError for a structurally successful
// response that is missing the expected entity payload.
func NewNotFoundError(entity string, id interface{}) *APIError {
	return &APIError{Message: fmt.Sprintf("%s %v does not exist", entity, id)}
}

// IsNotFound reports whether err is an APIError with a 404 status or an
// entity-absent condition raised after a successful response.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	if apiErr.StatusCode == 404 {
		return true
	}
	return apiErr.StatusCode == 0 && strings.HasSuffix(apiErr.Message, "does not exist")
}

// TranslateFailure maps a raw transport failure to one user-facing message.
// It is a pure mapping and never fails: unrecognized inputs fall back to a
// generic message. Transport vocabulary (DNS, TLS, sockets) never leaks
// through; the remote error list is appended when present and well formed.
func TranslateFailure(kind FailureKind, fctx FailureContext, status int, body map[string]interface{}) string {
	var msg string

	switch kind {
	case FailureTimeout:
		msg = "The Redmine server did not respond within the configured timeout. Please try again later."
	case FailureConnection:
		msg = "Could not connect to the Redmine server. Please check the domain setting and your network."
	case FailureDecode:
		msg = "The Redmine server returned a response that could not be parsed."
	case FailureHTTPStatus:
		msg = statusMessage(fctx, status)
	default:
		msg = "The Redmine request failed."
	}

	// Append the structured error list from the response body when Redmine
	// supplied one ({"errors": ["...", ...]}).
	if remote := remoteErrors(body); remote != "" {
		msg = msg + " Redmine reported: " + remote
	}

	return msg
}

// statusMessage selects the wording for an HTTP status failure.
// The context tag names the entity the caller was working with.
func statusMessage(fctx FailureContext, status int) string {
	subject := "resource"
	switch fctx {
	case ContextIssue:
		subject = "issue"
	case ContextProject:
		subject = "project"
	}

	switch status {
	case 401:
		return "Authentication failed: the Redmine API key was rejected."
	case 403:
		return fmt.Sprintf("Access denied: you do not have permission for this %s operation.", subject)
	case 404:
		return fmt.Sprintf("The requested %s was not found on the Redmine server.", subject)
	case 422:
		return fmt.Sprintf("The Redmine server rejected the %s data as invalid.", subject)
	default:
		if status >= 500 {
			return fmt.Sprintf("The Redmine server encountered an internal error handling the %s request (HTTP %d).", subject, status)
		}
		return fmt.Sprintf("The %s request was rejected by the Redmine server (HTTP %d).", subject, status)
	}
}

// remoteErrors flattens the "errors" list of a decoded Redmine error body.
// Returns "" when the body is absent or not in the expected shape.
func remoteErrors(body map[string]interface{}) string {
	if body == nil {
		return ""
	}
	raw, ok := body["errors"]
	if !ok {
		return ""
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}

	var parts []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

// InferContext maps a request path to its failure context.
// Issue and project paths get entity-specific wording; everything else is
// reported generically.
func InferContext(path string) FailureContext {
	if strings.Contains(path, "/issues") {
		return ContextIssue
	}
	if strings.Contains(path, "/projects") {
		return ContextProject
	}
	return ContextRequest
}
