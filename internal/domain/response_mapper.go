package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultResponseMapper is the default implementation of ResponseMapper.
// It converts Redmine API responses to MCP-compliant tool responses.
type DefaultResponseMapper struct{}

// NewResponseMapper creates a new instance of DefaultResponseMapper.
func NewResponseMapper() ResponseMapper {
	return &DefaultResponseMapper{}
}

// MapToToolResponse converts an API response to MCP format.
// The apiResponse parameter should be the deserialized JSON response from
// the Redmine API, or any entity/slice the client mapped it into.
func (m *DefaultResponseMapper) MapToToolResponse(apiResponse interface{}) (*ToolResponse, error) {
	if apiResponse == nil {
		return &ToolResponse{
			Content: []ContentBlock{
				{
					Type: "text",
					Text: "{}",
				},
			},
		}, nil
	}

	// Convert the response to JSON
	jsonBytes, err := json.MarshalIndent(apiResponse, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal API response: %w", err)
	}

	return &ToolResponse{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

// MapError converts an API error to MCP error format.
// APIError carries the already-translated user-facing message; this method
// only selects the JSON-RPC code and attaches the structured details.
func (m *DefaultResponseMapper) MapError(err error) *Error {
	if err == nil {
		return nil
	}

	// Check if it's already a domain Error
	if domainErr, ok := err.(*Error); ok {
		return domainErr
	}

	// Check if it's an APIError from the Redmine client
	if apiErr, ok := err.(*APIError); ok {
		return mapAPIError(apiErr)
	}

	// Default to internal error for unknown error types
	return &Error{
		Code:    InternalError,
		Message: err.Error(),
	}
}

// mapAPIError maps the APIError taxonomy to JSON-RPC error codes.
func mapAPIError(apiErr *APIError) *Error {
	code := APIErrorCode

	switch {
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		code = AuthenticationError
	case IsNotFound(apiErr):
		code = NotFoundError
	case apiErr.StatusCode == 0 && !strings.HasSuffix(apiErr.Message, "does not exist"):
		// No HTTP status and no missing entity: the call never completed
		// (timeout, connection failure, undecodable response).
		code = NetworkError
	}

	// Include the structured details in the data field
	errorData := map[string]interface{}{}
	if apiErr.StatusCode != 0 {
		errorData["statusCode"] = apiErr.StatusCode
	}
	if apiErr.Body != nil {
		errorData["body"] = apiErr.Body
	}
	if len(errorData) == 0 {
		errorData = nil
	}

	return &Error{
		Code:    code,
		Message: apiErr.Message,
		Data:    errorData,
	}
}
