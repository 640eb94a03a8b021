package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestMapToToolResponse_Entity verifies the JSON text block shape.
func TestMapToToolResponse_Entity(t *testing.T) {
	mapper := NewResponseMapper()

	issue := Issue{
		ID:      42,
		Subject: "Broken login",
		Status:  NamedRef{ID: 1, Name: "New"},
	}

	resp, err := mapper.MapToToolResponse(issue)
	if err != nil {
		t.Fatalf("MapToToolResponse() error = %v, want nil", err)
	}

	if len(resp.Content) != 1 {
		t.Fatalf("Content has %d blocks, want 1", len(resp.Content))
	}
	block := resp.Content[0]
	if block.Type != "text" {
		t.Errorf("Content[0].Type = %s, want text", block.Type)
	}

	// The text must be the JSON rendering of the entity
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(block.Text), &decoded); err != nil {
		t.Fatalf("Content[0].Text is not valid JSON: %v", err)
	}
	if decoded["subject"] != "Broken login" {
		t.Errorf("decoded subject = %v, want 'Broken login'", decoded["subject"])
	}
}

// TestMapToToolResponse_Nil verifies the empty object fallback.
func TestMapToToolResponse_Nil(t *testing.T) {
	mapper := NewResponseMapper()

	resp, err := mapper.MapToToolResponse(nil)
	if err != nil {
		t.Fatalf("MapToToolResponse(nil) error = %v, want nil", err)
	}
	if resp.Content[0].Text != "{}" {
		t.Errorf("Content[0].Text = %q, want {}", resp.Content[0].Text)
	}
}

// TestMapError_Codes verifies the APIError taxonomy to JSON-RPC code mapping.
func TestMapError_Codes(t *testing.T) {
	mapper := NewResponseMapper()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"401 is authentication", NewStatusError(ContextRequest, 401, nil), AuthenticationError},
		{"403 is authentication", NewStatusError(ContextIssue, 403, nil), AuthenticationError},
		{"404 is not found", NewStatusError(ContextIssue, 404, nil), NotFoundError},
		{"missing entity is not found", NewNotFoundError("issue", 42), NotFoundError},
		{"timeout is network", NewTimeoutError(ContextRequest), NetworkError},
		{"connection is network", NewConnectionError(ContextConnection), NetworkError},
		{"decode is network", NewDecodeError(), NetworkError},
		{"422 is api error", NewStatusError(ContextIssue, 422, nil), APIErrorCode},
		{"500 is api error", NewStatusError(ContextProject, 500, nil), APIErrorCode},
		{"plain error is internal", errPlain("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapper.MapError(tt.err)
			if mapped.Code != tt.want {
				t.Errorf("MapError(%v).Code = %d, want %d", tt.err, mapped.Code, tt.want)
			}
			if mapped.Message == "" {
				t.Error("MapError() produced empty message")
			}
		})
	}
}

// TestMapError_PassesThroughDomainError verifies that an already-mapped
// error is returned unchanged.
func TestMapError_PassesThroughDomainError(t *testing.T) {
	mapper := NewResponseMapper()

	original := &Error{Code: InvalidParams, Message: "missing required parameter: issue_id"}
	mapped := mapper.MapError(original)

	if mapped != original {
		t.Errorf("MapError() = %v, want the original *Error unchanged", mapped)
	}
}

// TestMapError_AttachesStatusData verifies the structured details on HTTP
// failures.
func TestMapError_AttachesStatusData(t *testing.T) {
	mapper := NewResponseMapper()

	body := map[string]interface{}{"errors": []interface{}{"Subject cannot be blank"}}
	mapped := mapper.MapError(NewStatusError(ContextIssue, 422, body))

	data, ok := mapped.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data = %T, want map", mapped.Data)
	}
	if data["statusCode"] != 422 {
		t.Errorf("statusCode = %v, want 422", data["statusCode"])
	}
	if data["body"] == nil {
		t.Error("body missing from error data")
	}
	if !strings.Contains(mapped.Message, "Subject cannot be blank") {
		t.Errorf("Message = %q, want remote error incorporated", mapped.Message)
	}
}

// TestMapError_Nil verifies nil stays nil.
func TestMapError_Nil(t *testing.T) {
	mapper := NewResponseMapper()
	if mapped := mapper.MapError(nil); mapped != nil {
		t.Errorf("MapError(nil) = %v, want nil", mapped)
	}
}
