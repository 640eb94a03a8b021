package domain

import (
	"testing"
)

// TestIssueDraft_Payload verifies the create payload shape and the mandatory
// fields.
func TestIssueDraft_Payload(t *testing.T) {
	draft := IssueDraft{
		ProjectID:   1,
		Subject:     "Broken login",
		Description: "Steps to reproduce",
		TrackerID:   2,
		PriorityID:  4,
	}

	payload, err := draft.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	issue, ok := payload["issue"].(map[string]interface{})
	if !ok {
		t.Fatal("payload missing issue wrapper")
	}

	if issue["project_id"] != 1 {
		t.Errorf("project_id = %v, want 1", issue["project_id"])
	}
	if issue["subject"] != "Broken login" {
		t.Errorf("subject = %v, want 'Broken login'", issue["subject"])
	}
	if issue["tracker_id"] != 2 {
		t.Errorf("tracker_id = %v, want 2", issue["tracker_id"])
	}
	if _, exists := issue["status_id"]; exists {
		t.Error("status_id present in payload, want omitted for zero value")
	}
	if _, exists := issue["assigned_to_id"]; exists {
		t.Error("assigned_to_id present in payload, want omitted for zero value")
	}
}

// TestIssueDraft_PayloadRequiredFields verifies that project and subject are
// mandatory.
func TestIssueDraft_PayloadRequiredFields(t *testing.T) {
	if _, err := (IssueDraft{Subject: "no project"}).Payload(); err == nil {
		t.Error("Payload() without project id: error = nil, want error")
	}
	if _, err := (IssueDraft{ProjectID: 1}).Payload(); err == nil {
		t.Error("Payload() without subject: error = nil, want error")
	}
}

// TestIssueUpdate_PayloadOnlySetFields verifies that only set pointer fields
// reach the payload.
func TestIssueUpdate_PayloadOnlySetFields(t *testing.T) {
	subject := "New subject"
	statusID := 3

	update := IssueUpdate{
		Subject:  &subject,
		StatusID: &statusID,
	}

	payload, err := update.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	issue := payload["issue"].(map[string]interface{})
	if len(issue) != 2 {
		t.Errorf("payload has %d fields, want 2: %v", len(issue), issue)
	}
	if issue["subject"] != "New subject" {
		t.Errorf("subject = %v, want 'New subject'", issue["subject"])
	}
	if issue["status_id"] != 3 {
		t.Errorf("status_id = %v, want 3", issue["status_id"])
	}
}

// TestIssueUpdate_PayloadEmpty verifies that an update with no fields is
// rejected before any request is made.
func TestIssueUpdate_PayloadEmpty(t *testing.T) {
	if _, err := (IssueUpdate{}).Payload(); err == nil {
		t.Error("Payload() on empty update: error = nil, want error")
	}
}

// TestIssueUpdate_ZeroValuesAreSent verifies that explicitly set zero values
// survive into the payload. Pointer presence, not the value, decides.
func TestIssueUpdate_ZeroValuesAreSent(t *testing.T) {
	empty := ""
	zero := 0

	update := IssueUpdate{
		Description: &empty,
		DoneRatio:   &zero,
	}

	payload, err := update.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	issue := payload["issue"].(map[string]interface{})
	if v, exists := issue["description"]; !exists || v != "" {
		t.Errorf("description = %v (present=%v), want explicit empty string", v, exists)
	}
	if v, exists := issue["done_ratio"]; !exists || v != 0 {
		t.Errorf("done_ratio = %v (present=%v), want explicit 0", v, exists)
	}
}

// TestOptionalID_TriState covers the unset, set, and cleared shapes of a
// parent issue reference.
func TestOptionalID_TriState(t *testing.T) {
	var unset OptionalID
	if unset.Present() {
		t.Error("zero OptionalID reports Present() = true, want false")
	}

	set := SetID(7)
	if !set.Present() {
		t.Error("SetID(7).Present() = false, want true")
	}
	if set.Value() != 7 {
		t.Errorf("SetID(7).Value() = %v, want 7", set.Value())
	}

	cleared := ClearID()
	if !cleared.Present() {
		t.Error("ClearID().Present() = false, want true")
	}
	if cleared.Value() != "" {
		t.Errorf("ClearID().Value() = %v, want empty string", cleared.Value())
	}
}

// TestIssueUpdate_ClearParent verifies the cleared parent serialization.
func TestIssueUpdate_ClearParent(t *testing.T) {
	update := IssueUpdate{ParentIssue: ClearID()}

	payload, err := update.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	issue := payload["issue"].(map[string]interface{})
	if v, exists := issue["parent_issue_id"]; !exists || v != "" {
		t.Errorf("parent_issue_id = %v (present=%v), want empty string", v, exists)
	}
}

// TestUser_FullName covers the display name variants.
func TestUser_FullName(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{Firstname: "John", Lastname: "Smith"}, "John Smith"},
		{User{Firstname: "John"}, "John"},
		{User{Lastname: "Smith"}, "Smith"},
		{User{}, ""},
	}

	for _, tt := range tests {
		if got := tt.user.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}

// TestProjectDraft_Payload verifies the project create payload.
func TestProjectDraft_Payload(t *testing.T) {
	draft := ProjectDraft{
		Name:       "Demo",
		Identifier: "demo",
		IsPublic:   true,
	}

	payload, err := draft.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	project := payload["project"].(map[string]interface{})
	if project["name"] != "Demo" {
		t.Errorf("name = %v, want Demo", project["name"])
	}
	if project["identifier"] != "demo" {
		t.Errorf("identifier = %v, want demo", project["identifier"])
	}
	if project["is_public"] != true {
		t.Errorf("is_public = %v, want true", project["is_public"])
	}

	if _, err := (ProjectDraft{Name: "no identifier"}).Payload(); err == nil {
		t.Error("Payload() without identifier: error = nil, want error")
	}
}

// TestTimeEntryDraft_Payload verifies the time entry payload and its
// validation.
func TestTimeEntryDraft_Payload(t *testing.T) {
	draft := TimeEntryDraft{
		IssueID:    42,
		Hours:      1.5,
		ActivityID: 9,
		Comments:   "review",
	}

	payload, err := draft.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v, want nil", err)
	}

	entry := payload["time_entry"].(map[string]interface{})
	if entry["issue_id"] != 42 {
		t.Errorf("issue_id = %v, want 42", entry["issue_id"])
	}
	if entry["hours"] != 1.5 {
		t.Errorf("hours = %v, want 1.5", entry["hours"])
	}

	bad := []TimeEntryDraft{
		{Hours: 1, ActivityID: 9},
		{IssueID: 42, ActivityID: 9},
		{IssueID: 42, Hours: -1, ActivityID: 9},
		{IssueID: 42, Hours: 1},
	}
	for _, d := range bad {
		if _, err := d.Payload(); err == nil {
			t.Errorf("Payload() for %+v: error = nil, want error", d)
		}
	}
}
