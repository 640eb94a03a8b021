package infrastructure

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"redmine-mcp-server/internal/domain"
)

// mockRedmineServer simulates the subset of the Redmine REST API the client
// talks to.
func mockRedmineServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		// GET /issues/{id}.json
		case r.Method == "GET" && r.URL.Path == "/issues/42.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issue": map[string]interface{}{
					"id":      42,
					"subject": "Broken login",
					"status":  map[string]interface{}{"id": 1, "name": "New"},
					"project": map[string]interface{}{"id": 7, "name": "Demo"},
					"journals": []map[string]interface{}{
						{"id": 100, "notes": "first note", "user": map[string]interface{}{"id": 10, "name": "John Smith"}},
						{"id": 101, "notes": "second note", "user": map[string]interface{}{"id": 11, "name": "Anna Doe"}},
					},
				},
			})

		case r.Method == "GET" && r.URL.Path == "/issues/404.json":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":["Issue does not exist"]}`))

		// GET /issues.json
		case r.Method == "GET" && r.URL.Path == "/issues.json":
			if r.URL.Query().Get("limit") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issues": []map[string]interface{}{
					{"id": 1, "subject": "First"},
					{"id": 2, "subject": "Second"},
				},
				"total_count": 2,
			})

		// POST /issues.json
		case r.Method == "POST" && r.URL.Path == "/issues.json":
			var body map[string]map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if body["issue"]["subject"] == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"errors":["Subject cannot be blank"]}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"issue":{"id":123}}`))

		// PUT /issues/{id}.json returns no body
		case r.Method == "PUT" && r.URL.Path == "/issues/42.json":
			w.WriteHeader(http.StatusNoContent)

		case r.Method == "PUT" && r.URL.Path == "/issues/404.json":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":["Issue does not exist"]}`))

		// DELETE /issues/{id}.json returns no body
		case r.Method == "DELETE" && r.URL.Path == "/issues/42.json":
			w.WriteHeader(http.StatusNoContent)

		// GET /projects/{ident}.json
		case r.Method == "GET" && r.URL.Path == "/projects/demo.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"project": map[string]interface{}{
					"id":         7,
					"name":       "Demo",
					"identifier": "demo",
				},
			})

		// GET /issue_statuses.json
		case r.Method == "GET" && r.URL.Path == "/issue_statuses.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issue_statuses": []map[string]interface{}{
					{"id": 1, "name": "New"},
					{"id": 5, "name": "Closed"},
				},
			})

		// GET /users.json
		case r.Method == "GET" && r.URL.Path == "/users.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"users": []map[string]interface{}{
					{"id": 10, "login": "jsmith", "firstname": "John", "lastname": "Smith"},
				},
			})

		// GET /my/account.json echoes the API key header back for auth tests
		case r.Method == "GET" && r.URL.Path == "/my/account.json":
			if r.Header.Get("X-Redmine-API-Key") != "test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"user": map[string]interface{}{"id": 10, "login": "jsmith"},
			})

		// GET /attachments/{id}.json
		case r.Method == "GET" && r.URL.Path == "/attachments/9.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"attachment": map[string]interface{}{
					"id":           9,
					"filename":     "shot.png",
					"content_type": "image/png",
					"content_url":  "http://" + r.Host + "/attachments/download/9/shot.png",
				},
			})

		case r.Method == "GET" && r.URL.Path == "/attachments/download/9/shot.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("PNGDATA"))

		// Malformed JSON on a 2xx
		case r.Method == "GET" && r.URL.Path == "/trackers.json":
			w.Write([]byte("<html>not json</html>"))

		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":["Not found"]}`))
		}
	}))
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(server.URL, "test-key", 5*time.Second)
}

// TestGetIssue verifies the happy path.
func TestGetIssue(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	issue, err := client.GetIssue(42)
	if err != nil {
		t.Fatalf("GetIssue() error = %v, want nil", err)
	}

	if issue.ID != 42 {
		t.Errorf("issue.ID = %d, want 42", issue.ID)
	}
	if issue.Subject != "Broken login" {
		t.Errorf("issue.Subject = %q, want 'Broken login'", issue.Subject)
	}
	if issue.Status.Name != "New" {
		t.Errorf("issue.Status.Name = %q, want New", issue.Status.Name)
	}
}

// TestGetIssue_NotFound verifies the 404 translation: issue wording, the
// status code preserved, and the remote error incorporated.
func TestGetIssue_NotFound(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	_, err := client.GetIssue(404)
	if err == nil {
		t.Fatal("GetIssue(404) error = nil, want error")
	}

	apiErr, ok := err.(*domain.APIError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.APIError", err)
	}
	if apiErr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "requested issue was not found") {
		t.Errorf("Message = %q, want issue-specific 404 wording", apiErr.Message)
	}
	if !strings.Contains(apiErr.Message, "Redmine reported: Issue does not exist") {
		t.Errorf("Message = %q, want remote error appended", apiErr.Message)
	}
	if !domain.IsNotFound(apiErr) {
		t.Error("IsNotFound() = false, want true")
	}
}

// TestDo_Timeout verifies the timeout classification: no status code, no
// transport vocabulary in the message.
func TestDo_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 50*time.Millisecond)

	_, err := client.GetIssue(42)
	if err == nil {
		t.Fatal("GetIssue() error = nil, want timeout error")
	}

	apiErr, ok := err.(*domain.APIError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.APIError", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a timeout", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "did not respond") {
		t.Errorf("Message = %q, want timeout wording", apiErr.Message)
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "context deadline") {
		t.Errorf("Message leaks transport detail: %q", apiErr.Message)
	}
}

// TestDo_ConnectionFailure verifies the classification of an unreachable
// server.
func TestDo_ConnectionFailure(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	client := NewClient(serverURL, "test-key", 2*time.Second)

	_, err := client.GetIssue(42)
	if err == nil {
		t.Fatal("GetIssue() error = nil, want connection error")
	}

	apiErr, ok := err.(*domain.APIError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.APIError", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a connection failure", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "Could not connect") {
		t.Errorf("Message = %q, want connection wording", apiErr.Message)
	}
}

// TestDo_DecodeFailure verifies the classification of non-JSON 2xx bodies.
func TestDo_DecodeFailure(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	_, err := client.Trackers()
	if err == nil {
		t.Fatal("Trackers() error = nil, want decode error")
	}

	apiErr, ok := err.(*domain.APIError)
	if !ok {
		t.Fatalf("error type = %T, want *domain.APIError", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a decode failure", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "could not be parsed") {
		t.Errorf("Message = %q, want decode wording", apiErr.Message)
	}
}

// TestUpdateIssue_EmptyBodySuccess verifies that a 2xx with no body is a
// success, not a decode failure.
func TestUpdateIssue_EmptyBodySuccess(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	subject := "New subject"
	if err := client.UpdateIssue(42, domain.IssueUpdate{Subject: &subject}); err != nil {
		t.Errorf("UpdateIssue() error = %v, want nil", err)
	}
}

// TestUpdateIssue_NoFields verifies that an empty update is rejected before
// any request is made.
func TestUpdateIssue_NoFields(t *testing.T) {
	client := NewClient("http://never.called", "test-key", time.Second)

	err := client.UpdateIssue(42, domain.IssueUpdate{})
	if err == nil {
		t.Fatal("UpdateIssue() with no fields: error = nil, want error")
	}
	if !strings.Contains(err.Error(), "no fields provided to update") {
		t.Errorf("error = %v, want empty-update message", err)
	}
}

// TestCreateIssue verifies creation and the returned ID.
func TestCreateIssue(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	id, err := client.CreateIssue(domain.IssueDraft{ProjectID: 7, Subject: "New bug"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v, want nil", err)
	}
	if id != 123 {
		t.Errorf("CreateIssue() = %d, want 123", id)
	}
}

// TestCreateIssue_ValidationRejected verifies the 422 translation with the
// remote errors list.
func TestCreateIssue_ValidationRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":["Subject cannot be blank","Tracker cannot be blank"]}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	_, err := client.CreateIssue(domain.IssueDraft{ProjectID: 7, Subject: "x"})
	if err == nil {
		t.Fatal("CreateIssue() error = nil, want 422 error")
	}

	apiErr := err.(*domain.APIError)
	if apiErr.StatusCode != 422 {
		t.Errorf("StatusCode = %d, want 422", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "Subject cannot be blank; Tracker cannot be blank") {
		t.Errorf("Message = %q, want both remote errors", apiErr.Message)
	}
}

// TestListIssues verifies the default paging and decoding.
func TestListIssues(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	issues, err := client.ListIssues(domain.IssueFilter{ProjectID: 7})
	if err != nil {
		t.Fatalf("ListIssues() error = %v, want nil", err)
	}
	if len(issues) != 2 {
		t.Errorf("ListIssues() returned %d issues, want 2", len(issues))
	}
}

// TestIssueJournals verifies the journals sub-resource decoding.
func TestIssueJournals(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	journals, err := client.IssueJournals(42)
	if err != nil {
		t.Fatalf("IssueJournals() error = %v, want nil", err)
	}
	if len(journals) != 2 {
		t.Fatalf("IssueJournals() returned %d journals, want 2", len(journals))
	}
	if journals[0].Notes != "first note" {
		t.Errorf("journals[0].Notes = %q, want 'first note'", journals[0].Notes)
	}
	if journals[1].User.Name != "Anna Doe" {
		t.Errorf("journals[1].User.Name = %q, want 'Anna Doe'", journals[1].User.Name)
	}
}

// TestGetProject verifies project retrieval by identifier.
func TestGetProject(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	project, err := client.GetProject("demo")
	if err != nil {
		t.Fatalf("GetProject() error = %v, want nil", err)
	}
	if project.Identifier != "demo" {
		t.Errorf("project.Identifier = %q, want demo", project.Identifier)
	}
}

// TestIssueStatuses verifies enumeration decoding.
func TestIssueStatuses(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	statuses, err := client.IssueStatuses()
	if err != nil {
		t.Fatalf("IssueStatuses() error = %v, want nil", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("IssueStatuses() returned %d values, want 2", len(statuses))
	}
	if statuses[1].ID != 5 || statuses[1].Name != "Closed" {
		t.Errorf("statuses[1] = %+v, want {5 Closed}", statuses[1])
	}
}

// TestAPIKeyHeader verifies that every request carries the configured key.
func TestAPIKeyHeader(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()

	good := NewClient(server.URL, "test-key", 5*time.Second)
	if !good.TestConnection() {
		t.Error("TestConnection() = false with the correct API key, want true")
	}

	bad := NewClient(server.URL, "wrong-key", 5*time.Second)
	if bad.TestConnection() {
		t.Error("TestConnection() = true with a wrong API key, want false")
	}
}

// TestSearchUsers_BlankQuery verifies that a blank query short-circuits
// without a network call.
func TestSearchUsers_BlankQuery(t *testing.T) {
	client := NewClient("http://never.called", "test-key", time.Second)

	users, err := client.SearchUsers("   ", 10)
	if err != nil {
		t.Errorf("SearchUsers(blank) error = %v, want nil", err)
	}
	if users != nil {
		t.Errorf("SearchUsers(blank) = %v, want nil", users)
	}
}

// TestDownloadAttachment verifies the binary fetch through the same client.
func TestDownloadAttachment(t *testing.T) {
	server := mockRedmineServer()
	defer server.Close()
	client := newTestClient(server)

	data, attachment, err := client.DownloadAttachment(9)
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v, want nil", err)
	}
	if string(data) != "PNGDATA" {
		t.Errorf("content = %q, want PNGDATA", data)
	}
	if attachment.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", attachment.ContentType)
	}
}

// TestDownloadAttachment_NoURL verifies the missing content_url error.
func TestDownloadAttachment_NoURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"attachment": map[string]interface{}{"id": 9, "filename": "shot.png"},
		})
	}))
	defer server.Close()
	client := newTestClient(server)

	_, _, err := client.DownloadAttachment(9)
	if err == nil {
		t.Fatal("DownloadAttachment() error = nil, want missing URL error")
	}
	if !strings.Contains(err.Error(), "no download URL") {
		t.Errorf("error = %v, want missing URL message", err)
	}
}

// TestCreateProject verifies project creation and the returned ID.
func TestCreateProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/projects.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["project"]["identifier"] != "demo" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"errors":["Identifier cannot be blank"]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"project":{"id":77}}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	id, err := client.CreateProject(domain.ProjectDraft{Name: "Demo", Identifier: "demo"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v, want nil", err)
	}
	if id != 77 {
		t.Errorf("CreateProject() = %d, want 77", id)
	}
}

// TestProjectLifecycle verifies update, archive, unarchive and delete, all
// of which answer with empty bodies.
func TestProjectLifecycle(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	client := newTestClient(server)

	name := "Renamed"
	if err := client.UpdateProject("demo", domain.ProjectUpdate{Name: &name}); err != nil {
		t.Errorf("UpdateProject() error = %v, want nil", err)
	}
	if err := client.ArchiveProject("demo"); err != nil {
		t.Errorf("ArchiveProject() error = %v, want nil", err)
	}
	if err := client.UnarchiveProject("demo"); err != nil {
		t.Errorf("UnarchiveProject() error = %v, want nil", err)
	}
	if err := client.DeleteProject("demo"); err != nil {
		t.Errorf("DeleteProject() error = %v, want nil", err)
	}

	want := []string{
		"PUT /projects/demo.json",
		"PUT /projects/demo/archive.json",
		"PUT /projects/demo/unarchive.json",
		"DELETE /projects/demo.json",
	}
	if len(paths) != len(want) {
		t.Fatalf("requests = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

// TestWatchers verifies the watcher subscription endpoints.
func TestWatchers(t *testing.T) {
	var lastBody map[string]interface{}
	var lastPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.Method + " " + r.URL.Path
		if r.Method == "POST" {
			json.NewDecoder(r.Body).Decode(&lastBody)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	client := newTestClient(server)

	if err := client.AddWatcher(42, 10); err != nil {
		t.Errorf("AddWatcher() error = %v, want nil", err)
	}
	if lastPath != "POST /issues/42/watchers.json" {
		t.Errorf("request = %q, want POST /issues/42/watchers.json", lastPath)
	}
	if lastBody["user_id"] != float64(10) {
		t.Errorf("user_id sent = %v, want 10", lastBody["user_id"])
	}

	if err := client.RemoveWatcher(42, 10); err != nil {
		t.Errorf("RemoveWatcher() error = %v, want nil", err)
	}
	if lastPath != "DELETE /issues/42/watchers/10.json" {
		t.Errorf("request = %q, want DELETE /issues/42/watchers/10.json", lastPath)
	}
}

// TestCreateTimeEntry verifies creation and the spent_on default.
func TestCreateTimeEntry(t *testing.T) {
	var lastEntry map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		lastEntry = body["time_entry"]
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"time_entry":{"id":55}}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	id, err := client.CreateTimeEntry(domain.TimeEntryDraft{
		IssueID:    42,
		Hours:      1.5,
		ActivityID: 9,
	})
	if err != nil {
		t.Fatalf("CreateTimeEntry() error = %v, want nil", err)
	}
	if id != 55 {
		t.Errorf("CreateTimeEntry() = %d, want 55", id)
	}

	spentOn, _ := lastEntry["spent_on"].(string)
	if spentOn == "" {
		t.Error("spent_on missing from payload, want today's date as default")
	}
	if _, err := time.Parse("2006-01-02", spentOn); err != nil {
		t.Errorf("spent_on = %q, want YYYY-MM-DD", spentOn)
	}
}

// TestListUsers_ClampsLimit verifies the 1..100 limit clamp.
func TestListUsers_ClampsLimit(t *testing.T) {
	var lastLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"users":[]}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	if _, err := client.ListUsers(500, 0, nil); err != nil {
		t.Fatalf("ListUsers() error = %v, want nil", err)
	}
	if lastLimit != "100" {
		t.Errorf("limit sent = %s, want clamped to 100", lastLimit)
	}

	if _, err := client.ListUsers(0, 0, nil); err != nil {
		t.Fatalf("ListUsers() error = %v, want nil", err)
	}
	if lastLimit != "1" {
		t.Errorf("limit sent = %s, want clamped to 1", lastLimit)
	}
}

// TestGetUser verifies single user retrieval.
func TestGetUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/10.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"user":{"id":10,"login":"jsmith","firstname":"John","lastname":"Smith"}}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	user, err := client.GetUser(10)
	if err != nil {
		t.Fatalf("GetUser() error = %v, want nil", err)
	}
	if user.Login != "jsmith" {
		t.Errorf("user.Login = %q, want jsmith", user.Login)
	}
	if user.FullName() != "John Smith" {
		t.Errorf("FullName() = %q, want John Smith", user.FullName())
	}
}

// TestGetIssue_EntityMissing verifies the entity-absent condition: a 2xx
// response without the expected top-level key.
func TestGetIssue_EntityMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"something_else": {}}`))
	}))
	defer server.Close()
	client := newTestClient(server)

	_, err := client.GetIssue(42)
	if err == nil {
		t.Fatal("GetIssue() error = nil, want entity-absent error")
	}

	apiErr := err.(*domain.APIError)
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for entity-absent", apiErr.StatusCode)
	}
	if apiErr.Message != "Issue 42 does not exist" {
		t.Errorf("Message = %q, want 'Issue 42 does not exist'", apiErr.Message)
	}
	if !domain.IsNotFound(apiErr) {
		t.Error("IsNotFound() = false, want true")
	}
}
