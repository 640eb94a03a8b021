package infrastructure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"redmine-mcp-server/internal/domain"
)

// Client talks to one Redmine instance over its REST API.
// All network I/O funnels through the do method so that every failure is
// translated exactly once, at this boundary, into a *domain.APIError.
type Client struct {
	domain     string
	httpClient *http.Client
}

// NewClient creates a Redmine API client for the given domain.
// The API key is attached to every request via the X-Redmine-API-Key header;
// timeout bounds each individual HTTP call.
func NewClient(redmineDomain, apiKey string, timeout time.Duration) *Client {
	transport := &apiKeyTransport{
		base:   http.DefaultTransport,
		apiKey: apiKey,
	}
	return &Client{
		domain: strings.TrimRight(redmineDomain, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// NewClientWithHTTPClient creates a client with a caller-supplied HTTP
// client. This is primarily used for testing.
func NewClientWithHTTPClient(redmineDomain string, httpClient *http.Client) *Client {
	return &Client{
		domain:     strings.TrimRight(redmineDomain, "/"),
		httpClient: httpClient,
	}
}

// Domain returns the configured base URL for the Redmine instance.
func (c *Client) Domain() string {
	return c.domain
}

// apiKeyTransport is an http.RoundTripper that adds the Redmine API key
// header to every request.
type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

// RoundTrip implements http.RoundTripper.
func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set("X-Redmine-API-Key", t.apiKey)
	return t.base.RoundTrip(clonedReq)
}

// do executes one HTTP call against the Redmine API and decodes the JSON
// response. A 2xx response with an empty body yields an empty map (delete
// and archive operations return no payload). Every failure is routed
// through the error translator with a context inferred from the path.
func (c *Client) do(method, path string, query url.Values, body interface{}) (map[string]interface{}, error) {
	// Build the full endpoint URL
	endpoint := c.domain + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	fctx := domain.InferContext(path)

	// Marshal the request body when present
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// Execute the request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return nil, domain.NewTimeoutError(domain.ContextRequest)
		}
		return nil, domain.NewConnectionError(domain.ContextConnection)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewConnectionError(domain.ContextConnection)
	}

	// Check for error status codes
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Decode the error body best-effort; Redmine reports
		// {"errors": ["...", ...]} but the body may be anything.
		var errBody map[string]interface{}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &errBody)
		}
		return nil, domain.NewStatusError(fctx, resp.StatusCode, errBody)
	}

	// Empty body on success is a valid outcome
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, domain.NewDecodeError()
	}

	return parsed, nil
}

// decodeKey re-decodes one top-level key of a parsed response into dst.
// Returns false when the key is absent, which callers treat as the
// entity-not-found condition.
func decodeKey(payload map[string]interface{}, key string, dst interface{}) (bool, error) {
	raw, ok := payload[key]
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return true, fmt.Errorf("failed to remarshal %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, domain.NewDecodeError()
	}
	return true, nil
}

// includeQuery builds the ?include=a,b,c query convention for requesting
// related sub-resources.
func includeQuery(include []string) url.Values {
	if len(include) == 0 {
		return nil
	}
	query := url.Values{}
	query.Set("include", strings.Join(include, ","))
	return query
}

// --- Issues ---

// GetIssue retrieves a single issue by ID.
// Optional include values ("journals", "attachments", ...) request related
// sub-resources.
func (c *Client) GetIssue(issueID int, include ...string) (*domain.Issue, error) {
	payload, err := c.do("GET", fmt.Sprintf("/issues/%d.json", issueID), includeQuery(include), nil)
	if err != nil {
		return nil, err
	}

	var issue domain.Issue
	found, err := decodeKey(payload, "issue", &issue)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewNotFoundError("Issue", issueID)
	}

	return &issue, nil
}

// GetIssueRaw retrieves a single issue as the raw decoded API object.
// Used for sub-resources (journals, attachments) that the Issue entity
// does not model.
func (c *Client) GetIssueRaw(issueID int, include ...string) (map[string]interface{}, error) {
	payload, err := c.do("GET", fmt.Sprintf("/issues/%d.json", issueID), includeQuery(include), nil)
	if err != nil {
		return nil, err
	}

	raw, ok := payload["issue"].(map[string]interface{})
	if !ok {
		return nil, domain.NewNotFoundError("Issue", issueID)
	}
	return raw, nil
}

// ListIssues lists issues matching the filter. An absent "issues" key
// yields an empty slice, not an error.
func (c *Client) ListIssues(filter domain.IssueFilter) ([]domain.Issue, error) {
	query := url.Values{}

	setInt := func(key string, value int) {
		if value > 0 {
			query.Set(key, strconv.Itoa(value))
		}
	}
	setInt("project_id", filter.ProjectID)
	setInt("status_id", filter.StatusID)
	if filter.StatusID == 0 && filter.StatusFilter != "" {
		query.Set("status_id", filter.StatusFilter)
	}
	setInt("assigned_to_id", filter.AssignedToID)
	setInt("tracker_id", filter.TrackerID)
	setInt("priority_id", filter.PriorityID)
	setInt("author_id", filter.AuthorID)
	if filter.CreatedOn != "" {
		query.Set("created_on", filter.CreatedOn)
	}
	if filter.UpdatedOn != "" {
		query.Set("updated_on", filter.UpdatedOn)
	}
	if filter.Sort != "" {
		query.Set("sort", filter.Sort)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(max(filter.Offset, 0)))
	if len(filter.Include) > 0 {
		query.Set("include", strings.Join(filter.Include, ","))
	}

	payload, err := c.do("GET", "/issues.json", query, nil)
	if err != nil {
		return nil, err
	}

	var issues []domain.Issue
	if _, err := decodeKey(payload, "issues", &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// CreateIssue creates a new issue and returns its ID.
func (c *Client) CreateIssue(draft domain.IssueDraft) (int, error) {
	body, err := draft.Payload()
	if err != nil {
		return 0, &domain.APIError{Message: fmt.Sprintf("issue validation failed: %v", err)}
	}

	payload, err := c.do("POST", "/issues.json", nil, body)
	if err != nil {
		return 0, err
	}

	var issue struct {
		ID int `json:"id"`
	}
	found, err := decodeKey(payload, "issue", &issue)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &domain.APIError{Message: "issue creation failed: response contained no issue data"}
	}

	return issue.ID, nil
}

// UpdateIssue applies a partial update to an issue.
// Returns an error when the update sets no fields.
func (c *Client) UpdateIssue(issueID int, update domain.IssueUpdate) error {
	body, err := update.Payload()
	if err != nil {
		return &domain.APIError{Message: err.Error()}
	}

	_, err = c.do("PUT", fmt.Sprintf("/issues/%d.json", issueID), nil, body)
	return err
}

// DeleteIssue deletes an issue.
func (c *Client) DeleteIssue(issueID int) error {
	_, err := c.do("DELETE", fmt.Sprintf("/issues/%d.json", issueID), nil, nil)
	return err
}

// AddWatcher subscribes a user to an issue.
func (c *Client) AddWatcher(issueID, userID int) error {
	body := map[string]interface{}{"user_id": userID}
	_, err := c.do("POST", fmt.Sprintf("/issues/%d/watchers.json", issueID), nil, body)
	return err
}

// RemoveWatcher unsubscribes a user from an issue.
func (c *Client) RemoveWatcher(issueID, userID int) error {
	_, err := c.do("DELETE", fmt.Sprintf("/issues/%d/watchers/%d.json", issueID, userID), nil, nil)
	return err
}

// IssueJournals returns the notes and change records of an issue.
func (c *Client) IssueJournals(issueID int) ([]domain.Journal, error) {
	raw, err := c.GetIssueRaw(issueID, "journals")
	if err != nil {
		return nil, err
	}

	var journals []domain.Journal
	if _, err := decodeKey(raw, "journals", &journals); err != nil {
		return nil, err
	}
	return journals, nil
}

// --- Projects ---

// GetProject retrieves a project by numeric ID or string identifier.
func (c *Client) GetProject(ident string, include ...string) (*domain.Project, error) {
	payload, err := c.do("GET", fmt.Sprintf("/projects/%s.json", ident), includeQuery(include), nil)
	if err != nil {
		return nil, err
	}

	var project domain.Project
	found, err := decodeKey(payload, "project", &project)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewNotFoundError("Project", ident)
	}

	return &project, nil
}

// ListProjects lists projects visible to the API key.
func (c *Client) ListProjects(limit, offset int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(max(offset, 0)))

	payload, err := c.do("GET", "/projects.json", query, nil)
	if err != nil {
		return nil, err
	}

	var projects []domain.Project
	if _, err := decodeKey(payload, "projects", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a new project and returns its ID.
func (c *Client) CreateProject(draft domain.ProjectDraft) (int, error) {
	body, err := draft.Payload()
	if err != nil {
		return 0, &domain.APIError{Message: fmt.Sprintf("project validation failed: %v", err)}
	}

	payload, err := c.do("POST", "/projects.json", nil, body)
	if err != nil {
		return 0, err
	}

	var project struct {
		ID int `json:"id"`
	}
	found, err := decodeKey(payload, "project", &project)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &domain.APIError{Message: "project creation failed: response contained no project data"}
	}

	return project.ID, nil
}

// UpdateProject applies a partial update to a project.
func (c *Client) UpdateProject(ident string, update domain.ProjectUpdate) error {
	body, err := update.Payload()
	if err != nil {
		return &domain.APIError{Message: err.Error()}
	}

	_, err = c.do("PUT", fmt.Sprintf("/projects/%s.json", ident), nil, body)
	return err
}

// DeleteProject deletes a project.
func (c *Client) DeleteProject(ident string) error {
	_, err := c.do("DELETE", fmt.Sprintf("/projects/%s.json", ident), nil, nil)
	return err
}

// ArchiveProject archives a project.
func (c *Client) ArchiveProject(ident string) error {
	_, err := c.do("PUT", fmt.Sprintf("/projects/%s/archive.json", ident), nil, nil)
	return err
}

// UnarchiveProject restores an archived project.
func (c *Client) UnarchiveProject(ident string) error {
	_, err := c.do("PUT", fmt.Sprintf("/projects/%s/unarchive.json", ident), nil, nil)
	return err
}

// --- Enumerations ---

// enumList fetches one enumeration endpoint and returns the named list.
func (c *Client) enumList(path, key string) ([]domain.Enumeration, error) {
	payload, err := c.do("GET", path, nil, nil)
	if err != nil {
		return nil, err
	}

	var values []domain.Enumeration
	if _, err := decodeKey(payload, key, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// IssueStatuses returns every issue status defined on the instance.
func (c *Client) IssueStatuses() ([]domain.Enumeration, error) {
	return c.enumList("/issue_statuses.json", "issue_statuses")
}

// Priorities returns every issue priority.
func (c *Client) Priorities() ([]domain.Enumeration, error) {
	return c.enumList("/enumerations/issue_priorities.json", "issue_priorities")
}

// Trackers returns every tracker.
func (c *Client) Trackers() ([]domain.Enumeration, error) {
	return c.enumList("/trackers.json", "trackers")
}

// TimeEntryActivities returns every time entry activity.
func (c *Client) TimeEntryActivities() ([]domain.Enumeration, error) {
	return c.enumList("/enumerations/time_entry_activities.json", "time_entry_activities")
}

// DocumentCategories returns every document category.
func (c *Client) DocumentCategories() ([]domain.Enumeration, error) {
	return c.enumList("/enumerations/document_categories.json", "document_categories")
}

// --- Users ---

// ListUsers returns a page of user accounts. limit is clamped to 1..100,
// which also bounds the user portion of a cache refresh.
func (c *Client) ListUsers(limit, offset int, status *int) ([]domain.User, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(clamp(limit, 1, 100)))
	query.Set("offset", strconv.Itoa(max(offset, 0)))
	if status != nil {
		query.Set("status", strconv.Itoa(*status))
	}

	payload, err := c.do("GET", "/users.json", query, nil)
	if err != nil {
		return nil, err
	}

	var users []domain.User
	if _, err := decodeKey(payload, "users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchUsers searches users by name or login.
// A blank query returns an empty result without a network call.
func (c *Client) SearchUsers(queryText string, limit int) ([]domain.User, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("name", queryText)
	query.Set("limit", strconv.Itoa(clamp(limit, 1, 50)))

	payload, err := c.do("GET", "/users.json", query, nil)
	if err != nil {
		return nil, err
	}

	var users []domain.User
	if _, err := decodeKey(payload, "users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser retrieves a single user by ID.
func (c *Client) GetUser(userID int) (*domain.User, error) {
	payload, err := c.do("GET", fmt.Sprintf("/users/%d.json", userID), nil, nil)
	if err != nil {
		return nil, err
	}

	var user domain.User
	found, err := decodeKey(payload, "user", &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewNotFoundError("User", userID)
	}

	return &user, nil
}

// CurrentUser returns the account owning the API key.
func (c *Client) CurrentUser() (*domain.User, error) {
	payload, err := c.do("GET", "/my/account.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var user domain.User
	found, err := decodeKey(payload, "user", &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.APIError{Message: "could not determine the current user"}
	}

	return &user, nil
}

// TestConnection reports whether the instance answers an authenticated
// account request.
func (c *Client) TestConnection() bool {
	_, err := c.CurrentUser()
	return err == nil
}

// --- Time entries ---

// CreateTimeEntry logs time against an issue and returns the entry ID.
// SpentOn defaults to today when the draft leaves it empty.
func (c *Client) CreateTimeEntry(draft domain.TimeEntryDraft) (int, error) {
	if draft.SpentOn == "" {
		draft.SpentOn = time.Now().Format("2006-01-02")
	}

	body, err := draft.Payload()
	if err != nil {
		return 0, &domain.APIError{Message: fmt.Sprintf("time entry validation failed: %v", err)}
	}

	payload, err := c.do("POST", "/time_entries.json", nil, body)
	if err != nil {
		return 0, err
	}

	var entry struct {
		ID int `json:"id"`
	}
	found, err := decodeKey(payload, "time_entry", &entry)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &domain.APIError{Message: "time entry creation failed: response contained no time entry data"}
	}

	return entry.ID, nil
}

// --- Attachments ---

// GetAttachment retrieves the metadata of an attachment.
func (c *Client) GetAttachment(attachmentID int) (*domain.Attachment, error) {
	payload, err := c.do("GET", fmt.Sprintf("/attachments/%d.json", attachmentID), nil, nil)
	if err != nil {
		return nil, err
	}

	var attachment domain.Attachment
	found, err := decodeKey(payload, "attachment", &attachment)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NewNotFoundError("Attachment", attachmentID)
	}

	return &attachment, nil
}

// DownloadAttachment fetches the binary content of an attachment along with
// its metadata. The download goes through the same authenticated HTTP
// client, so the API key and timeout apply.
func (c *Client) DownloadAttachment(attachmentID int) ([]byte, *domain.Attachment, error) {
	attachment, err := c.GetAttachment(attachmentID)
	if err != nil {
		return nil, nil, err
	}

	if attachment.ContentURL == "" {
		return nil, nil, &domain.APIError{Message: fmt.Sprintf("attachment %d has no download URL", attachmentID)}
	}

	resp, err := c.httpClient.Get(attachment.ContentURL)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return nil, nil, domain.NewTimeoutError(domain.ContextRequest)
		}
		return nil, nil, domain.NewConnectionError(domain.ContextConnection)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, domain.NewStatusError(domain.ContextRequest, resp.StatusCode, nil)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, domain.NewConnectionError(domain.ContextConnection)
	}

	return content, attachment, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
