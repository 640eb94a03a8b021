package domain

import (
	"fmt"
)

// NamedRef is a reference to a Redmine object carrying its numeric ID and
// display name. Statuses, priorities, trackers, projects and users all
// appear in this shape inside issue payloads.
type NamedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Enumeration is one value of a Redmine enumeration (issue status, priority,
// tracker, time entry activity, document category).
type Enumeration struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// Issue represents a Redmine issue.
// This is the main entity returned by issue operations.
type Issue struct {
	ID          int       `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      NamedRef  `json:"status"`
	Priority    NamedRef  `json:"priority"`
	Project     NamedRef  `json:"project"`
	Tracker     NamedRef  `json:"tracker"`
	Author      NamedRef  `json:"author"`
	AssignedTo  *NamedRef `json:"assigned_to,omitempty"`
	CreatedOn   string    `json:"created_on,omitempty"`
	UpdatedOn   string    `json:"updated_on,omitempty"`
	DoneRatio   int       `json:"done_ratio"`
}

// Project represents a Redmine project.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Description string `json:"description"`
	Status      int    `json:"status"`
	CreatedOn   string `json:"created_on,omitempty"`
	UpdatedOn   string `json:"updated_on,omitempty"`
}

// User represents a Redmine user account.
type User struct {
	ID          int    `json:"id"`
	Login       string `json:"login"`
	Firstname   string `json:"firstname"`
	Lastname    string `json:"lastname"`
	Mail        string `json:"mail"`
	Status      int    `json:"status"`
	CreatedOn   string `json:"created_on,omitempty"`
	LastLoginOn string `json:"last_login_on,omitempty"`
}

// FullName returns the user's display name as Redmine renders it.
func (u User) FullName() string {
	switch {
	case u.Firstname != "" && u.Lastname != "":
		return u.Firstname + " " + u.Lastname
	case u.Firstname != "":
		return u.Firstname
	default:
		return u.Lastname
	}
}

// Journal is one note or change record attached to an issue.
type Journal struct {
	ID           int             `json:"id"`
	User         NamedRef        `json:"user"`
	Notes        string          `json:"notes"`
	CreatedOn    string          `json:"created_on,omitempty"`
	PrivateNotes bool            `json:"private_notes,omitempty"`
	Details      []JournalDetail `json:"details,omitempty"`
}

// JournalDetail is one property change within a journal entry.
type JournalDetail struct {
	Property string `json:"property"`
	Name     string `json:"name"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// Attachment is the metadata of a file attached to an issue.
type Attachment struct {
	ID          int      `json:"id"`
	Filename    string   `json:"filename"`
	Filesize    int64    `json:"filesize"`
	ContentType string   `json:"content_type"`
	ContentURL  string   `json:"content_url"`
	Description string   `json:"description,omitempty"`
	Author      NamedRef `json:"author,omitempty"`
	CreatedOn   string   `json:"created_on,omitempty"`
}

// CustomField is a custom field value attached to an issue draft.
type CustomField struct {
	ID    int         `json:"id"`
	Value interface{} `json:"value"`
}

// IssueDraft holds the fields for creating a new issue.
// ProjectID and Subject are mandatory; everything else falls back to the
// Redmine instance defaults.
type IssueDraft struct {
	ProjectID     int
	Subject       string
	Description   string
	TrackerID     int
	StatusID      int
	PriorityID    int
	AssignedToID  int
	ParentIssueID int
	CustomFields  []CustomField
}

// Payload builds the JSON body for POST /issues.json.
func (d IssueDraft) Payload() (map[string]interface{}, error) {
	if d.ProjectID <= 0 {
		return nil, fmt.Errorf("issue draft requires a project id")
	}
	if d.Subject == "" {
		return nil, fmt.Errorf("issue draft requires a subject")
	}

	issue := map[string]interface{}{
		"project_id": d.ProjectID,
		"subject":    d.Subject,
	}
	if d.Description != "" {
		issue["description"] = d.Description
	}
	if d.TrackerID > 0 {
		issue["tracker_id"] = d.TrackerID
	}
	if d.StatusID > 0 {
		issue["status_id"] = d.StatusID
	}
	if d.PriorityID > 0 {
		issue["priority_id"] = d.PriorityID
	}
	if d.AssignedToID > 0 {
		issue["assigned_to_id"] = d.AssignedToID
	}
	if d.ParentIssueID > 0 {
		issue["parent_issue_id"] = d.ParentIssueID
	}
	if len(d.CustomFields) > 0 {
		issue["custom_fields"] = d.CustomFields
	}

	return map[string]interface{}{"issue": issue}, nil
}

// OptionalID is a tri-state reference for partial updates: unset (leave the
// field alone), set to an ID, or cleared. Redmine clears a parent issue link
// by sending an empty string, which is distinct from omitting the field.
type OptionalID struct {
	present bool
	cleared bool
	id      int
}

// SetID returns an OptionalID that assigns the given ID.
func SetID(id int) OptionalID {
	return OptionalID{present: true, id: id}
}

// ClearID returns an OptionalID that removes the reference.
func ClearID() OptionalID {
	return OptionalID{present: true, cleared: true}
}

// Present reports whether the field participates in the update at all.
func (o OptionalID) Present() bool { return o.present }

// Value returns the payload value for the field: the ID when set, or the
// empty string Redmine expects for a cleared reference.
func (o OptionalID) Value() interface{} {
	if o.cleared {
		return ""
	}
	return o.id
}

// IssueUpdate is an explicit partial update for an issue. Each pointer field
// carries its own presence flag; nil means "leave unchanged". ParentIssue
// distinguishes "unchanged", "set", and "clear".
type IssueUpdate struct {
	Subject        *string
	Description    *string
	StatusID       *int
	PriorityID     *int
	AssignedToID   *int
	TrackerID      *int
	DoneRatio      *int
	EstimatedHours *float64
	StartDate      *string
	DueDate        *string
	Notes          *string
	ParentIssue    OptionalID
}

// Payload builds the JSON body for PUT /issues/{id}.json.
// Returns an error when no field is set, matching the remote API which
// rejects empty updates.
func (u IssueUpdate) Payload() (map[string]interface{}, error) {
	issue := map[string]interface{}{}

	if u.Subject != nil {
		issue["subject"] = *u.Subject
	}
	if u.Description != nil {
		issue["description"] = *u.Description
	}
	if u.StatusID != nil {
		issue["status_id"] = *u.StatusID
	}
	if u.PriorityID != nil {
		issue["priority_id"] = *u.PriorityID
	}
	if u.AssignedToID != nil {
		issue["assigned_to_id"] = *u.AssignedToID
	}
	if u.TrackerID != nil {
		issue["tracker_id"] = *u.TrackerID
	}
	if u.DoneRatio != nil {
		issue["done_ratio"] = *u.DoneRatio
	}
	if u.EstimatedHours != nil {
		issue["estimated_hours"] = *u.EstimatedHours
	}
	if u.StartDate != nil {
		issue["start_date"] = *u.StartDate
	}
	if u.DueDate != nil {
		issue["due_date"] = *u.DueDate
	}
	if u.Notes != nil {
		issue["notes"] = *u.Notes
	}
	if u.ParentIssue.Present() {
		issue["parent_issue_id"] = u.ParentIssue.Value()
	}

	if len(issue) == 0 {
		return nil, fmt.Errorf("no fields provided to update")
	}

	return map[string]interface{}{"issue": issue}, nil
}

// ProjectDraft holds the fields for creating a new project.
type ProjectDraft struct {
	Name               string
	Identifier         string
	Description        string
	Homepage           string
	IsPublic           bool
	ParentID           int
	InheritMembers     bool
	TrackerIDs         []int
	EnabledModuleNames []string
}

// Payload builds the JSON body for POST /projects.json.
func (d ProjectDraft) Payload() (map[string]interface{}, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("project draft requires a name")
	}
	if d.Identifier == "" {
		return nil, fmt.Errorf("project draft requires an identifier")
	}

	project := map[string]interface{}{
		"name":            d.Name,
		"identifier":      d.Identifier,
		"is_public":       d.IsPublic,
		"inherit_members": d.InheritMembers,
	}
	if d.Description != "" {
		project["description"] = d.Description
	}
	if d.Homepage != "" {
		project["homepage"] = d.Homepage
	}
	if d.ParentID > 0 {
		project["parent_id"] = d.ParentID
	}
	if len(d.TrackerIDs) > 0 {
		project["tracker_ids"] = d.TrackerIDs
	}
	if len(d.EnabledModuleNames) > 0 {
		project["enabled_module_names"] = d.EnabledModuleNames
	}

	return map[string]interface{}{"project": project}, nil
}

// ProjectUpdate is an explicit partial update for a project.
type ProjectUpdate struct {
	Name               *string
	Description        *string
	Homepage           *string
	IsPublic           *bool
	InheritMembers     *bool
	ParentID           *int
	TrackerIDs         []int
	EnabledModuleNames []string
}

// Payload builds the JSON body for PUT /projects/{id}.json.
func (u ProjectUpdate) Payload() (map[string]interface{}, error) {
	project := map[string]interface{}{}

	if u.Name != nil {
		project["name"] = *u.Name
	}
	if u.Description != nil {
		project["description"] = *u.Description
	}
	if u.Homepage != nil {
		project["homepage"] = *u.Homepage
	}
	if u.IsPublic != nil {
		project["is_public"] = *u.IsPublic
	}
	if u.InheritMembers != nil {
		project["inherit_members"] = *u.InheritMembers
	}
	if u.ParentID != nil {
		project["parent_id"] = *u.ParentID
	}
	if len(u.TrackerIDs) > 0 {
		project["tracker_ids"] = u.TrackerIDs
	}
	if len(u.EnabledModuleNames) > 0 {
		project["enabled_module_names"] = u.EnabledModuleNames
	}

	if len(project) == 0 {
		return nil, fmt.Errorf("no fields provided to update")
	}

	return map[string]interface{}{"project": project}, nil
}

// TimeEntryDraft holds the fields for logging time against an issue.
type TimeEntryDraft struct {
	IssueID    int
	Hours      float64
	ActivityID int
	Comments   string
	SpentOn    string // YYYY-MM-DD; defaults to today when empty
	UserID     int
}

// Payload builds the JSON body for POST /time_entries.json.
func (d TimeEntryDraft) Payload() (map[string]interface{}, error) {
	if d.IssueID <= 0 {
		return nil, fmt.Errorf("time entry requires an issue id")
	}
	if d.Hours <= 0 {
		return nil, fmt.Errorf("time entry requires positive hours")
	}
	if d.ActivityID <= 0 {
		return nil, fmt.Errorf("time entry requires an activity id")
	}

	entry := map[string]interface{}{
		"issue_id":    d.IssueID,
		"hours":       d.Hours,
		"activity_id": d.ActivityID,
	}
	if d.Comments != "" {
		entry["comments"] = d.Comments
	}
	if d.SpentOn != "" {
		entry["spent_on"] = d.SpentOn
	}
	if d.UserID > 0 {
		entry["user_id"] = d.UserID
	}

	return map[string]interface{}{"time_entry": entry}, nil
}

// IssueFilter narrows a ListIssues call. Zero values are omitted from the
// query; Limit defaults to 100 and is what bounds the response size.
type IssueFilter struct {
	ProjectID int
	StatusID  int
	// StatusFilter carries Redmine's symbolic status_id values "o" (open)
	// and "c" (closed). Ignored when StatusID is set.
	StatusFilter string
	AssignedToID int
	TrackerID    int
	PriorityID   int
	AuthorID     int
	CreatedOn    string
	UpdatedOn    string
	Sort         string
	Limit        int
	Offset       int
	Include      []string
}
