package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"redmine-mcp-server/internal/domain"
	"redmine-mcp-server/internal/infrastructure"
)

// RedmineHandler implements ToolHandler for Redmine operations.
// It routes MCP tool calls to the Redmine client, resolves human-readable
// names to numeric IDs through the enumeration cache, and transforms
// responses using the ResponseMapper.
type RedmineHandler struct {
	client *infrastructure.Client
	cache  *infrastructure.EnumCache
	mapper domain.ResponseMapper
	logger *StructuredLogger
}

// NewRedmineHandler creates a new RedmineHandler instance.
func NewRedmineHandler(client *infrastructure.Client, cache *infrastructure.EnumCache, mapper domain.ResponseMapper) *RedmineHandler {
	return &RedmineHandler{
		client: client,
		cache:  cache,
		mapper: mapper,
		logger: NewStructuredLogger(),
	}
}

// Tool name constants for Redmine operations
const (
	ToolServerInfo            = "redmine_server_info"
	ToolHealthCheck           = "redmine_health_check"
	ToolGetIssue              = "redmine_get_issue"
	ToolListProjectIssues     = "redmine_list_project_issues"
	ToolGetMyIssues           = "redmine_get_my_issues"
	ToolSearchIssues          = "redmine_search_issues"
	ToolCreateIssue           = "redmine_create_issue"
	ToolUpdateIssue           = "redmine_update_issue"
	ToolUpdateIssueStatus     = "redmine_update_issue_status"
	ToolAssignIssue           = "redmine_assign_issue"
	ToolCloseIssue            = "redmine_close_issue"
	ToolAddIssueNote          = "redmine_add_issue_note"
	ToolDeleteIssue           = "redmine_delete_issue"
	ToolListProjects          = "redmine_list_projects"
	ToolGetProject            = "redmine_get_project"
	ToolListUsers             = "redmine_list_users"
	ToolSearchUsers           = "redmine_search_users"
	ToolGetUser               = "redmine_get_user"
	ToolGetIssueStatuses      = "redmine_get_issue_statuses"
	ToolGetTrackers           = "redmine_get_trackers"
	ToolGetPriorities         = "redmine_get_priorities"
	ToolGetTimeActivities     = "redmine_get_time_entry_activities"
	ToolGetDocumentCategories = "redmine_get_document_categories"
	ToolCreateTimeEntry       = "redmine_create_time_entry"
	ToolListIssueJournals     = "redmine_list_issue_journals"
	ToolGetJournal            = "redmine_get_journal"
	ToolGetAttachmentInfo     = "redmine_get_attachment_info"
	ToolGetAttachmentImage    = "redmine_get_attachment_image"
	ToolRefreshCache          = "redmine_refresh_cache"
)

// ToolName returns the identifier for this handler.
func (h *RedmineHandler) ToolName() string {
	return "redmine"
}

// issueIDSchema is shared by every tool that targets a single issue.
func issueIDSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "The numeric issue ID",
	}
}

func pagingSchema() map[string]interface{} {
	return map[string]interface{}{
		"limit": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of results to return",
		},
		"offset": map[string]interface{}{
			"type":        "integer",
			"description": "Number of results to skip",
		},
	}
}

// ListTools returns available tools for Redmine operations.
func (h *RedmineHandler) ListTools() []domain.ToolDefinition {
	listSchema := domain.JSONSchema{
		Type:       "object",
		Properties: pagingSchema(),
	}
	noArgSchema := domain.JSONSchema{Type: "object"}

	return []domain.ToolDefinition{
		{
			Name:        ToolServerInfo,
			Description: "Report server name, version and the configured Redmine domain",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolHealthCheck,
			Description: "Check connectivity to the Redmine instance and report cache freshness",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolGetIssue,
			Description: "Retrieve a Redmine issue by its numeric ID",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"include": map[string]interface{}{
						"type":        "string",
						"description": "Comma-separated associations to include (journals, attachments, watchers, children, relations)",
					},
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolListProjectIssues,
			Description: "List issues of a project, open ones by default",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: mergeProps(pagingSchema(), map[string]interface{}{
					"project_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric project ID",
					},
					"status_filter": map[string]interface{}{
						"type":        "string",
						"description": "One of open, closed or all (default open)",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Filter by a specific status name instead (optional)",
					},
				}),
				Required: []string{"project_id"},
			},
		},
		{
			Name:        ToolGetMyIssues,
			Description: "List issues assigned to the account behind the API key",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"status_filter": map[string]interface{}{
						"type":        "string",
						"description": "One of open, closed or all (default open)",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results (default 20)",
					},
				},
			},
		},
		{
			Name:        ToolSearchIssues,
			Description: "Search issues with filters on project, status, priority, tracker and assignee",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: mergeProps(pagingSchema(), map[string]interface{}{
					"project_id": map[string]interface{}{
						"type":        "integer",
						"description": "Filter by project ID",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Filter by status name",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"description": "Filter by priority name",
					},
					"tracker": map[string]interface{}{
						"type":        "string",
						"description": "Filter by tracker name",
					},
					"assigned_to": map[string]interface{}{
						"type":        "string",
						"description": "Filter by assignee display name or login",
					},
					"sort": map[string]interface{}{
						"type":        "string",
						"description": "Sort order, e.g. updated_on:desc",
					},
				}),
			},
		},
		{
			Name:        ToolCreateIssue,
			Description: "Create a new Redmine issue",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"project_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric project ID",
					},
					"subject": map[string]interface{}{
						"type":        "string",
						"description": "The issue subject",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "The issue description (optional)",
					},
					"tracker": map[string]interface{}{
						"type":        "string",
						"description": "Tracker name, e.g. Bug or Feature (optional)",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"description": "Priority name, e.g. Normal or High (optional)",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Initial status name (optional)",
					},
					"assigned_to": map[string]interface{}{
						"type":        "string",
						"description": "Assignee display name or login (optional)",
					},
					"parent_issue_id": map[string]interface{}{
						"type":        "integer",
						"description": "Parent issue ID (optional)",
					},
				},
				Required: []string{"project_id", "subject"},
			},
		},
		{
			Name:        ToolUpdateIssue,
			Description: "Update fields of an existing issue; only the provided fields change",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"subject": map[string]interface{}{
						"type":        "string",
						"description": "New subject",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "New description",
					},
					"notes": map[string]interface{}{
						"type":        "string",
						"description": "Note to add alongside the change",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "New status name",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"description": "New priority name",
					},
					"tracker": map[string]interface{}{
						"type":        "string",
						"description": "New tracker name",
					},
					"assigned_to": map[string]interface{}{
						"type":        "string",
						"description": "New assignee display name or login",
					},
					"done_ratio": map[string]interface{}{
						"type":        "integer",
						"description": "Completion percentage (0-100)",
					},
					"estimated_hours": map[string]interface{}{
						"type":        "number",
						"description": "Estimated hours",
					},
					"start_date": map[string]interface{}{
						"type":        "string",
						"description": "Start date (YYYY-MM-DD)",
					},
					"due_date": map[string]interface{}{
						"type":        "string",
						"description": "Due date (YYYY-MM-DD)",
					},
					"parent_issue_id": map[string]interface{}{
						"type":        "integer",
						"description": "New parent issue ID",
					},
					"clear_parent": map[string]interface{}{
						"type":        "boolean",
						"description": "Remove the parent issue link",
					},
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolUpdateIssueStatus,
			Description: "Change the status of an issue, by status name or numeric ID",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"status": map[string]interface{}{
						"type":        "string",
						"description": "The new status name, e.g. In Progress",
					},
					"status_id": map[string]interface{}{
						"type":        "integer",
						"description": "The new status ID (alternative to status)",
					},
					"notes": map[string]interface{}{
						"type":        "string",
						"description": "Note to add alongside the change (optional)",
					},
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolAssignIssue,
			Description: "Assign an issue to a user, by display name, login or numeric ID",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"assigned_to": map[string]interface{}{
						"type":        "string",
						"description": "Assignee display name or login",
					},
					"assigned_to_id": map[string]interface{}{
						"type":        "integer",
						"description": "Assignee user ID (alternative to assigned_to)",
					},
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolCloseIssue,
			Description: "Close an issue, setting its status to Closed and done ratio to 100%",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"notes": map[string]interface{}{
						"type":        "string",
						"description": "Closing note (optional)",
					},
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolAddIssueNote,
			Description: "Add a note to an issue without changing any other field",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"notes": map[string]interface{}{
						"type":        "string",
						"description": "The note text",
					},
				},
				Required: []string{"issue_id", "notes"},
			},
		},
		{
			Name:        ToolDeleteIssue,
			Description: "Permanently delete an issue",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolListProjects,
			Description: "List projects visible to the configured account",
			InputSchema: listSchema,
		},
		{
			Name:        ToolGetProject,
			Description: "Retrieve a project by numeric ID or string identifier",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"identifier": map[string]interface{}{
						"type":        "string",
						"description": "The project identifier or numeric ID",
					},
					"include": map[string]interface{}{
						"type":        "string",
						"description": "Comma-separated associations to include (trackers, issue_categories, enabled_modules)",
					},
				},
				Required: []string{"identifier"},
			},
		},
		{
			Name:        ToolListUsers,
			Description: "List user accounts",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: mergeProps(pagingSchema(), map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "integer",
						"description": "Filter by account status (1=active, 2=registered, 3=locked)",
					},
				}),
			},
		},
		{
			Name:        ToolSearchUsers,
			Description: "Search users by name or login",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Name or login fragment to search for",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results (default 10, max 50)",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolGetUser,
			Description: "Retrieve a user account by numeric ID",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"user_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric user ID",
					},
				},
				Required: []string{"user_id"},
			},
		},
		{
			Name:        ToolGetIssueStatuses,
			Description: "List the issue statuses defined on the Redmine instance",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolGetTrackers,
			Description: "List the trackers defined on the Redmine instance",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolGetPriorities,
			Description: "List the issue priorities defined on the Redmine instance",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolGetTimeActivities,
			Description: "List the time entry activities defined on the Redmine instance",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolGetDocumentCategories,
			Description: "List the document categories defined on the Redmine instance",
			InputSchema: noArgSchema,
		},
		{
			Name:        ToolCreateTimeEntry,
			Description: "Log time against an issue",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"hours": map[string]interface{}{
						"type":        "number",
						"description": "Hours spent",
					},
					"activity": map[string]interface{}{
						"type":        "string",
						"description": "Activity name, e.g. Development",
					},
					"activity_id": map[string]interface{}{
						"type":        "integer",
						"description": "Activity ID (alternative to activity)",
					},
					"comments": map[string]interface{}{
						"type":        "string",
						"description": "Comment on the time entry (optional)",
					},
					"spent_on": map[string]interface{}{
						"type":        "string",
						"description": "Date the time was spent (YYYY-MM-DD, defaults to today)",
					},
				},
				Required: []string{"issue_id", "hours"},
			},
		},
		{
			Name:        ToolListIssueJournals,
			Description: "List the notes and change history of an issue",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
				},
				Required: []string{"issue_id"},
			},
		},
		{
			Name:        ToolGetJournal,
			Description: "Retrieve one note or change record of an issue by its journal ID",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issue_id": issueIDSchema(),
					"journal_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric journal ID",
					},
				},
				Required: []string{"issue_id", "journal_id"},
			},
		},
		{
			Name:        ToolGetAttachmentInfo,
			Description: "Retrieve the metadata of an attachment",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"attachment_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric attachment ID",
					},
				},
				Required: []string{"attachment_id"},
			},
		},
		{
			Name:        ToolGetAttachmentImage,
			Description: "Download an image attachment and return it as an image content block",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"attachment_id": map[string]interface{}{
						"type":        "integer",
						"description": "The numeric attachment ID",
					},
				},
				Required: []string{"attachment_id"},
			},
		},
		{
			Name:        ToolRefreshCache,
			Description: "Force a refresh of the cached statuses, priorities, trackers, activities and users",
			InputSchema: noArgSchema,
		},
	}
}

// mergeProps combines schema property maps. Later maps win on key conflicts.
func mergeProps(maps ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// Handle processes a tool request and returns the response.
func (h *RedmineHandler) Handle(ctx context.Context, req *domain.ToolRequest) (*domain.ToolResponse, error) {
	if req.Arguments == nil {
		req.Arguments = make(map[string]interface{})
	}

	switch req.Name {
	case ToolServerInfo:
		return h.handleServerInfo(ctx, req.Arguments)
	case ToolHealthCheck:
		return h.handleHealthCheck(ctx, req.Arguments)
	case ToolGetIssue:
		return h.handleGetIssue(ctx, req.Arguments)
	case ToolListProjectIssues:
		return h.handleListProjectIssues(ctx, req.Arguments)
	case ToolGetMyIssues:
		return h.handleGetMyIssues(ctx, req.Arguments)
	case ToolSearchIssues:
		return h.handleSearchIssues(ctx, req.Arguments)
	case ToolCreateIssue:
		return h.handleCreateIssue(ctx, req.Arguments)
	case ToolUpdateIssue:
		return h.handleUpdateIssue(ctx, req.Arguments)
	case ToolUpdateIssueStatus:
		return h.handleUpdateIssueStatus(ctx, req.Arguments)
	case ToolAssignIssue:
		return h.handleAssignIssue(ctx, req.Arguments)
	case ToolCloseIssue:
		return h.handleCloseIssue(ctx, req.Arguments)
	case ToolAddIssueNote:
		return h.handleAddIssueNote(ctx, req.Arguments)
	case ToolDeleteIssue:
		return h.handleDeleteIssue(ctx, req.Arguments)
	case ToolListProjects:
		return h.handleListProjects(ctx, req.Arguments)
	case ToolGetProject:
		return h.handleGetProject(ctx, req.Arguments)
	case ToolListUsers:
		return h.handleListUsers(ctx, req.Arguments)
	case ToolSearchUsers:
		return h.handleSearchUsers(ctx, req.Arguments)
	case ToolGetUser:
		return h.handleGetUser(ctx, req.Arguments)
	case ToolGetIssueStatuses:
		return h.handleEnumeration(h.client.IssueStatuses, "issue_statuses")
	case ToolGetTrackers:
		return h.handleEnumeration(h.client.Trackers, "trackers")
	case ToolGetPriorities:
		return h.handleEnumeration(h.client.Priorities, "issue_priorities")
	case ToolGetTimeActivities:
		return h.handleEnumeration(h.client.TimeEntryActivities, "time_entry_activities")
	case ToolGetDocumentCategories:
		return h.handleEnumeration(h.client.DocumentCategories, "document_categories")
	case ToolCreateTimeEntry:
		return h.handleCreateTimeEntry(ctx, req.Arguments)
	case ToolListIssueJournals:
		return h.handleListIssueJournals(ctx, req.Arguments)
	case ToolGetJournal:
		return h.handleGetJournal(ctx, req.Arguments)
	case ToolGetAttachmentInfo:
		return h.handleGetAttachmentInfo(ctx, req.Arguments)
	case ToolGetAttachmentImage:
		return h.handleGetAttachmentImage(ctx, req.Arguments)
	case ToolRefreshCache:
		return h.handleRefreshCache(ctx, req.Arguments)
	default:
		return nil, &domain.Error{
			Code:    domain.MethodNotFound,
			Message: fmt.Sprintf("unknown Redmine tool: %s", req.Name),
		}
	}
}

// resolveName maps a human-readable name to its numeric ID through the
// enumeration cache. A miss is a parameter error carrying fuzzy suggestions,
// never a trigger for a cache refresh.
func (h *RedmineHandler) resolveName(category infrastructure.Category, label, name string) (int, error) {
	if id, ok := h.cache.ResolveID(category, name); ok {
		return id, nil
	}

	msg := fmt.Sprintf("unknown %s: %q", label, name)
	if suggestions := h.suggestNames(category, name); len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(suggestions, ", "))
	}

	return 0, &domain.Error{
		Code:    domain.InvalidParams,
		Message: msg,
	}
}

// suggestNames returns up to three fuzzy matches from the cached names of a
// category, for use in resolution error messages.
func (h *RedmineHandler) suggestNames(category infrastructure.Category, name string) []string {
	matches := fuzzy.Find(name, h.cache.Names(category))

	var suggestions []string
	for i, m := range matches {
		if i >= 3 {
			break
		}
		suggestions = append(suggestions, m.Str)
	}
	return suggestions
}

// resolveRef reads a reference that may arrive as a numeric ID (idKey) or a
// name to resolve through the cache (nameKey). Returns present=false when
// neither argument is set.
func (h *RedmineHandler) resolveRef(args map[string]interface{}, category infrastructure.Category, label, nameKey, idKey string) (int, bool, error) {
	if hasParam(args, idKey) {
		id, err := getIntParam(args, idKey, true)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	if hasParam(args, nameKey) {
		name, err := getStringParam(args, nameKey, true)
		if err != nil {
			return 0, false, err
		}
		id, err := h.resolveName(category, label, name)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	return 0, false, nil
}

func (h *RedmineHandler) handleServerInfo(_ context.Context, _ map[string]interface{}) (*domain.ToolResponse, error) {
	info := map[string]interface{}{
		"name":           "redmine-mcp-server",
		"version":        ServerVersion,
		"redmine_domain": h.client.Domain(),
		"cache_file":     h.cache.FilePath(),
	}
	return h.mapper.MapToToolResponse(info)
}

func (h *RedmineHandler) handleHealthCheck(_ context.Context, _ map[string]interface{}) (*domain.ToolResponse, error) {
	reachable := h.client.TestConnection()

	status := "ok"
	if !reachable {
		status = "unreachable"
	}

	health := map[string]interface{}{
		"status":            status,
		"redmine_reachable": reachable,
		"redmine_domain":    h.client.Domain(),
	}
	if t := h.cache.CacheTime(); !t.IsZero() {
		health["cache_refreshed_at"] = t.UTC().Format("2006-01-02T15:04:05Z")
	}

	return h.mapper.MapToToolResponse(health)
}

func (h *RedmineHandler) handleGetIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	include, err := includeList(args)
	if err != nil {
		return nil, err
	}

	issue, err := h.client.GetIssueRaw(issueID, include...)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(issue)
}

func (h *RedmineHandler) handleListProjectIssues(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	projectID, err := getIntParam(args, "project_id", true)
	if err != nil {
		return nil, err
	}

	filter := domain.IssueFilter{ProjectID: projectID}

	if filter.Limit, err = getIntParam(args, "limit", false); err != nil {
		return nil, err
	}
	if filter.Offset, err = getIntParam(args, "offset", false); err != nil {
		return nil, err
	}

	statusID, present, err := h.resolveRef(args, infrastructure.CategoryStatuses, "status", "status", "status_id")
	if err != nil {
		return nil, err
	}
	if present {
		filter.StatusID = statusID
	} else if filter.StatusFilter, err = statusFilterQuery(args); err != nil {
		return nil, err
	}

	issues, err := h.client.ListIssues(filter)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

// statusFilterQuery maps the open|closed|all status_filter argument to
// Redmine's symbolic status_id values. Open is the default; all lifts the
// filter entirely.
func statusFilterQuery(args map[string]interface{}) (string, error) {
	value, err := getStringParam(args, "status_filter", false)
	if err != nil {
		return "", err
	}

	switch value {
	case "", "open":
		return "o", nil
	case "closed":
		return "c", nil
	case "all":
		return "", nil
	default:
		return "", &domain.Error{
			Code:    domain.InvalidParams,
			Message: fmt.Sprintf("invalid status_filter %q (expected open, closed or all)", value),
		}
	}
}

func (h *RedmineHandler) handleGetMyIssues(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	filter := domain.IssueFilter{
		Sort:  "updated_on:desc",
		Limit: 20,
	}

	var err error
	if filter.StatusFilter, err = statusFilterQuery(args); err != nil {
		return nil, err
	}
	limit, err := getIntParam(args, "limit", false)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		filter.Limit = limit
	}

	me, err := h.client.CurrentUser()
	if err != nil {
		return nil, h.mapper.MapError(err)
	}
	filter.AssignedToID = me.ID

	issues, err := h.client.ListIssues(filter)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"user_id":   me.ID,
		"user_name": me.FullName(),
		"issues":    issues,
		"count":     len(issues),
	})
}

func (h *RedmineHandler) handleSearchIssues(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	var filter domain.IssueFilter
	var err error

	if filter.ProjectID, err = getIntParam(args, "project_id", false); err != nil {
		return nil, err
	}
	if filter.Limit, err = getIntParam(args, "limit", false); err != nil {
		return nil, err
	}
	if filter.Offset, err = getIntParam(args, "offset", false); err != nil {
		return nil, err
	}
	if filter.Sort, err = getStringParam(args, "sort", false); err != nil {
		return nil, err
	}

	refs := []struct {
		category infrastructure.Category
		label    string
		nameKey  string
		idKey    string
		target   *int
	}{
		{infrastructure.CategoryStatuses, "status", "status", "status_id", &filter.StatusID},
		{infrastructure.CategoryPriorities, "priority", "priority", "priority_id", &filter.PriorityID},
		{infrastructure.CategoryTrackers, "tracker", "tracker", "tracker_id", &filter.TrackerID},
		{infrastructure.CategoryUsers, "user", "assigned_to", "assigned_to_id", &filter.AssignedToID},
	}
	for _, ref := range refs {
		id, present, err := h.resolveRef(args, ref.category, ref.label, ref.nameKey, ref.idKey)
		if err != nil {
			return nil, err
		}
		if present {
			*ref.target = id
		}
	}

	issues, err := h.client.ListIssues(filter)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

func (h *RedmineHandler) handleCreateIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	projectID, err := getIntParam(args, "project_id", true)
	if err != nil {
		return nil, err
	}
	subject, err := getStringParam(args, "subject", true)
	if err != nil {
		return nil, err
	}

	draft := domain.IssueDraft{
		ProjectID: projectID,
		Subject:   subject,
	}

	if draft.Description, err = getStringParam(args, "description", false); err != nil {
		return nil, err
	}
	if draft.ParentIssueID, err = getIntParam(args, "parent_issue_id", false); err != nil {
		return nil, err
	}

	refs := []struct {
		category infrastructure.Category
		label    string
		nameKey  string
		idKey    string
		target   *int
	}{
		{infrastructure.CategoryTrackers, "tracker", "tracker", "tracker_id", &draft.TrackerID},
		{infrastructure.CategoryStatuses, "status", "status", "status_id", &draft.StatusID},
		{infrastructure.CategoryPriorities, "priority", "priority", "priority_id", &draft.PriorityID},
		{infrastructure.CategoryUsers, "user", "assigned_to", "assigned_to_id", &draft.AssignedToID},
	}
	for _, ref := range refs {
		id, present, err := h.resolveRef(args, ref.category, ref.label, ref.nameKey, ref.idKey)
		if err != nil {
			return nil, err
		}
		if present {
			*ref.target = id
		}
	}

	issueID, err := h.client.CreateIssue(draft)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"message":  fmt.Sprintf("issue #%d created", issueID),
	})
}

func (h *RedmineHandler) handleUpdateIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	var update domain.IssueUpdate

	stringFields := []struct {
		key    string
		target **string
	}{
		{"subject", &update.Subject},
		{"description", &update.Description},
		{"notes", &update.Notes},
		{"start_date", &update.StartDate},
		{"due_date", &update.DueDate},
	}
	for _, f := range stringFields {
		if !hasParam(args, f.key) {
			continue
		}
		value, err := getStringParam(args, f.key, true)
		if err != nil {
			return nil, err
		}
		*f.target = &value
	}

	if hasParam(args, "done_ratio") {
		ratio, err := getIntParam(args, "done_ratio", true)
		if err != nil {
			return nil, err
		}
		update.DoneRatio = &ratio
	}
	if hasParam(args, "estimated_hours") {
		hours, err := getFloatParam(args, "estimated_hours", true)
		if err != nil {
			return nil, err
		}
		update.EstimatedHours = &hours
	}

	refs := []struct {
		category infrastructure.Category
		label    string
		nameKey  string
		idKey    string
		target   **int
	}{
		{infrastructure.CategoryStatuses, "status", "status", "status_id", &update.StatusID},
		{infrastructure.CategoryPriorities, "priority", "priority", "priority_id", &update.PriorityID},
		{infrastructure.CategoryTrackers, "tracker", "tracker", "tracker_id", &update.TrackerID},
		{infrastructure.CategoryUsers, "user", "assigned_to", "assigned_to_id", &update.AssignedToID},
	}
	for _, ref := range refs {
		id, present, err := h.resolveRef(args, ref.category, ref.label, ref.nameKey, ref.idKey)
		if err != nil {
			return nil, err
		}
		if present {
			value := id
			*ref.target = &value
		}
	}

	clearParent, err := getBoolParam(args, "clear_parent", false)
	if err != nil {
		return nil, err
	}
	if clearParent {
		update.ParentIssue = domain.ClearID()
	} else if hasParam(args, "parent_issue_id") {
		parentID, err := getIntParam(args, "parent_issue_id", true)
		if err != nil {
			return nil, err
		}
		update.ParentIssue = domain.SetID(parentID)
	}

	if err := h.client.UpdateIssue(issueID, update); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"message":  fmt.Sprintf("issue #%d updated", issueID),
	})
}

func (h *RedmineHandler) handleUpdateIssueStatus(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	statusID, present, err := h.resolveRef(args, infrastructure.CategoryStatuses, "status", "status", "status_id")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &domain.Error{
			Code:    domain.InvalidParams,
			Message: "either status or status_id is required",
		}
	}

	update := domain.IssueUpdate{StatusID: &statusID}

	if hasParam(args, "notes") {
		notes, err := getStringParam(args, "notes", true)
		if err != nil {
			return nil, err
		}
		update.Notes = &notes
	}

	if err := h.client.UpdateIssue(issueID, update); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id":  issueID,
		"status_id": statusID,
		"message":   fmt.Sprintf("issue #%d status updated", issueID),
	})
}

func (h *RedmineHandler) handleAssignIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	userID, present, err := h.resolveRef(args, infrastructure.CategoryUsers, "user", "assigned_to", "assigned_to_id")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &domain.Error{
			Code:    domain.InvalidParams,
			Message: "either assigned_to or assigned_to_id is required",
		}
	}

	update := domain.IssueUpdate{AssignedToID: &userID}
	if err := h.client.UpdateIssue(issueID, update); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id":       issueID,
		"assigned_to_id": userID,
		"message":        fmt.Sprintf("issue #%d assigned", issueID),
	})
}

func (h *RedmineHandler) handleCloseIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	statusID, err := h.resolveName(infrastructure.CategoryStatuses, "status", "Closed")
	if err != nil {
		return nil, err
	}

	done := 100
	update := domain.IssueUpdate{
		StatusID:  &statusID,
		DoneRatio: &done,
	}

	if hasParam(args, "notes") {
		notes, err := getStringParam(args, "notes", true)
		if err != nil {
			return nil, err
		}
		update.Notes = &notes
	}

	if err := h.client.UpdateIssue(issueID, update); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"message":  fmt.Sprintf("issue #%d closed", issueID),
	})
}

func (h *RedmineHandler) handleAddIssueNote(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}
	notes, err := getStringParam(args, "notes", true)
	if err != nil {
		return nil, err
	}

	update := domain.IssueUpdate{Notes: &notes}
	if err := h.client.UpdateIssue(issueID, update); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"message":  fmt.Sprintf("note added to issue #%d", issueID),
	})
}

func (h *RedmineHandler) handleDeleteIssue(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	if err := h.client.DeleteIssue(issueID); err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"message":  fmt.Sprintf("issue #%d deleted", issueID),
	})
}

func (h *RedmineHandler) handleListProjects(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	limit, err := getIntParam(args, "limit", false)
	if err != nil {
		return nil, err
	}
	offset, err := getIntParam(args, "offset", false)
	if err != nil {
		return nil, err
	}

	projects, err := h.client.ListProjects(limit, offset)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

func (h *RedmineHandler) handleGetProject(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	identifier, err := getStringParam(args, "identifier", true)
	if err != nil {
		return nil, err
	}

	include, err := includeList(args)
	if err != nil {
		return nil, err
	}

	project, err := h.client.GetProject(identifier, include...)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(project)
}

func (h *RedmineHandler) handleListUsers(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	limit, err := getIntParam(args, "limit", false)
	if err != nil {
		return nil, err
	}
	offset, err := getIntParam(args, "offset", false)
	if err != nil {
		return nil, err
	}

	var status *int
	if hasParam(args, "status") {
		value, err := getIntParam(args, "status", true)
		if err != nil {
			return nil, err
		}
		status = &value
	}

	users, err := h.client.ListUsers(limit, offset, status)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (h *RedmineHandler) handleSearchUsers(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	query, err := getStringParam(args, "query", true)
	if err != nil {
		return nil, err
	}
	limit, err := getIntParam(args, "limit", false)
	if err != nil {
		return nil, err
	}

	users, err := h.client.SearchUsers(query, limit)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (h *RedmineHandler) handleGetUser(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	userID, err := getIntParam(args, "user_id", true)
	if err != nil {
		return nil, err
	}

	user, err := h.client.GetUser(userID)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(user)
}

// handleEnumeration serves the five live enumeration listing tools. These
// always hit the API directly so administrators can see fresh values even
// when the cache is stale.
func (h *RedmineHandler) handleEnumeration(list func() ([]domain.Enumeration, error), key string) (*domain.ToolResponse, error) {
	values, err := list()
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		key:     values,
		"count": len(values),
	})
}

func (h *RedmineHandler) handleCreateTimeEntry(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}
	hours, err := getFloatParam(args, "hours", true)
	if err != nil {
		return nil, err
	}

	draft := domain.TimeEntryDraft{
		IssueID: issueID,
		Hours:   hours,
	}

	activityID, present, err := h.resolveRef(args, infrastructure.CategoryActivities, "activity", "activity", "activity_id")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &domain.Error{
			Code:    domain.InvalidParams,
			Message: "either activity or activity_id is required",
		}
	}
	draft.ActivityID = activityID

	if draft.Comments, err = getStringParam(args, "comments", false); err != nil {
		return nil, err
	}
	if draft.SpentOn, err = getStringParam(args, "spent_on", false); err != nil {
		return nil, err
	}

	entryID, err := h.client.CreateTimeEntry(draft)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"time_entry_id": entryID,
		"issue_id":      issueID,
		"hours":         hours,
		"message":       fmt.Sprintf("logged %.2f hours on issue #%d", hours, issueID),
	})
}

func (h *RedmineHandler) handleListIssueJournals(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}

	journals, err := h.client.IssueJournals(issueID)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(map[string]interface{}{
		"issue_id": issueID,
		"journals": journals,
		"count":    len(journals),
	})
}

func (h *RedmineHandler) handleGetJournal(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	issueID, err := getIntParam(args, "issue_id", true)
	if err != nil {
		return nil, err
	}
	journalID, err := getIntParam(args, "journal_id", true)
	if err != nil {
		return nil, err
	}

	journals, err := h.client.IssueJournals(issueID)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	for _, journal := range journals {
		if journal.ID == journalID {
			return h.mapper.MapToToolResponse(map[string]interface{}{
				"issue_id": issueID,
				"journal":  journal,
			})
		}
	}

	return nil, &domain.Error{
		Code:    domain.NotFoundError,
		Message: fmt.Sprintf("issue #%d has no journal #%d", issueID, journalID),
	}
}

func (h *RedmineHandler) handleGetAttachmentInfo(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	attachmentID, err := getIntParam(args, "attachment_id", true)
	if err != nil {
		return nil, err
	}

	attachment, err := h.client.GetAttachment(attachmentID)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	return h.mapper.MapToToolResponse(attachment)
}

func (h *RedmineHandler) handleGetAttachmentImage(_ context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	attachmentID, err := getIntParam(args, "attachment_id", true)
	if err != nil {
		return nil, err
	}

	data, attachment, err := h.client.DownloadAttachment(attachmentID)
	if err != nil {
		return nil, h.mapper.MapError(err)
	}

	if !strings.HasPrefix(attachment.ContentType, "image/") {
		return nil, &domain.Error{
			Code:    domain.InvalidParams,
			Message: fmt.Sprintf("attachment %d is not an image (content type %s)", attachmentID, attachment.ContentType),
		}
	}

	return &domain.ToolResponse{
		Content: []domain.ContentBlock{
			{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(data),
				MimeType: attachment.ContentType,
			},
		},
	}, nil
}

func (h *RedmineHandler) handleRefreshCache(_ context.Context, _ map[string]interface{}) (*domain.ToolResponse, error) {
	if err := h.cache.Refresh(); err != nil {
		h.logger.LogError("cache refresh failed", err, map[string]interface{}{
			"cache_file": h.cache.FilePath(),
		})
		return nil, h.mapper.MapError(err)
	}

	summary := map[string]interface{}{
		"message":    "cache refreshed",
		"cache_file": h.cache.FilePath(),
		"counts": map[string]int{
			"statuses":              len(h.cache.Names(infrastructure.CategoryStatuses)),
			"priorities":            len(h.cache.Names(infrastructure.CategoryPriorities)),
			"trackers":              len(h.cache.Names(infrastructure.CategoryTrackers)),
			"time_entry_activities": len(h.cache.Names(infrastructure.CategoryActivities)),
			"users":                 len(h.cache.Names(infrastructure.CategoryUsers)),
		},
	}
	if t := h.cache.CacheTime(); !t.IsZero() {
		summary["cache_refreshed_at"] = t.UTC().Format("2006-01-02T15:04:05Z")
	}

	return h.mapper.MapToToolResponse(summary)
}

// includeList reads the optional comma-separated "include" argument.
func includeList(args map[string]interface{}) ([]string, error) {
	raw, err := getStringParam(args, "include", false)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var include []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			include = append(include, part)
		}
	}
	return include, nil
}
