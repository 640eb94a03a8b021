package domain

// EnumerationSource provides the read-only enumeration operations the
// resolution cache refreshes from. The Redmine client implements it; the
// interface exists so the cache never depends on resolution-dependent
// operations and so tests can substitute a fake.
type EnumerationSource interface {
	// IssueStatuses returns every issue status defined on the instance.
	IssueStatuses() ([]Enumeration, error)

	// Priorities returns every issue priority.
	Priorities() ([]Enumeration, error)

	// Trackers returns every tracker.
	Trackers() ([]Enumeration, error)

	// TimeEntryActivities returns every time entry activity.
	TimeEntryActivities() ([]Enumeration, error)

	// ListUsers returns a bounded page of user accounts.
	// limit is clamped to 1..100 by the implementation.
	ListUsers(limit, offset int, status *int) ([]User, error)
}
