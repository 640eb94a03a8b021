package infrastructure

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"redmine-mcp-server/internal/domain"
)

// Category identifies one name→ID mapping inside the resolution cache.
type Category string

const (
	// CategoryStatuses maps issue status names to IDs.
	CategoryStatuses Category = "statuses"
	// CategoryPriorities maps issue priority names to IDs.
	CategoryPriorities Category = "priorities"
	// CategoryTrackers maps tracker names to IDs.
	CategoryTrackers Category = "trackers"
	// CategoryActivities maps time entry activity names to IDs.
	CategoryActivities Category = "time_entry_activities"
	// CategoryUsers maps user display names and logins to IDs.
	// Resolution tries the display name first, then the login.
	CategoryUsers Category = "users"
)

// CacheMaxAge is the freshness threshold: entries older than this trigger a
// refresh attempt on the next load.
const CacheMaxAge = 24 * time.Hour

// cacheUserLimit bounds the user listing during a refresh so the cache file
// stays small on large instances.
const cacheUserLimit = 100

// cacheEntry is the persisted and in-memory shape of the resolution cache.
// One entry is valid for exactly one domain.
type cacheEntry struct {
	Domain              string         `json:"domain"`
	CacheTime           int64          `json:"cache_time"`
	Priorities          map[string]int `json:"priorities"`
	Statuses            map[string]int `json:"statuses"`
	Trackers            map[string]int `json:"trackers"`
	TimeEntryActivities map[string]int `json:"time_entry_activities"`
	UsersByName         map[string]int `json:"users_by_name"`
	UsersByLogin        map[string]int `json:"users_by_login"`
}

// emptyEntry returns the explicit empty cache installed when a refresh
// fails before any data was ever loaded. CacheTime zero marks it stale
// immediately, so the next load retries the refresh instead of serving
// empty results forever.
func emptyEntry(cacheDomain string) *cacheEntry {
	return &cacheEntry{
		Domain:              cacheDomain,
		CacheTime:           0,
		Priorities:          map[string]int{},
		Statuses:            map[string]int{},
		Trackers:            map[string]int{},
		TimeEntryActivities: map[string]int{},
		UsersByName:         map[string]int{},
		UsersByLogin:        map[string]int{},
	}
}

// EnumCache resolves human-readable names (statuses, priorities, trackers,
// activities, users) to Redmine's numeric IDs. It keeps an in-memory copy
// mirrored to a per-domain JSON file and refreshes itself through the
// read-only enumeration operations of its source.
//
// A mutex serializes lookups and refreshes within one process, so a
// background warm-up refresh can run alongside the request loop. Concurrent
// processes sharing the cache file race with last-write-wins semantics; the
// whole-file tmp+rename write keeps each version intact.
type EnumCache struct {
	domain string
	dir    string
	source domain.EnumerationSource

	mu             sync.Mutex
	entry          *cacheEntry // nil until first load
	lastRefreshErr error
	now            func() time.Time
}

// NewEnumCache creates a resolution cache for the given domain, persisted
// under dir. The source supplies the enumeration calls used by Refresh.
func NewEnumCache(cacheDomain, dir string, source domain.EnumerationSource) *EnumCache {
	return &EnumCache{
		domain: strings.TrimRight(cacheDomain, "/"),
		dir:    dir,
		source: source,
		now:    time.Now,
	}
}

// FilePath returns the cache file location for this domain. The name
// combines a sanitized form of the domain with a stable hash so that
// similarly-named endpoints never alias to the same file.
func (c *EnumCache) FilePath() string {
	return filepath.Join(c.dir, fmt.Sprintf("cache_%s_%d.json", sanitizeDomain(c.domain), domainHash(c.domain)))
}

// sanitizeDomain makes a domain string safe to embed in a filename.
func sanitizeDomain(d string) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", ":", "_")
	return replacer.Replace(d)
}

// domainHash returns a stable hash of the domain string.
func domainHash(d string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(d))
	return h.Sum32()
}

// load returns the current cache entry, establishing it on first use.
// Once loaded, the in-memory copy is authoritative for the rest of the
// process; disk is never re-read. A missing, unreadable, or
// domain-mismatched file forces a synchronous refresh; a merely stale file
// attempts one, but keeps the stale data servable when the refresh fails.
// Callers must hold c.mu.
func (c *EnumCache) load() *cacheEntry {
	if c.entry != nil {
		// A cache_time of zero marks the empty fallback installed after a
		// failed refresh; retry the rebuild instead of serving empty
		// results forever.
		if c.entry.CacheTime == 0 {
			_ = c.refreshLocked()
		}
		return c.entry
	}

	stored, err := c.readFile()
	if err != nil {
		// Missing or corrupt file: build from scratch
		_ = c.refreshLocked()
		return c.entry
	}

	if stored.Domain != c.domain {
		// The file belongs to a different endpoint; its data must never
		// be served. Rebuild transparently.
		_ = c.refreshLocked()
		return c.entry
	}

	age := c.now().Unix() - stored.CacheTime
	if age > int64(CacheMaxAge.Seconds()) {
		// Keep the stale data loaded so a failed refresh degrades to it
		// instead of an empty cache.
		c.entry = stored
		_ = c.refreshLocked()
		return c.entry
	}

	c.entry = stored
	return c.entry
}

// readFile reads and decodes the persisted cache file.
func (c *EnumCache) readFile() (*cacheEntry, error) {
	data, err := os.ReadFile(c.FilePath())
	if err != nil {
		return nil, err
	}

	var stored cacheEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt cache file: %w", err)
	}
	return &stored, nil
}

// Refresh rebuilds the cache from the remote enumeration calls and writes
// it through to disk. The rebuild is all-or-nothing: if any call or the
// persist step fails, the partial result is abandoned. On failure the
// previously loaded data (if any) stays servable; a cache that never
// loaded successfully becomes the explicit empty entry with cache_time 0.
// The returned error reports the reason so callers can log it; lookups
// treat the failure as silent degradation.
func (c *EnumCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

func (c *EnumCache) refreshLocked() error {
	fresh, err := c.build()
	if err == nil {
		err = c.persist(fresh)
	}
	if err != nil {
		c.lastRefreshErr = err
		if c.entry == nil {
			c.entry = emptyEntry(c.domain)
		}
		return err
	}

	// Replace the in-memory copy only once the rebuild fully succeeded,
	// so no lookup observes a half-built cache.
	c.entry = fresh
	c.lastRefreshErr = nil
	return nil
}

// build runs the five enumeration calls and assembles a fresh entry.
func (c *EnumCache) build() (*cacheEntry, error) {
	priorities, err := c.source.Priorities()
	if err != nil {
		return nil, fmt.Errorf("listing priorities: %w", err)
	}
	statuses, err := c.source.IssueStatuses()
	if err != nil {
		return nil, fmt.Errorf("listing issue statuses: %w", err)
	}
	trackers, err := c.source.Trackers()
	if err != nil {
		return nil, fmt.Errorf("listing trackers: %w", err)
	}
	activities, err := c.source.TimeEntryActivities()
	if err != nil {
		return nil, fmt.Errorf("listing time entry activities: %w", err)
	}
	users, err := c.source.ListUsers(cacheUserLimit, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	entry := &cacheEntry{
		Domain:              c.domain,
		CacheTime:           c.now().Unix(),
		Priorities:          byName(priorities),
		Statuses:            byName(statuses),
		Trackers:            byName(trackers),
		TimeEntryActivities: byName(activities),
		UsersByName:         map[string]int{},
		UsersByLogin:        map[string]int{},
	}

	// Display names are not unique upstream; last write wins. Logins are.
	for _, user := range users {
		if fullName := user.FullName(); fullName != "" {
			entry.UsersByName[fullName] = user.ID
		}
		entry.UsersByLogin[user.Login] = user.ID
	}

	return entry, nil
}

// byName indexes an enumeration list by display name.
func byName(values []domain.Enumeration) map[string]int {
	m := make(map[string]int, len(values))
	for _, v := range values {
		m[v.Name] = v.ID
	}
	return m
}

// persist writes the entry to the cache file, whole-file and atomically
// (tmp file then rename).
func (c *EnumCache) persist(entry *cacheEntry) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	path := c.FilePath()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ResolveID looks up the ID for a name in one category.
// A miss is a legitimate "name not found" outcome and never triggers a new
// refresh. User resolution is two-tier: display name first, then login.
func (c *EnumCache) ResolveID(category Category, name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.load()
	if entry == nil {
		return 0, false
	}

	switch category {
	case CategoryPriorities:
		id, ok := entry.Priorities[name]
		return id, ok
	case CategoryStatuses:
		id, ok := entry.Statuses[name]
		return id, ok
	case CategoryTrackers:
		id, ok := entry.Trackers[name]
		return id, ok
	case CategoryActivities:
		id, ok := entry.TimeEntryActivities[name]
		return id, ok
	case CategoryUsers:
		if id, ok := entry.UsersByName[name]; ok {
			return id, true
		}
		id, ok := entry.UsersByLogin[name]
		return id, ok
	default:
		return 0, false
	}
}

// Names returns the known names of one category, sorted.
// For users this is display names followed by logins.
func (c *EnumCache) Names(category Category) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.load()
	if entry == nil {
		return nil
	}

	var names []string
	collect := func(m map[string]int) {
		for name := range m {
			names = append(names, name)
		}
	}

	switch category {
	case CategoryPriorities:
		collect(entry.Priorities)
	case CategoryStatuses:
		collect(entry.Statuses)
	case CategoryTrackers:
		collect(entry.Trackers)
	case CategoryActivities:
		collect(entry.TimeEntryActivities)
	case CategoryUsers:
		collect(entry.UsersByName)
		collect(entry.UsersByLogin)
	}

	sort.Strings(names)
	return names
}

// Mapping returns a copy of one category's name→ID mapping.
// For users the display-name mapping is returned.
func (c *EnumCache) Mapping(category Category) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.load()
	if entry == nil {
		return map[string]int{}
	}

	var src map[string]int
	switch category {
	case CategoryPriorities:
		src = entry.Priorities
	case CategoryStatuses:
		src = entry.Statuses
	case CategoryTrackers:
		src = entry.Trackers
	case CategoryActivities:
		src = entry.TimeEntryActivities
	case CategoryUsers:
		src = entry.UsersByName
	default:
		return map[string]int{}
	}

	out := make(map[string]int, len(src))
	for name, id := range src {
		out[name] = id
	}
	return out
}

// CacheTime returns the timestamp of the last successful refresh, or zero
// time when the cache is unloaded or has never refreshed successfully.
func (c *EnumCache) CacheTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || c.entry.CacheTime == 0 {
		return time.Time{}
	}
	return time.Unix(c.entry.CacheTime, 0)
}

// LastRefreshError returns the reason the most recent refresh failed, or
// nil. It lets callers distinguish "empty because never populated" from
// "name truly absent" without changing the lookup contract.
func (c *EnumCache) LastRefreshError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshErr
}

// Reset drops the in-memory copy so the next lookup reloads from disk or
// refreshes. The persisted file is left untouched.
func (c *EnumCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
	c.lastRefreshErr = nil
}
