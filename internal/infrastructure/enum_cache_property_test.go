package infrastructure

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"redmine-mcp-server/internal/domain"
)

// TestSanitizeDomainProperties verifies the cache file naming invariants
// for arbitrary domain strings.
func TestSanitizeDomainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("sanitized domains contain no path separators", prop.ForAll(
		func(d string) bool {
			s := sanitizeDomain(d)
			return !strings.Contains(s, "/") && !strings.Contains(s, ":")
		},
		gen.AlphaString().Map(func(s string) string {
			return "https://" + s + ":8080/" + s
		}),
	))

	properties.Property("hash is stable for equal domains", prop.ForAll(
		func(d string) bool {
			return domainHash(d) == domainHash(d)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestResolveIDProperties verifies that every enumeration supplied by the
// source resolves back to its own ID, for arbitrary enumeration sets.
func TestResolveIDProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Unique names with distinct IDs derived from the slice index
	enumGen := gen.SliceOf(gen.Identifier()).Map(func(names []string) []domain.Enumeration {
		seen := make(map[string]bool, len(names))
		var values []domain.Enumeration
		for i, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			values = append(values, domain.Enumeration{ID: i + 1, Name: name})
		}
		return values
	})

	properties.Property("every cached status resolves to its ID", prop.ForAll(
		func(statuses []domain.Enumeration) bool {
			source := defaultSource()
			source.statuses = statuses
			cache := NewEnumCache("https://redmine.example.com", t.TempDir(), source)

			for _, s := range statuses {
				id, ok := cache.ResolveID(CategoryStatuses, s.Name)
				if !ok || id != s.ID {
					return false
				}
			}
			return true
		},
		enumGen,
	))

	properties.Property("names not in the source never resolve", prop.ForAll(
		func(statuses []domain.Enumeration, probe string) bool {
			source := defaultSource()
			source.statuses = statuses
			cache := NewEnumCache("https://redmine.example.com", t.TempDir(), source)

			known := false
			for _, s := range statuses {
				if s.Name == probe {
					known = true
					break
				}
			}

			_, ok := cache.ResolveID(CategoryStatuses, probe)
			return ok == known
		},
		enumGen, gen.Identifier(),
	))

	properties.TestingRun(t)
}
