// Package planner classifies a natural-language query into an intent and
// extracts the filters (entities, explicit dates, a temporal window). The
// retrieval orchestrator uses the entities to seed its entity-expansion
// channel; it does not apply the date or time-window filters.
package planner

import (
	"regexp"
	"strings"
	"time"
)

// Intent is the coarse classification assigned to a query.
type Intent string

const (
	IntentTemporal   Intent = "temporal"
	IntentEntity     Intent = "entity"
	IntentAnalytical Intent = "analytical"
	IntentFactual    Intent = "factual"
)

// temporalKeywords, entityKeywords and analyticalKeywords are checked in
// that exact order: the first match wins, and a query matching none of them
// falls back to IntentFactual.
var temporalKeywords = []string{"when", "schedule", "calendar", "date"}

var entityKeywords = []string{"who", "person"}

var analyticalKeywords = []string{"compare", "analysis", "why", "how"}

// entityPattern matches runs of capitalized words, a cheap proper-noun
// detector that catches names, places, and titled projects without a full
// NER pass.
var entityPattern = regexp.MustCompile(`[A-Z][a-z]+(?:\s[A-Z][a-z]+)*`)

// datePattern matches ISO 8601 calendar dates embedded anywhere in the query.
var datePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// Plan is the result of planning a query.
type Plan struct {
	Intent   Intent
	Entities []string
	Filters  map[string]string
}

// Plan classifies query and extracts its filters. now is injected so the
// temporal-keyword fallback window is deterministic and testable.
func Plan(query string, now time.Time) Plan {
	lower := strings.ToLower(query)

	intent := classify(lower)
	entities := extractEntities(query)
	filters := extractFilters(lower, now)

	return Plan{Intent: intent, Entities: entities, Filters: filters}
}

func classify(lower string) Intent {
	if containsAny(lower, temporalKeywords) {
		return IntentTemporal
	}
	if containsAny(lower, entityKeywords) {
		return IntentEntity
	}
	if containsAny(lower, analyticalKeywords) {
		return IntentAnalytical
	}
	return IntentFactual
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractEntities(query string) []string {
	matches := entityPattern.FindAllString(query, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

// extractFilters derives a time_range filter. Explicit ISO dates in the
// query take precedence: the first match is the start, the last is the end
// (a single date yields start==end). Absent any explicit date, a temporal
// query falls back to a trailing one-month window ending now.
func extractFilters(lower string, now time.Time) map[string]string {
	filters := map[string]string{}

	dates := datePattern.FindAllString(lower, -1)
	switch {
	case len(dates) > 0:
		start, end := dates[0], dates[len(dates)-1]
		filters["time_range"] = start + "|" + end
	case containsAny(lower, temporalKeywords):
		start := now.AddDate(0, -1, 0).Format("2006-01-02")
		end := now.Format("2006-01-02")
		filters["time_range"] = start + "|" + end
	}

	return filters
}
