package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanClassification(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		query string
		want  Intent
	}{
		{"temporal wins over entity", "who is on my calendar today", IntentTemporal},
		{"entity", "who is Jane Smith", IntentEntity},
		{"analytical", "compare our Q1 and Q2 revenue", IntentAnalytical},
		{"factual default", "what is the capital of France", IntentFactual},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Plan(tc.query, now)
			assert.Equal(t, tc.want, p.Intent)
		})
	}
}

func TestPlanExplicitDateRangeUsesFirstAndLast(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("notes between 2025-01-01 and 2025-06-30 and 2025-12-31", now)
	assert.Equal(t, "2025-01-01|2025-12-31", p.Filters["time_range"])
}

func TestPlanSingleExplicitDate(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("what happened on 2025-07-04", now)
	assert.Equal(t, "2025-07-04|2025-07-04", p.Filters["time_range"])
}

func TestPlanTemporalFallbackWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("what is on my schedule", now)
	assert.Equal(t, "2026-02-15|2026-03-15", p.Filters["time_range"])
}

func TestPlanNoTimeRangeForNonTemporalQuery(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("what is the capital of France", now)
	_, ok := p.Filters["time_range"]
	assert.False(t, ok)
}

func TestPlanExtractsCapitalizedEntities(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("find notes about Jane Smith and Acme Corp", now)
	assert.Contains(t, p.Entities, "Jane Smith")
	assert.Contains(t, p.Entities, "Acme Corp")
}

func TestPlanNoEntitiesReturnsEmptySlice(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	p := Plan("what is the weather", now)
	assert.Empty(t, p.Entities)
	assert.NotNil(t, p.Entities)
}
