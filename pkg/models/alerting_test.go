package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{"greater than breached", OpGreaterThan, 95, 90, true},
		{"greater than not breached", OpGreaterThan, 90, 90, false},
		{"less than breached", OpLessThan, 0.5, 1, true},
		{"greater or equal at boundary", OpGreaterOrEqual, 90, 90, true},
		{"less or equal at boundary", OpLessOrEqual, 90, 90, true},
		{"equal", OpEqual, 42, 42, true},
		{"not equal", OpNotEqual, 41, 42, true},
		{"unknown operator never matches", Operator("~"), 100, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Compare(tt.value, tt.threshold))
		})
	}
}

func TestMutingRuleActiveWithin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rule := &MutingRule{
		IsEnabled: true,
		StartsAt:  now.Add(-time.Hour),
		EndsAt:    now.Add(time.Hour),
	}

	assert.True(t, rule.ActiveWithin(now))
	assert.True(t, rule.ActiveWithin(rule.StartsAt), "window start is inclusive")
	assert.False(t, rule.ActiveWithin(rule.EndsAt), "window end is exclusive")
	assert.False(t, rule.ActiveWithin(now.Add(-2*time.Hour)))

	rule.IsEnabled = false
	assert.False(t, rule.ActiveWithin(now))
}

func TestMutingRuleMatches(t *testing.T) {
	rule := &MutingRule{
		Matchers: JSONMap{"service": "checkout", "severity": "critical"},
	}
	labels := map[string]string{
		"service":     "checkout",
		"severity":    "critical",
		"metric_name": "cpu_percent",
	}

	assert.True(t, rule.Matches(labels), "matcher set is a subset of labels")
	assert.False(t, rule.Matches(map[string]string{"service": "checkout"}),
		"missing label blocks the match")
	assert.False(t, rule.Matches(map[string]string{
		"service": "payments", "severity": "critical",
	}))

	empty := &MutingRule{Matchers: JSONMap{}}
	assert.True(t, empty.Matches(labels), "empty matcher set matches everything")
}

func TestAPIKeyScopeAndExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	key := &APIKey{Scopes: StringList{"metrics", "traces"}}
	assert.True(t, key.HasScope(DomainMetrics))
	assert.False(t, key.HasScope(DomainLogs))

	wildcard := &APIKey{Scopes: StringList{"*"}}
	assert.True(t, wildcard.HasScope(DomainVulnerabilities))

	assert.False(t, (&APIKey{}).Expired(now), "no expiry never expires")
	assert.True(t, (&APIKey{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&APIKey{ExpiresAt: &future}).Expired(now))
}

func TestIngestDomainValid(t *testing.T) {
	for _, d := range IngestDomains {
		assert.True(t, d.Valid())
	}
	assert.False(t, IngestDomain("profiles").Valid())
}
