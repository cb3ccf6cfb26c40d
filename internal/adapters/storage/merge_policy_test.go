package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/clause"
)

func TestMergePolicyConditions(t *testing.T) {
	tests := []struct {
		name   string
		policy MergePolicy
		want   string
	}{
		{"always", AlwaysOverwrite{}, ""},
		{
			"time",
			TimeMonotonic{Column: "last_modified"},
			"excluded.last_modified > t.last_modified OR (t.last_modified IS NULL AND excluded.last_modified IS NOT NULL)",
		},
		{
			"content",
			ContentChanged{Columns: []string{"a", "b"}},
			"excluded.a IS NOT t.a OR excluded.b IS NOT t.b",
		},
		{
			"any of",
			AnyOf{ContentChanged{Columns: []string{"a"}}, ContentChanged{Columns: []string{"b"}}},
			"(excluded.a IS NOT t.a) OR (excluded.b IS NOT t.b)",
		},
		{"any of with unconditional", AnyOf{ContentChanged{Columns: []string{"a"}}, AlwaysOverwrite{}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Condition("t"))
		})
	}
}

func TestEntitySpecOnConflict(t *testing.T) {
	oc := exploitationScoreSpec.OnConflict()
	assert.Equal(t, []clause.Column{{Name: "cve_id"}}, oc.Columns)
	assert.Empty(t, oc.Where.Exprs)

	oc = vulnerabilitySpec.OnConflict()
	assert.Len(t, oc.Where.Exprs, 1)
	assert.Len(t, oc.DoUpdates, len(vulnerabilitySpec.Updates))
}

func TestPolicyNames(t *testing.T) {
	assert.Equal(t, "any-of(time-monotonic(last_reported_at),content-changed(abuse_confidence_score))",
		ipReputationSpec.Policy.Name())
}
