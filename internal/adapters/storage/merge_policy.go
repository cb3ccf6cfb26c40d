package storage

import (
	"fmt"
	"strings"

	"gorm.io/gorm/clause"
)

// MergePolicy decides whether an incoming row replaces the stored row that
// shares its key. A false condition leaves the stored row untouched.
type MergePolicy interface {
	Name() string
	// Condition renders the predicate against the target table and the
	// excluded pseudo-table. An empty string means unconditional.
	Condition(table string) string
}

// AlwaysOverwrite applies every incoming row.
type AlwaysOverwrite struct{}

func (AlwaysOverwrite) Name() string            { return "always-overwrite" }
func (AlwaysOverwrite) Condition(string) string { return "" }

// TimeMonotonic applies a row only when its timestamp is strictly newer.
// A stored NULL timestamp is replaced by any non-NULL one.
type TimeMonotonic struct {
	Column string
}

func (p TimeMonotonic) Name() string { return "time-monotonic(" + p.Column + ")" }

func (p TimeMonotonic) Condition(table string) string {
	return fmt.Sprintf("excluded.%[1]s > %[2]s.%[1]s OR (%[2]s.%[1]s IS NULL AND excluded.%[1]s IS NOT NULL)",
		p.Column, table)
}

// ContentChanged applies a row only when one of the columns differs.
// The comparison is null-safe.
type ContentChanged struct {
	Columns []string
}

func (p ContentChanged) Name() string {
	return "content-changed(" + strings.Join(p.Columns, ",") + ")"
}

func (p ContentChanged) Condition(table string) string {
	parts := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		parts[i] = fmt.Sprintf("excluded.%[1]s IS NOT %[2]s.%[1]s", c, table)
	}
	return strings.Join(parts, " OR ")
}

// AnyOf applies a row when any of its policies would.
type AnyOf []MergePolicy

func (p AnyOf) Name() string {
	names := make([]string, len(p))
	for i, sub := range p {
		names[i] = sub.Name()
	}
	return "any-of(" + strings.Join(names, ",") + ")"
}

func (p AnyOf) Condition(table string) string {
	var parts []string
	for _, sub := range p {
		cond := sub.Condition(table)
		if cond == "" {
			return ""
		}
		parts = append(parts, "("+cond+")")
	}
	return strings.Join(parts, " OR ")
}

// entitySpec binds an entity table to its key, the columns refreshed on
// conflict, and its merge policy.
type entitySpec struct {
	Entity  string
	Table   string
	Key     string
	Updates []string
	Policy  MergePolicy
}

// OnConflict builds the upsert clause for the entity.
func (e entitySpec) OnConflict() clause.OnConflict {
	oc := clause.OnConflict{
		Columns:   []clause.Column{{Name: e.Key}},
		DoUpdates: clause.AssignmentColumns(e.Updates),
	}
	if cond := e.Policy.Condition(e.Table); cond != "" {
		oc.Where = clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: cond}}}
	}
	return oc
}

var (
	vulnerabilitySpec = entitySpec{
		Entity:  "vulnerability",
		Table:   "vulnerabilities",
		Key:     "cve_id",
		Updates: []string{"description", "cvss_score", "cvss_vector", "last_modified", "references_json", "updated_at"},
		Policy:  TimeMonotonic{Column: "last_modified"},
	}

	exploitedEntrySpec = entitySpec{
		Entity:  "exploited_entry",
		Table:   "exploited_entries",
		Key:     "cve_id",
		Updates: []string{"vulnerability_name", "short_description", "required_action", "updated_at"},
		Policy:  ContentChanged{Columns: []string{"vulnerability_name", "short_description"}},
	}

	ipReputationSpec = entitySpec{
		Entity:  "ip_reputation",
		Table:   "ip_reputations",
		Key:     "ip_address",
		Updates: []string{"abuse_confidence_score", "total_reports", "last_reported_at", "reports_json", "updated_at"},
		Policy: AnyOf{
			TimeMonotonic{Column: "last_reported_at"},
			ContentChanged{Columns: []string{"abuse_confidence_score"}},
		},
	}

	exploitationScoreSpec = entitySpec{
		Entity:  "exploitation_score",
		Table:   "exploitation_scores",
		Key:     "cve_id",
		Updates: []string{"score", "percentile", "fetched_at", "updated_at"},
		Policy:  AlwaysOverwrite{},
	}
)
