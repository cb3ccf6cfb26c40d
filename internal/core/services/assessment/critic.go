package assessment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// RuleLevel tells whether a violated rule fails validation or only warns.
type RuleLevel string

const (
	RuleFail RuleLevel = "fail"
	RuleWarn RuleLevel = "warn"
)

// Rule is a validation check over the assessment facts.
//
// When is a boolean CEL expression that holds when the rule is violated.
// Message is a string CEL expression rendering the human-readable reason.
type Rule struct {
	Name    string    `yaml:"name"`
	When    string    `yaml:"when"`
	Message string    `yaml:"message"`
	Level   RuleLevel `yaml:"level"`
}

// DefaultRules fail on fewer than two techniques or low mapping confidence,
// and warn on a zero base severity.
var DefaultRules = []Rule{
	{
		Name:    "min_techniques",
		When:    "technique_count < 2",
		Message: `"Too few techniques mapped: " + string(technique_count) + " (at least 2 required)"`,
		Level:   RuleFail,
	},
	{
		Name:    "min_mapping_confidence",
		When:    "mapping_confidence <= 0.5",
		Message: `"Mapping confidence too low: " + string(mapping_confidence) + " (must exceed 0.5)"`,
		Level:   RuleFail,
	},
	{
		Name:    "zero_severity",
		When:    "severity == 0.0",
		Message: `"Base severity is 0.0"`,
		Level:   RuleWarn,
	},
}

type compiledRule struct {
	Rule
	when    cel.Program
	message cel.Program
}

// Critic validates the accumulated state after technique mapping.
type Critic struct {
	rules []compiledRule
}

func newFactEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("technique_count", cel.IntType),
		cel.Variable("mapping_confidence", cel.DoubleType),
		cel.Variable("severity", cel.DoubleType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("reflexion_count", cel.IntType),
		cel.Variable("error_count", cel.IntType),
		cel.Variable("has_enrichment", cel.BoolType),
	)
}

// NewCritic compiles the rules. A nil or empty rule set uses DefaultRules.
func NewCritic(rules []Rule) (*Critic, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	env, err := newFactEnv()
	if err != nil {
		return nil, fmt.Errorf("critic environment: %w", err)
	}

	c := &Critic{}
	for _, r := range rules {
		if r.Level != RuleFail && r.Level != RuleWarn {
			return nil, fmt.Errorf("rule %s: unknown level %q", r.Name, r.Level)
		}
		when, err := compile(env, r.When, cel.BoolType)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		message, err := compile(env, r.Message, cel.StringType)
		if err != nil {
			return nil, fmt.Errorf("rule %s message: %w", r.Name, err)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, when: when, message: message})
	}
	return c, nil
}

func compile(env *cel.Env, expr string, want *cel.Type) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(want) {
		return nil, fmt.Errorf("expression %q yields %s, want %s", expr, ast.OutputType(), want)
	}
	return env.Program(ast)
}

// Facts extracts the variables rules are evaluated against.
func Facts(s domain.AssessmentState) map[string]any {
	_, hasEnrichment := s.Enrichment.Get()
	return map[string]any{
		"technique_count":    int64(len(s.Techniques)),
		"mapping_confidence": s.MappingConfidence(),
		"severity":           s.Severity(),
		"risk_score":         s.RiskScore.OrElse(0),
		"reflexion_count":    int64(s.ReflexionCount),
		"error_count":        int64(len(s.Errors)),
		"has_enrichment":     hasEnrichment,
	}
}

// Evaluate runs every rule and returns the verdict.
func (c *Critic) Evaluate(s domain.AssessmentState) (domain.Critique, error) {
	facts := Facts(s)
	verdict := domain.Critique{Passed: true}

	for _, r := range c.rules {
		out, _, err := r.when.Eval(facts)
		if err != nil {
			return verdict, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		violated, ok := out.Value().(bool)
		if !ok {
			return verdict, fmt.Errorf("rule %s: non-boolean result", r.Name)
		}
		if !violated {
			continue
		}

		msg := r.Name
		if m, _, err := r.message.Eval(facts); err == nil {
			if text, ok := m.Value().(string); ok {
				msg = text
			}
		}
		if r.Level == RuleFail {
			verdict.Passed = false
			verdict.Failures = append(verdict.Failures, msg)
		} else {
			verdict.Warnings = append(verdict.Warnings, msg)
		}
	}
	return verdict, nil
}

// Run is the critique stage. Failures are appended to the error trail and
// the verdict replaces the previous critique.
func (c *Critic) Run(_ context.Context, s domain.AssessmentState) domain.StatePatch {
	verdict, err := c.Evaluate(s)
	if err != nil {
		slog.Error("critique evaluation failed", "cve", s.CVEID, "error", err)
		verdict = domain.Critique{Passed: false, Failures: []string{fmt.Sprintf("Critique failed: %v", err)}}
	}

	for _, w := range verdict.Warnings {
		slog.Warn("critique warning", "cve", s.CVEID, "warning", w)
	}
	if verdict.Passed {
		slog.Info("critique passed", "cve", s.CVEID)
	} else {
		slog.Info("critique failed", "cve", s.CVEID, "failures", verdict.Failures)
	}

	return domain.StatePatch{
		Critique: domain.Some(verdict),
		Errors:   verdict.Failures,
	}
}
