// Package priority classifies tasks into selection tiers by evaluating a
// challenge's priority rule trees against task feature properties.
package priority

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RuleGroup is a boolean expression tree over property predicates:
// {"condition":"AND","rules":[{"key":"highway","value":"primary",
// "operator":"equal","type":"string"}, ...]}. Rules may nest further groups.
type RuleGroup struct {
	Condition string `json:"condition"` // "AND" or "OR", default AND
	Rules     []Rule `json:"rules"`
}

// Rule is either a leaf predicate (Key set) or a nested group (Rules set)
type Rule struct {
	Condition string `json:"condition,omitempty"`
	Rules     []Rule `json:"rules,omitempty"`

	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	Operator string `json:"operator,omitempty"`
	Type     string `json:"type,omitempty"` // "string" (default) or numeric
}

// ParseRuleGroup decodes a JSON rule tree. Empty input yields a nil group,
// which never matches.
func ParseRuleGroup(raw string) (*RuleGroup, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var g RuleGroup
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("failed to parse priority rule: %w", err)
	}
	return &g, nil
}

// Valid reports whether the group holds at least one rule
func (g *RuleGroup) Valid() bool {
	return g != nil && len(g.Rules) > 0
}

// Matches evaluates the group against a single feature's property map
func (g *RuleGroup) Matches(props map[string]any) bool {
	if !g.Valid() {
		return false
	}
	return matchGroup(g.Condition, g.Rules, props)
}

func matchGroup(condition string, rules []Rule, props map[string]any) bool {
	or := strings.EqualFold(condition, "OR")
	for _, r := range rules {
		matched := r.matches(props)
		if or && matched {
			return true
		}
		if !or && !matched {
			return false
		}
	}
	return !or
}

func (r *Rule) matches(props map[string]any) bool {
	if len(r.Rules) > 0 {
		return matchGroup(r.Condition, r.Rules, props)
	}
	if r.Key == "" {
		return false
	}

	value, present := props[r.Key]

	switch r.Operator {
	case "is_empty":
		return !present || propString(value) == ""
	case "is_not_empty":
		return present && propString(value) != ""
	}

	if !present {
		return false
	}

	if isNumericType(r.Type) {
		return r.matchNumeric(value)
	}
	return r.matchString(propString(value))
}

func (r *Rule) matchString(actual string) bool {
	switch r.Operator {
	case "", "equal":
		return actual == r.Value
	case "not_equal":
		return actual != r.Value
	case "contains":
		return strings.Contains(actual, r.Value)
	case "not_contains":
		return !strings.Contains(actual, r.Value)
	default:
		return false
	}
}

func (r *Rule) matchNumeric(value any) bool {
	actual, ok := propNumber(value)
	if !ok {
		return false
	}
	expected, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return false
	}

	switch r.Operator {
	case "", "equal":
		return actual == expected
	case "not_equal":
		return actual != expected
	case "less":
		return actual < expected
	case "less_or_equal":
		return actual <= expected
	case "greater":
		return actual > expected
	case "greater_or_equal":
		return actual >= expected
	default:
		return false
	}
}

func isNumericType(t string) bool {
	switch t {
	case "integer", "int", "long", "double", "number":
		return true
	}
	return false
}

func propString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func propNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
