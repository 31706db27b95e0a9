package priority

import "testing"

func TestParseRuleGroupEmpty(t *testing.T) {
	for _, raw := range []string{"", "  ", "{}"} {
		g, err := ParseRuleGroup(raw)
		if err != nil {
			t.Errorf("ParseRuleGroup(%q) failed: %v", raw, err)
		}
		if g != nil {
			t.Errorf("ParseRuleGroup(%q) = %+v, want nil", raw, g)
		}
	}
}

func TestParseRuleGroupInvalid(t *testing.T) {
	if _, err := ParseRuleGroup("{not json"); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestRuleGroupMatches(t *testing.T) {
	props := map[string]any{
		"highway": "primary",
		"lanes":   float64(4),
		"surface": "",
	}

	tests := []struct {
		name string
		rule string
		want bool
	}{
		{
			name: "string equal",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"primary","operator":"equal","type":"string"}]}`,
			want: true,
		},
		{
			name: "string not equal",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"residential","operator":"not_equal","type":"string"}]}`,
			want: true,
		},
		{
			name: "contains",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"prim","operator":"contains","type":"string"}]}`,
			want: true,
		},
		{
			name: "not contains fails on match",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"prim","operator":"not_contains","type":"string"}]}`,
			want: false,
		},
		{
			name: "numeric greater",
			rule: `{"condition":"AND","rules":[{"key":"lanes","value":"2","operator":"greater","type":"integer"}]}`,
			want: true,
		},
		{
			name: "numeric less fails",
			rule: `{"condition":"AND","rules":[{"key":"lanes","value":"2","operator":"less","type":"integer"}]}`,
			want: false,
		},
		{
			name: "AND needs every rule",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"primary","operator":"equal","type":"string"},{"key":"lanes","value":"9","operator":"equal","type":"integer"}]}`,
			want: false,
		},
		{
			name: "OR needs any rule",
			rule: `{"condition":"OR","rules":[{"key":"highway","value":"residential","operator":"equal","type":"string"},{"key":"lanes","value":"4","operator":"equal","type":"integer"}]}`,
			want: true,
		},
		{
			name: "nested group",
			rule: `{"condition":"AND","rules":[{"key":"highway","value":"primary","operator":"equal","type":"string"},{"condition":"OR","rules":[{"key":"lanes","value":"4","operator":"equal","type":"integer"},{"key":"lanes","value":"6","operator":"equal","type":"integer"}]}]}`,
			want: true,
		},
		{
			name: "is_empty on blank value",
			rule: `{"condition":"AND","rules":[{"key":"surface","operator":"is_empty","type":"string"}]}`,
			want: true,
		},
		{
			name: "is_empty on missing key",
			rule: `{"condition":"AND","rules":[{"key":"nonexistent","operator":"is_empty","type":"string"}]}`,
			want: true,
		},
		{
			name: "is_not_empty",
			rule: `{"condition":"AND","rules":[{"key":"highway","operator":"is_not_empty","type":"string"}]}`,
			want: true,
		},
		{
			name: "missing key never matches equal",
			rule: `{"condition":"AND","rules":[{"key":"nonexistent","value":"x","operator":"equal","type":"string"}]}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseRuleGroup(tt.rule)
			if err != nil {
				t.Fatalf("Failed to parse rule: %v", err)
			}
			if got := g.Matches(props); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNilGroupNeverMatches(t *testing.T) {
	var g *RuleGroup
	if g.Matches(map[string]any{"a": "b"}) {
		t.Error("Nil group must not match")
	}
}
