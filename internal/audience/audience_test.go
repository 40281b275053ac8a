package audience

import "testing"

const sampleConditions = `["and", ["or", ["or", {"name": "test_attribute", "type": "custom_attribute", "value": "test_value"}]]]`

func TestParseStructuredTree(t *testing.T) {
	conds, err := Parse(sampleConditions)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if conds.Tree == nil {
		t.Fatal("expected a condition tree")
	}
	if conds.Tree.Operator != OperatorAnd {
		t.Errorf("root operator = %q, want and", conds.Tree.Operator)
	}
	if len(conds.List) != 1 {
		t.Fatalf("expected 1 leaf condition, got %d", len(conds.List))
	}
	leaf := conds.List[0]
	if leaf.Name != "test_attribute" || leaf.Value != "test_value" {
		t.Errorf("unexpected leaf: %+v", leaf)
	}
}

func TestParseDefaultsToOr(t *testing.T) {
	conds, err := Parse(`[{"name": "a", "type": "custom_attribute", "value": "1"}, {"name": "b", "type": "custom_attribute", "value": "2"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if conds.Tree.Operator != OperatorOr {
		t.Errorf("list without operator should default to or, got %q", conds.Tree.Operator)
	}
	if len(conds.Tree.Children) != 2 {
		t.Errorf("expected 2 children, got %d", len(conds.Tree.Children))
	}
}

func TestParseJSONLogicExpression(t *testing.T) {
	conds, err := Parse(`{"==": [{"var": "plan"}, "pro"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if conds.Tree != nil {
		t.Error("JSON Logic expression should not produce a tree")
	}
	if len(conds.Expression) == 0 {
		t.Error("expected the raw expression to be retained")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"malformed json", `["and", {`},
		{"empty list", `[]`},
		{"leaf without name", `[{"type": "custom_attribute", "value": "x"}]`},
		{"scalar node", `["and", 42]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.raw); err == nil {
				t.Errorf("Parse(%q): expected error", tc.raw)
			}
		})
	}
}

func TestTreeEvaluatorStructured(t *testing.T) {
	conds, err := Parse(sampleConditions)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := TreeEvaluator{}

	if !eval.Matches(conds, Attributes{"test_attribute": "test_value"}) {
		t.Error("matching attribute should satisfy the conditions")
	}
	if eval.Matches(conds, Attributes{"test_attribute": "wrong_value"}) {
		t.Error("non-matching attribute must not satisfy the conditions")
	}
	if eval.Matches(conds, Attributes{}) {
		t.Error("absent attribute must not satisfy the conditions")
	}
	if eval.Matches(conds, nil) {
		t.Error("nil attributes must not satisfy the conditions")
	}
}

func TestTreeEvaluatorNot(t *testing.T) {
	conds, err := Parse(`["not", {"name": "banned", "type": "custom_attribute", "value": "true"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := TreeEvaluator{}

	if eval.Matches(conds, Attributes{"banned": "true"}) {
		t.Error("negated match must not satisfy")
	}
	if !eval.Matches(conds, Attributes{"banned": "false"}) {
		t.Error("negated non-match should satisfy")
	}
}

func TestTreeEvaluatorNilConditions(t *testing.T) {
	if (TreeEvaluator{}).Matches(nil, Attributes{"a": "b"}) {
		t.Error("nil conditions must not match")
	}
}

func TestTreeEvaluatorJSONLogic(t *testing.T) {
	conds, err := Parse(`{"and": [{">": [{"var": "age"}, 18]}, {"==": [{"var": "plan"}, "pro"]}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := TreeEvaluator{}

	if !eval.Matches(conds, Attributes{"age": 30, "plan": "pro"}) {
		t.Error("satisfying attributes should match the expression")
	}
	if eval.Matches(conds, Attributes{"age": 15, "plan": "pro"}) {
		t.Error("failing attributes must not match the expression")
	}
	if eval.Matches(conds, nil) {
		t.Error("nil attributes must not match the expression")
	}
}

func TestMatchOperators(t *testing.T) {
	tests := []struct {
		name      string
		match     string
		userValue any
		condValue any
		want      bool
	}{
		{"exact string match", "exact", "chrome", "chrome", true},
		{"exact string mismatch", "exact", "chrome", "firefox", false},
		{"exact default on empty match", "", "chrome", "chrome", true},
		{"exact number", "exact", 42.0, 42.0, true},
		{"exact number cross-type", "exact", 42, 42.0, true},
		{"exact bool", "exact", true, true, true},
		{"exact type mismatch", "exact", "42", 42.0, false},
		{"substring hit", "substring", "firefox 1.0", "firefox", true},
		{"substring miss", "substring", "safari", "firefox", false},
		{"substring non-string", "substring", 42, "4", false},
		{"exists with value", "exists", "anything", nil, true},
		{"exists with nil", "exists", nil, nil, false},
		{"gt", "gt", 10.0, 5.0, true},
		{"gt equal", "gt", 5.0, 5.0, false},
		{"ge equal", "ge", 5.0, 5.0, true},
		{"lt", "lt", 3, 5.0, true},
		{"le above", "le", 7.0, 5.0, false},
		{"numeric non-number", "gt", "ten", 5.0, false},
		{"semver equal", "semver_eq", "2.1.0", "2.1.0", true},
		{"semver greater", "semver_gt", "2.2.0", "2.1.0", true},
		{"semver less", "semver_lt", "2.0.0", "2.1.0", true},
		{"semver not greater", "semver_gt", "2.0.0", "2.1.0", false},
		{"semver garbage", "semver_eq", "not-a-version", "2.1.0", false},
		{"unknown operator", "regex", "a", "a", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, ok := handlerFor(tc.match)
			if !ok {
				if tc.want {
					t.Fatalf("no handler for match %q", tc.match)
				}
				return
			}
			if got := handler.Check(tc.userValue, tc.condValue); got != tc.want {
				t.Errorf("Check(%v, %v) with match %q = %v, want %v", tc.userValue, tc.condValue, tc.match, got, tc.want)
			}
		})
	}
}

func TestEvalLeafExistsWithoutAttribute(t *testing.T) {
	conds, err := Parse(`[{"name": "opt_in", "type": "custom_attribute", "match": "exists", "value": null}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := TreeEvaluator{}

	if eval.Matches(conds, Attributes{}) {
		t.Error("exists must not match an absent attribute")
	}
	if !eval.Matches(conds, Attributes{"opt_in": "yes"}) {
		t.Error("exists should match a present attribute")
	}
}
