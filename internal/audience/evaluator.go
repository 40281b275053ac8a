package audience

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
)

// Evaluator decides whether a user's attributes satisfy an audience's
// conditions. It must be pure and total over well-formed condition trees.
type Evaluator interface {
	Matches(conds *Conditions, attrs Attributes) bool
}

// TreeEvaluator is the default Evaluator. Structured trees are walked with
// and/or/not semantics; JSON Logic expressions are delegated to the jsonlogic
// library with JavaScript-like truthiness on the result.
type TreeEvaluator struct{}

func (TreeEvaluator) Matches(conds *Conditions, attrs Attributes) bool {
	if conds == nil {
		return false
	}
	if len(conds.Expression) > 0 {
		return applyExpression(conds.Expression, attrs)
	}
	return evalNode(conds.Tree, conds.List, attrs)
}

func evalNode(node *Node, list []Condition, attrs Attributes) bool {
	if node == nil {
		return false
	}
	if node.Leaf {
		if node.Index < 0 || node.Index >= len(list) {
			return false
		}
		return evalLeaf(list[node.Index], attrs)
	}
	switch node.Operator {
	case OperatorAnd:
		for _, child := range node.Children {
			if !evalNode(child, list, attrs) {
				return false
			}
		}
		return len(node.Children) > 0
	case OperatorNot:
		if len(node.Children) == 0 {
			return false
		}
		return !evalNode(node.Children[0], list, attrs)
	default: // or
		for _, child := range node.Children {
			if evalNode(child, list, attrs) {
				return true
			}
		}
		return false
	}
}

func evalLeaf(cond Condition, attrs Attributes) bool {
	userValue, present := attrs[cond.Name]
	if !present && !strings.EqualFold(cond.Match, matchExists) {
		return false
	}
	handler, ok := handlerFor(cond.Match)
	if !ok {
		return false
	}
	return handler.Check(userValue, cond.Value)
}

func applyExpression(expr json.RawMessage, attrs Attributes) bool {
	if attrs == nil {
		attrs = Attributes{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return false
	}
	var result bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(expr), bytes.NewReader(data), &result); err != nil {
		return false
	}
	var value any
	if err := json.Unmarshal(result.Bytes(), &value); err != nil {
		return false
	}
	return isTruthy(value)
}

// isTruthy follows JavaScript-like truthiness so JSON Logic expressions that
// return non-booleans still gate sensibly.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
