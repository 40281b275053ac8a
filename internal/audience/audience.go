// Package audience parses audience condition expressions and evaluates them
// against user attributes. Two dialects are accepted: the structured
// list-form condition tree (["and", ["or", {leaf}...]]) and, for forward
// compatibility, JSON Logic objects.
package audience

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Attributes are the user attributes a condition tree is evaluated against.
type Attributes map[string]any

// Condition is one leaf predicate over a single user attribute.
type Condition struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Match string `json:"match,omitempty"`
	Value any    `json:"value"`
}

// Operators joining condition-tree nodes.
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
	OperatorNot = "not"
)

// Node is one node of a parsed condition tree: either an operator over
// children or a leaf referencing an entry in the flat condition list.
type Node struct {
	Operator string
	Children []*Node
	Leaf     bool
	Index    int
}

// Conditions is the parsed form of an audience's condition expression:
// the tree, the flat leaf list it indexes into, and (for the JSON Logic
// dialect) the raw expression instead.
type Conditions struct {
	Tree       *Node
	List       []Condition
	Expression json.RawMessage
}

// Parse turns a raw condition expression into its evaluable form.
// A JSON array is parsed as a structured condition tree; a JSON object is
// kept verbatim as a JSON Logic expression.
func Parse(raw string) (*Conditions, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty condition expression")
	}
	if strings.HasPrefix(trimmed, "{") {
		var probe map[string]any
		if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
			return nil, fmt.Errorf("decode condition expression: %w", err)
		}
		return &Conditions{Expression: json.RawMessage(trimmed)}, nil
	}

	var root any
	if err := json.Unmarshal([]byte(trimmed), &root); err != nil {
		return nil, fmt.Errorf("decode condition expression: %w", err)
	}
	c := &Conditions{}
	tree, err := c.parseNode(root)
	if err != nil {
		return nil, err
	}
	c.Tree = tree
	return c, nil
}

func (c *Conditions) parseNode(v any) (*Node, error) {
	switch node := v.(type) {
	case []any:
		if len(node) == 0 {
			return nil, fmt.Errorf("empty condition list")
		}
		operator := OperatorOr
		items := node
		if op, ok := node[0].(string); ok && isOperator(op) {
			operator = op
			items = node[1:]
		}
		parent := &Node{Operator: operator}
		for _, item := range items {
			child, err := c.parseNode(item)
			if err != nil {
				return nil, err
			}
			parent.Children = append(parent.Children, child)
		}
		return parent, nil
	case map[string]any:
		blob, err := json.Marshal(node)
		if err != nil {
			return nil, err
		}
		var cond Condition
		if err := json.Unmarshal(blob, &cond); err != nil {
			return nil, fmt.Errorf("decode leaf condition: %w", err)
		}
		if cond.Name == "" {
			return nil, fmt.Errorf("leaf condition without attribute name")
		}
		c.List = append(c.List, cond)
		return &Node{Leaf: true, Index: len(c.List) - 1}, nil
	default:
		return nil, fmt.Errorf("unexpected condition node of type %T", v)
	}
}

func isOperator(s string) bool {
	switch s {
	case OperatorAnd, OperatorOr, OperatorNot:
		return true
	}
	return false
}
