package audience

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// matchHandler evaluates one leaf match operator.
type matchHandler interface {
	Check(userValue, condValue any) bool
}

const (
	matchExact     = "exact"
	matchSubstring = "substring"
	matchExists    = "exists"
	matchGT        = "gt"
	matchGE        = "ge"
	matchLT        = "lt"
	matchLE        = "le"
	matchSemverEQ  = "semver_eq"
	matchSemverGT  = "semver_gt"
	matchSemverLT  = "semver_lt"
)

var matchHandlers = map[string]matchHandler{
	matchExact:     exactHandler{},
	matchSubstring: substringHandler{},
	matchExists:    existsHandler{},
	matchGT:        numericHandler{cmp: func(a, b float64) bool { return a > b }},
	matchGE:        numericHandler{cmp: func(a, b float64) bool { return a >= b }},
	matchLT:        numericHandler{cmp: func(a, b float64) bool { return a < b }},
	matchLE:        numericHandler{cmp: func(a, b float64) bool { return a <= b }},
	matchSemverEQ:  semverHandler{cmp: func(a, b *semver.Version) bool { return a.Equal(b) }},
	matchSemverGT:  semverHandler{cmp: func(a, b *semver.Version) bool { return a.GreaterThan(b) }},
	matchSemverLT:  semverHandler{cmp: func(a, b *semver.Version) bool { return a.LessThan(b) }},
}

// handlerFor resolves the handler for a leaf condition. An empty match
// field means exact comparison, the historical default.
func handlerFor(match string) (matchHandler, bool) {
	if match == "" {
		match = matchExact
	}
	h, ok := matchHandlers[strings.ToLower(match)]
	return h, ok
}

type exactHandler struct{}

func (exactHandler) Check(userValue, condValue any) bool {
	if user, ok := toString(userValue); ok {
		cond, ok := toString(condValue)
		return ok && user == cond
	}
	if user, ok := toFloat64(userValue); ok {
		cond, ok := toFloat64(condValue)
		return ok && user == cond
	}
	if user, ok := userValue.(bool); ok {
		cond, ok := condValue.(bool)
		return ok && user == cond
	}
	return false
}

type substringHandler struct{}

func (substringHandler) Check(userValue, condValue any) bool {
	user, okUser := toString(userValue)
	cond, okCond := toString(condValue)
	return okUser && okCond && strings.Contains(user, cond)
}

// existsHandler matches when the attribute is present with a non-nil value;
// the condition value is ignored.
type existsHandler struct{}

func (existsHandler) Check(userValue, _ any) bool {
	return userValue != nil
}

type numericHandler struct {
	cmp func(a, b float64) bool
}

func (h numericHandler) Check(userValue, condValue any) bool {
	user, okUser := toFloat64(userValue)
	cond, okCond := toFloat64(condValue)
	return okUser && okCond && h.cmp(user, cond)
}

type semverHandler struct {
	cmp func(a, b *semver.Version) bool
}

func (h semverHandler) Check(userValue, condValue any) bool {
	userStr, okUser := toString(userValue)
	condStr, okCond := toString(condValue)
	if !okUser || !okCond {
		return false
	}
	user, err := semver.NewVersion(userStr)
	if err != nil {
		return false
	}
	cond, err := semver.NewVersion(condStr)
	if err != nil {
		return false
	}
	return h.cmp(user, cond)
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
