package automation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pulsegrid/fusion/internal/model"
)

// Evaluate walks a rule tree against the fact table. A nil tree matches
// everything. Structural problems (empty composites, unknown operators)
// surface as errors so the caller can skip the automation loudly instead
// of silently firing or not firing.
func Evaluate(node *model.RuleNode, facts Facts) (bool, error) {
	if node == nil {
		return true, nil
	}

	switch {
	case len(node.All) > 0:
		for i := range node.All {
			ok, err := Evaluate(&node.All[i], facts)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case len(node.Any) > 0:
		for i := range node.Any {
			ok, err := Evaluate(&node.Any[i], facts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case node.Fact != "":
		return evalLeaf(node, facts)

	default:
		return false, fmt.Errorf("empty rule node")
	}
}

func evalLeaf(node *model.RuleNode, facts Facts) (bool, error) {
	actual, ok := facts.lookup(node.Fact)
	if !ok {
		// Missing facts never match; absence is not an error.
		return false, nil
	}

	switch node.Operator {
	case model.OpEq:
		return looseEqual(actual, node.Value), nil
	case model.OpNeq:
		return !looseEqual(actual, node.Value), nil

	case model.OpIn, model.OpNotIn:
		list, ok := node.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("fact %q: %s requires a list value", node.Fact, node.Operator)
		}
		found := false
		for _, v := range list {
			if looseEqual(actual, v) {
				found = true
				break
			}
		}
		if node.Operator == model.OpIn {
			return found, nil
		}
		return !found, nil

	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		a, aok := toNumber(actual)
		b, bok := toNumber(node.Value)
		if !aok || !bok {
			return false, nil
		}
		switch node.Operator {
		case model.OpGt:
			return a > b, nil
		case model.OpGte:
			return a >= b, nil
		case model.OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}

	case model.OpStartsWith:
		return strings.HasPrefix(toString(actual), toString(node.Value)), nil
	case model.OpContains:
		return strings.Contains(toString(actual), toString(node.Value)), nil

	default:
		return false, fmt.Errorf("fact %q: unknown operator %q", node.Fact, node.Operator)
	}
}

// looseEqual compares across the string/number boundary so a rule value
// of "75" matches a numeric fact of 75 and vice versa.
func looseEqual(a, b interface{}) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}
	return toString(a) == toString(b)
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	return renderValue(v)
}
