package automation

import (
	"testing"

	"github.com/pulsegrid/fusion/internal/model"
)

func leaf(fact string, op model.RuleOperator, value interface{}) model.RuleNode {
	return model.RuleNode{Fact: fact, Operator: op, Value: value}
}

func TestEvaluate_NilRuleMatchesEverything(t *testing.T) {
	ok, err := Evaluate(nil, Facts{})
	if err != nil || !ok {
		t.Errorf("nil rule: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEvaluate_Eq(t *testing.T) {
	facts := Facts{"event.type": "STATE_CHANGED", "event.payload.confidence": 0.9}

	node := leaf("event.type", model.OpEq, "STATE_CHANGED")
	if ok, err := Evaluate(&node, facts); err != nil || !ok {
		t.Errorf("eq string: got (%v, %v)", ok, err)
	}

	node = leaf("event.type", model.OpNeq, "ACCESS_GRANTED")
	if ok, _ := Evaluate(&node, facts); !ok {
		t.Error("neq should match")
	}
}

func TestEvaluate_NumericLooseEquality(t *testing.T) {
	// JSON decoding turns both sides into whatever type it likes; 2 and
	// 2.0 must compare equal.
	facts := Facts{"event.payload.buttonNumber": float64(2)}
	node := leaf("event.payload.buttonNumber", model.OpEq, 2)
	if ok, err := Evaluate(&node, facts); err != nil || !ok {
		t.Errorf("int vs float64: got (%v, %v)", ok, err)
	}
}

func TestEvaluate_MissingFactIsFalseNotError(t *testing.T) {
	node := leaf("device.name", model.OpEq, "Front Door")
	ok, err := Evaluate(&node, Facts{})
	if err != nil {
		t.Fatalf("missing fact must not error: %v", err)
	}
	if ok {
		t.Error("missing fact must evaluate to false")
	}
}

func TestEvaluate_InRequiresList(t *testing.T) {
	facts := Facts{"event.type": "STATE_CHANGED"}

	node := leaf("event.type", model.OpIn, []interface{}{"STATE_CHANGED", "BUTTON_PRESSED"})
	if ok, err := Evaluate(&node, facts); err != nil || !ok {
		t.Errorf("in: got (%v, %v)", ok, err)
	}

	node = leaf("event.type", model.OpIn, "STATE_CHANGED")
	if _, err := Evaluate(&node, facts); err == nil {
		t.Error("in with a non-list value is a structural problem and must error")
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	facts := Facts{"event.payload.confidence": 0.85}

	node := leaf("event.payload.confidence", model.OpGte, 0.8)
	if ok, _ := Evaluate(&node, facts); !ok {
		t.Error("gte should match")
	}

	node = leaf("event.payload.confidence", model.OpLt, 0.5)
	if ok, _ := Evaluate(&node, facts); ok {
		t.Error("lt should not match")
	}

	// Non-numeric operand makes comparison false, not an error.
	facts["event.payload.confidence"] = "high"
	node = leaf("event.payload.confidence", model.OpGt, 0.5)
	if ok, err := Evaluate(&node, facts); err != nil || ok {
		t.Errorf("non-numeric gt: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEvaluate_StringOps(t *testing.T) {
	facts := Facts{"device.name": "Front Door Sensor"}

	node := leaf("device.name", model.OpStartsWith, "Front")
	if ok, _ := Evaluate(&node, facts); !ok {
		t.Error("startsWith should match")
	}

	node = leaf("device.name", model.OpContains, "Door")
	if ok, _ := Evaluate(&node, facts); !ok {
		t.Error("contains should match")
	}
}

func TestEvaluate_NestedAllAny(t *testing.T) {
	facts := Facts{
		"event.type":    "STATE_CHANGED",
		"area.armedState": "ARMED_AWAY",
		"device.type":   "CAMERA",
	}

	node := model.RuleNode{All: []model.RuleNode{
		leaf("event.type", model.OpEq, "STATE_CHANGED"),
		{Any: []model.RuleNode{
			leaf("area.armedState", model.OpEq, "ARMED_AWAY"),
			leaf("area.armedState", model.OpEq, "ARMED_STAY"),
		}},
	}}
	if ok, err := Evaluate(&node, facts); err != nil || !ok {
		t.Errorf("nested all/any: got (%v, %v)", ok, err)
	}

	facts["event.type"] = "ACCESS_GRANTED"
	if ok, _ := Evaluate(&node, facts); ok {
		t.Error("all with a failing branch must not match")
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	node := leaf("event.type", "matches", "x")
	if _, err := Evaluate(&node, Facts{"event.type": "STATE_CHANGED"}); err == nil {
		t.Error("unknown operator must error")
	}
}
