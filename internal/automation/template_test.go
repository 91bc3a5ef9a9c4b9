package automation

import "testing"

func TestRender_Substitution(t *testing.T) {
	facts := Facts{
		"device.name": "Front Door",
		"event.type":  "STATE_CHANGED",
	}
	got := Render("{{ device.name }} reported {{event.type}}", facts)
	if got != "Front Door reported STATE_CHANGED" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_MissingFactIsEmpty(t *testing.T) {
	got := Render("hello {{ nobody.home }}!", Facts{})
	if got != "hello !" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_NumberCollapse(t *testing.T) {
	facts := Facts{"event.payload.batteryPercentage": float64(75)}
	got := Render("battery {{ event.payload.batteryPercentage }}", facts)
	if got != "battery 75" {
		t.Errorf("whole floats should render without a decimal point, got %q", got)
	}

	facts["event.payload.confidence"] = 0.85
	got = Render("{{ event.payload.confidence }}", facts)
	if got != "0.85" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_NonScalarAsJSON(t *testing.T) {
	facts := Facts{"event.payload.tags": []interface{}{"a", "b"}}
	got := Render("{{ event.payload.tags }}", facts)
	if got != `["a","b"]` {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_NoPlaceholders(t *testing.T) {
	s := "static text"
	if got := Render(s, Facts{"x": 1}); got != s {
		t.Errorf("Render = %q", got)
	}
}
