package providers

import (
	"testing"
)

func TestDecodeStrategistValidation(t *testing.T) {
	good := map[string]any{
		"summary": "s",
		"zones": []any{
			map[string]any{"name": "Rainey Street", "lat": 30.2590, "lng": -97.7390, "rationale": "r", "priority": float64(1)},
		},
	}
	out, err := DecodeStrategist(good)
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if out.Zones[0].Priority != 1 {
		t.Fatalf("priority lost: %+v", out.Zones[0])
	}

	bad := []map[string]any{
		{"summary": "s", "zones": []any{}},
		{"summary": "s"},
		{"summary": "s", "zones": []any{map[string]any{"name": "", "lat": 30.0, "lng": -97.0}}},
		{"summary": "s", "zones": []any{map[string]any{"name": "nowhere", "lat": 0.0, "lng": 0.0}}},
		{"summary": "s", "zones": []any{map[string]any{"name": "off map", "lat": 120.0, "lng": -97.0}}},
	}
	for i, m := range bad {
		if _, err := DecodeStrategist(m); KindOf(err) != KindInvalidResponse {
			t.Fatalf("bad[%d] should be invalid_response, got %v", i, err)
		}
	}
}

func TestDecodeBrieferAllowsQuietWindow(t *testing.T) {
	out, err := DecodeBriefer(map[string]any{"summary": "quiet Tuesday night", "events": []any{}})
	if err != nil {
		t.Fatalf("empty events list is a valid briefing: %v", err)
	}
	if len(out.Events) != 0 {
		t.Fatalf("events = %+v", out.Events)
	}
	if _, err := DecodeBriefer(map[string]any{"summary": "", "events": []any{}}); KindOf(err) != KindInvalidResponse {
		t.Fatalf("empty summary should be invalid, got %v", err)
	}
	if _, err := DecodeBriefer(map[string]any{
		"summary": "s",
		"events":  []any{map[string]any{"title": ""}},
	}); KindOf(err) != KindInvalidResponse {
		t.Fatalf("untitled event should be invalid, got %v", err)
	}
}

func TestDecodePlannerValidation(t *testing.T) {
	venue := func(mut func(map[string]any)) map[string]any {
		v := map[string]any{
			"name": "Fairmont Austin", "category": "hotel",
			"lat": 30.2621, "lng": -97.7394,
			"drive_minutes": float64(6), "wait_minutes": float64(4),
			"rationale": "valet loop",
		}
		if mut != nil {
			mut(v)
		}
		return map[string]any{"summary": "s", "venues": []any{v}}
	}

	if _, err := DecodePlanner(venue(nil)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if _, err := DecodePlanner(map[string]any{"summary": "s", "venues": []any{}}); KindOf(err) != KindInvalidResponse {
		t.Fatalf("empty venue list should be invalid, got %v", err)
	}
	if _, err := DecodePlanner(venue(func(v map[string]any) { v["drive_minutes"] = float64(-1) })); KindOf(err) != KindInvalidResponse {
		t.Fatalf("negative drive time should be invalid, got %v", err)
	}
	if _, err := DecodePlanner(venue(func(v map[string]any) { v["lat"] = 0.0; v["lng"] = 0.0 })); KindOf(err) != KindInvalidResponse {
		t.Fatalf("null island venue should be invalid, got %v", err)
	}
}

func TestDecodeConsolidatorValidation(t *testing.T) {
	good := map[string]any{
		"strategy":    "commit to downtown",
		"key_factors": []any{"concert letting out"},
		"zones": []any{
			map[string]any{"name": "Downtown", "lat": 30.2672, "lng": -97.7431, "rationale": "r", "priority": float64(1)},
		},
	}
	if _, err := DecodeConsolidator(good); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if _, err := DecodeConsolidator(map[string]any{"strategy": "", "key_factors": []any{}, "zones": []any{}}); KindOf(err) != KindInvalidResponse {
		t.Fatalf("empty strategy should be invalid, got %v", err)
	}
}
