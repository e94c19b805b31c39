package providers

import (
	"context"
	"fmt"
	"strings"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

// StrategistAdapter is the fast first pass: given only the snapshot, name the
// staging zones worth considering right now.
type StrategistAdapter struct {
	ai openai.Client
}

func NewStrategistAdapter(ai openai.Client) *StrategistAdapter {
	return &StrategistAdapter{ai: ai}
}

func (a *StrategistAdapter) Phase() string { return types.PhaseStrategist }

func (a *StrategistAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	snapCtx, err := snapshotContext(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("strategist: %w", err)
	}

	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Rideshare staging strategist.",
		"TASK: From one driver context snapshot, pick the 2-5 staging zones with the best expected demand right now.",
		"OUTPUT: Return JSON only, matching the schema (no extra keys).",
		"RULES:",
		"- Zones are areas (a district, a terminal, an event cluster), not single venues.",
		"- Coordinates must be real WGS84 lat/lng near the driver's position.",
		"- priority 1 is strongest; keep the list ordered by priority.",
		"- Base every call on the snapshot: local time, weather, and place facts.",
	}, "\n"))

	user := strings.TrimSpace(strings.Join([]string{
		"CONTEXT_SNAPSHOT:",
		snapCtx,
	}, "\n"))

	comp, err := invokeJSON(ctx, a.ai, types.PhaseStrategist, system, user, "strategist_zones_v1", strategistSchema())
	if err != nil {
		return nil, err
	}
	out, err := DecodeStrategist(comp.Output)
	if err != nil {
		return nil, err
	}
	return resultFrom(comp, out)
}

func strategistSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"zones": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": 5,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"name":      map[string]any{"type": "string"},
						"lat":       map[string]any{"type": "number"},
						"lng":       map[string]any{"type": "number"},
						"rationale": map[string]any{"type": "string"},
						"priority":  map[string]any{"type": "integer", "minimum": 1},
					},
					"required": []any{"name", "lat", "lng", "rationale", "priority"},
				},
			},
		},
		"required": []any{"summary", "zones"},
	}
}
