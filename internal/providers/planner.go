package providers

import (
	"context"
	"fmt"
	"strings"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

// PlannerAdapter turns the consolidated strategy into concrete venues with
// travel estimates. Its coordinates are guesses; enrichment verifies them
// afterwards but the plan must stand on its own.
type PlannerAdapter struct {
	ai openai.Client
}

func NewPlannerAdapter(ai openai.Client) *PlannerAdapter {
	return &PlannerAdapter{ai: ai}
}

func (a *PlannerAdapter) Phase() string { return types.PhasePlanner }

func (a *PlannerAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	snapCtx, err := snapshotContext(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	strategy, ok := req.Upstream[types.PhaseConsolidator]
	if !ok || len(strategy) == 0 {
		return nil, fmt.Errorf("planner: missing consolidator output for snapshot %s", req.SnapshotID)
	}

	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Tactical venue planner for a rideshare driver.",
		"TASK: For the committed zones, name 3-8 specific staging venues (a named lot, plaza, hotel rank, terminal curb) with per-venue travel estimates from the driver's position.",
		"OUTPUT: Return JSON only, matching the schema (no extra keys).",
		"RULES:",
		"- Venues are specific named places, not areas.",
		"- drive_minutes: realistic drive time from the snapshot position.",
		"- wait_minutes: expected idle time before a ride at this venue now.",
		"- category is a short kind like 'hotel', 'venue', 'transit', 'nightlife'.",
		"- rationale is one tactical tip: where to sit, which exit, what to watch.",
	}, "\n"))

	user := strings.TrimSpace(strings.Join([]string{
		"CONTEXT_SNAPSHOT:",
		snapCtx,
		"",
		"CONSOLIDATED_STRATEGY:",
		string(strategy),
	}, "\n"))

	comp, err := invokeJSON(ctx, a.ai, types.PhasePlanner, system, user, "planner_venues_v1", plannerSchema())
	if err != nil {
		return nil, err
	}
	out, err := DecodePlanner(comp.Output)
	if err != nil {
		return nil, err
	}
	return resultFrom(comp, out)
}

func plannerSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"venues": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": 8,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"name":          map[string]any{"type": "string"},
						"category":      map[string]any{"type": "string"},
						"lat":           map[string]any{"type": "number"},
						"lng":           map[string]any{"type": "number"},
						"drive_minutes": map[string]any{"type": "number", "minimum": 0},
						"wait_minutes":  map[string]any{"type": "number", "minimum": 0},
						"rationale":     map[string]any{"type": "string"},
					},
					"required": []any{"name", "category", "lat", "lng", "drive_minutes", "wait_minutes", "rationale"},
				},
			},
		},
		"required": []any{"summary", "venues"},
	}
}
