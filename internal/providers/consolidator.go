package providers

import (
	"context"
	"fmt"
	"strings"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

// ConsolidatorAdapter merges the strategist's zone calls with the briefer's
// signals into one directive. The briefing is optional input; the strategist
// output is not.
type ConsolidatorAdapter struct {
	ai openai.Client
}

func NewConsolidatorAdapter(ai openai.Client) *ConsolidatorAdapter {
	return &ConsolidatorAdapter{ai: ai}
}

func (a *ConsolidatorAdapter) Phase() string { return types.PhaseConsolidator }

func (a *ConsolidatorAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	snapCtx, err := snapshotContext(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("consolidator: %w", err)
	}
	strategy, ok := req.Upstream[types.PhaseStrategist]
	if !ok || len(strategy) == 0 {
		return nil, fmt.Errorf("consolidator: missing strategist output for snapshot %s", req.SnapshotID)
	}
	briefing := "(briefing unavailable)"
	if raw, ok := req.Upstream[types.PhaseBriefer]; ok && len(raw) > 0 {
		briefing = string(raw)
	}

	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Staging strategy consolidator.",
		"TASK: Merge the strategist's zone calls and the research briefing into one directive: the 1-3 zones actually worth committing to, with the deciding factors.",
		"OUTPUT: Return JSON only, matching the schema (no extra keys).",
		"RULES:",
		"- Prefer zones the briefing corroborates; drop zones it contradicts.",
		"- When the briefing is unavailable, rank on the strategist's calls alone.",
		"- key_factors name the evidence behind the final picks, one clause each.",
		"- Carry coordinates through from the inputs; do not invent new ones.",
	}, "\n"))

	user := strings.TrimSpace(strings.Join([]string{
		"CONTEXT_SNAPSHOT:",
		snapCtx,
		"",
		"STRATEGIST_OUTPUT:",
		string(strategy),
		"",
		"BRIEFING:",
		briefing,
	}, "\n"))

	comp, err := invokeJSON(ctx, a.ai, types.PhaseConsolidator, system, user, "consolidated_strategy_v1", consolidatorSchema())
	if err != nil {
		return nil, err
	}
	out, err := DecodeConsolidator(comp.Output)
	if err != nil {
		return nil, err
	}
	return resultFrom(comp, out)
}

func consolidatorSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"strategy": map[string]any{"type": "string"},
			"key_factors": map[string]any{
				"type":     "array",
				"maxItems": 6,
				"items":    map[string]any{"type": "string"},
			},
			"zones": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": 3,
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
		"required": []any{"strategy", "key_factors", "zones"},
	}
}
