package providers

import (
	"context"
	"fmt"
	"strings"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

// BrieferAdapter is the research pass that runs beside the strategist: surface
// the demand signals (events letting out, shift changes, weather windows) the
// strategist's quick read would miss.
type BrieferAdapter struct {
	ai openai.Client
}

func NewBrieferAdapter(ai openai.Client) *BrieferAdapter {
	return &BrieferAdapter{ai: ai}
}

func (a *BrieferAdapter) Phase() string { return types.PhaseBriefer }

func (a *BrieferAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	snapCtx, err := snapshotContext(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("briefer: %w", err)
	}

	system := strings.TrimSpace(strings.Join([]string{
		"ROLE: Local demand researcher for a rideshare driver.",
		"TASK: List concrete near-term demand signals around the driver's position: events ending, venue closing times, transit disruptions, weather-driven surges.",
		"OUTPUT: Return JSON only, matching the schema (no extra keys).",
		"RULES:",
		"- Only signals plausible for this place, day of week, and local time.",
		"- An empty events list is a valid answer for a quiet window; say so in the summary.",
		"- window is a human-readable local time range like '21:30-22:15'.",
		"- impact is one short clause on expected ride demand.",
	}, "\n"))

	user := strings.TrimSpace(strings.Join([]string{
		"CONTEXT_SNAPSHOT:",
		snapCtx,
	}, "\n"))

	comp, err := invokeJSON(ctx, a.ai, types.PhaseBriefer, system, user, "briefer_signals_v1", brieferSchema())
	if err != nil {
		return nil, err
	}
	out, err := DecodeBriefer(comp.Output)
	if err != nil {
		return nil, err
	}
	return resultFrom(comp, out)
}

func brieferSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"events": map[string]any{
				"type":     "array",
				"maxItems": 8,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"title":      map[string]any{"type": "string"},
						"venue_name": map[string]any{"type": "string"},
						"window":     map[string]any{"type": "string"},
						"impact":     map[string]any{"type": "string"},
					},
					"required": []any{"title", "venue_name", "window", "impact"},
				},
			},
		},
		"required": []any{"summary", "events"},
	}
}
