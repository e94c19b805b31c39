package providers

import (
	"encoding/json"
	"fmt"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
)

// Phase outputs form a closed set: the orchestrator dispatches on phase name
// and decodes into exactly one of these. Anything the provider returns outside
// the declared schema is an invalid response, not a soft degrade.

// ZoneCall is one staging zone the strategist (or consolidator) wants covered.
type ZoneCall struct {
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Rationale string  `json:"rationale,omitempty"`
	Priority  int     `json:"priority,omitempty"`
}

// StrategistOutput is the fast first read on the snapshot.
type StrategistOutput struct {
	Summary string     `json:"summary"`
	Zones   []ZoneCall `json:"zones"`
}

// EventNote is one demand signal the briefer dug up (event letting out, shift
// change, weather window).
type EventNote struct {
	Title     string `json:"title"`
	VenueName string `json:"venue_name,omitempty"`
	Window    string `json:"window,omitempty"`
	Impact    string `json:"impact,omitempty"`
}

// BrieferOutput is the research pass that runs beside the strategist.
type BrieferOutput struct {
	Summary string      `json:"summary"`
	Events  []EventNote `json:"events"`
}

// ConsolidatorOutput merges strategy and briefing into one directive.
type ConsolidatorOutput struct {
	Strategy   string     `json:"strategy"`
	KeyFactors []string   `json:"key_factors"`
	Zones      []ZoneCall `json:"zones"`
}

// VenuePlan is one concrete venue the planner proposes, with its own travel
// estimates. Coordinates here are the planner's guess; enrichment may verify
// them later but never erases them.
type VenuePlan struct {
	Name         string  `json:"name"`
	Category     string  `json:"category,omitempty"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	DriveMinutes float64 `json:"drive_minutes"`
	WaitMinutes  float64 `json:"wait_minutes"`
	Rationale    string  `json:"rationale,omitempty"`
}

// PlannerOutput is the tactical venue list the aggregator scores.
type PlannerOutput struct {
	Summary string      `json:"summary,omitempty"`
	Venues  []VenuePlan `json:"venues"`
}

func decodeInto(phase string, m map[string]any, dst any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return invalidResponse(phase, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidResponse(phase, fmt.Errorf("decode %s output: %w", phase, err))
	}
	return nil
}

func validCoord(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 && !(lat == 0 && lng == 0)
}

// DecodeStrategist parses and validates a raw strategist completion.
func DecodeStrategist(m map[string]any) (*StrategistOutput, error) {
	var out StrategistOutput
	if err := decodeInto(types.PhaseStrategist, m, &out); err != nil {
		return nil, err
	}
	if len(out.Zones) == 0 {
		return nil, invalidResponse(types.PhaseStrategist, fmt.Errorf("no zones proposed"))
	}
	for i, z := range out.Zones {
		if z.Name == "" {
			return nil, invalidResponse(types.PhaseStrategist, fmt.Errorf("zone[%d] has no name", i))
		}
		if !validCoord(z.Lat, z.Lng) {
			return nil, invalidResponse(types.PhaseStrategist, fmt.Errorf("zone[%d] %q has bad coordinates (%f,%f)", i, z.Name, z.Lat, z.Lng))
		}
	}
	return &out, nil
}

// DecodeBriefer parses and validates a raw briefer completion. An empty events
// list is fine; a quiet afternoon is a valid briefing.
func DecodeBriefer(m map[string]any) (*BrieferOutput, error) {
	var out BrieferOutput
	if err := decodeInto(types.PhaseBriefer, m, &out); err != nil {
		return nil, err
	}
	if out.Summary == "" {
		return nil, invalidResponse(types.PhaseBriefer, fmt.Errorf("empty summary"))
	}
	for i, e := range out.Events {
		if e.Title == "" {
			return nil, invalidResponse(types.PhaseBriefer, fmt.Errorf("event[%d] has no title", i))
		}
	}
	return &out, nil
}

// DecodeConsolidator parses and validates a raw consolidator completion.
func DecodeConsolidator(m map[string]any) (*ConsolidatorOutput, error) {
	var out ConsolidatorOutput
	if err := decodeInto(types.PhaseConsolidator, m, &out); err != nil {
		return nil, err
	}
	if out.Strategy == "" {
		return nil, invalidResponse(types.PhaseConsolidator, fmt.Errorf("empty strategy"))
	}
	if len(out.Zones) == 0 {
		return nil, invalidResponse(types.PhaseConsolidator, fmt.Errorf("no zones selected"))
	}
	for i, z := range out.Zones {
		if z.Name == "" || !validCoord(z.Lat, z.Lng) {
			return nil, invalidResponse(types.PhaseConsolidator, fmt.Errorf("zone[%d] invalid", i))
		}
	}
	return &out, nil
}

// DecodePlanner parses and validates a raw planner completion.
func DecodePlanner(m map[string]any) (*PlannerOutput, error) {
	var out PlannerOutput
	if err := decodeInto(types.PhasePlanner, m, &out); err != nil {
		return nil, err
	}
	if len(out.Venues) == 0 {
		return nil, invalidResponse(types.PhasePlanner, fmt.Errorf("no venues proposed"))
	}
	for i, v := range out.Venues {
		if v.Name == "" {
			return nil, invalidResponse(types.PhasePlanner, fmt.Errorf("venue[%d] has no name", i))
		}
		if !validCoord(v.Lat, v.Lng) {
			return nil, invalidResponse(types.PhasePlanner, fmt.Errorf("venue[%d] %q has bad coordinates (%f,%f)", i, v.Name, v.Lat, v.Lng))
		}
		if v.DriveMinutes < 0 || v.WaitMinutes < 0 {
			return nil, invalidResponse(types.PhasePlanner, fmt.Errorf("venue[%d] %q has negative travel estimates", i, v.Name))
		}
	}
	return &out, nil
}
