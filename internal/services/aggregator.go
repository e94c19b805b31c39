package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/platform/places"
	"github.com/stagehand-app/stagehand-backend/internal/providers"
)

// ScoringConfig holds the deterministic scoring assumptions. AssumedRate is
// earnings per trip minute; AssumedTripMinutes stands in for the trip length
// the planner cannot know. A candidate below MinValuePerMinute keeps its rank
// and is flagged not_worth.
type ScoringConfig struct {
	AssumedRate        float64
	AssumedTripMinutes float64
	MinValuePerMinute  float64
	EnrichTimeout      time.Duration
	EnrichParallel     int
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	if c.AssumedRate <= 0 {
		c.AssumedRate = 1.0
	}
	if c.AssumedTripMinutes <= 0 {
		c.AssumedTripMinutes = 18
	}
	if c.MinValuePerMinute < 0 {
		c.MinValuePerMinute = 0
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 4 * time.Second
	}
	if c.EnrichParallel <= 0 {
		c.EnrichParallel = 4
	}
	return c
}

// RankingAggregator turns a planner output into the final ranking rows:
// best-effort venue enrichment, then deterministic scoring and ordering. It
// never persists anything itself; the orchestrator owns the transaction.
type RankingAggregator struct {
	log    *logger.Logger
	places places.Client
	cfg    ScoringConfig
}

func NewRankingAggregator(baseLog *logger.Logger, placesClient places.Client, cfg ScoringConfig) *RankingAggregator {
	return &RankingAggregator{
		log:    baseLog.With("service", "RankingAggregator"),
		places: placesClient,
		cfg:    cfg.withDefaults(),
	}
}

func (a *RankingAggregator) Build(ctx context.Context, snap *types.ContextSnapshot, plan *providers.PlannerOutput) (*types.Ranking, []*types.RankingCandidate, error) {
	if snap == nil {
		return nil, nil, fmt.Errorf("aggregator: snapshot required")
	}
	if plan == nil || len(plan.Venues) == 0 {
		return nil, nil, fmt.Errorf("aggregator: planner output has no venues")
	}

	cands := make([]*types.RankingCandidate, 0, len(plan.Venues))
	for _, v := range plan.Venues {
		cands = append(cands, &types.RankingCandidate{
			Name:         v.Name,
			Category:     v.Category,
			Lat:          v.Lat,
			Lng:          v.Lng,
			DriveMinutes: v.DriveMinutes,
			WaitMinutes:  v.WaitMinutes,
			TripMinutes:  a.cfg.AssumedTripMinutes,
			Rationale:    v.Rationale,
		})
	}

	a.enrichAll(ctx, cands)
	rankCandidates(cands, a.cfg.AssumedRate, a.cfg.MinValuePerMinute)

	ranking := &types.Ranking{
		SnapshotID:         snap.ID,
		Summary:            plan.Summary,
		AssumedRate:        a.cfg.AssumedRate,
		AssumedTripMinutes: a.cfg.AssumedTripMinutes,
		MinValuePerMinute:  a.cfg.MinValuePerMinute,
	}
	return ranking, cands, nil
}

// enrichAll looks each venue up in parallel. Enrichment only ever adds: a
// lookup that fails or times out leaves the planner's own fields untouched.
func (a *RankingAggregator) enrichAll(ctx context.Context, cands []*types.RankingCandidate) {
	if a.places == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.EnrichParallel)
	for _, cand := range cands {
		cand := cand
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.cfg.EnrichTimeout)
			defer cancel()
			place, err := a.places.FindPlace(cctx, cand.Name, cand.Lat, cand.Lng)
			if err != nil {
				if !errors.Is(err, places.ErrNoMatch) {
					a.log.Debug("venue enrichment failed", "venue", cand.Name, "error", err)
				}
				return nil
			}
			applyEnrichment(cand, place)
			return nil
		})
	}
	_ = g.Wait()
}

func applyEnrichment(cand *types.RankingCandidate, place *places.Place) {
	if place == nil {
		return
	}
	cand.Enriched = true
	cand.PlaceRef = place.PlaceID
	if place.Address != "" {
		cand.Address = place.Address
	}
	if place.Lat != 0 || place.Lng != 0 {
		cand.Lat = place.Lat
		cand.Lng = place.Lng
	}
	details := map[string]any{}
	if place.Name != "" && place.Name != cand.Name {
		details["canonical_name"] = place.Name
	}
	if place.Rating > 0 {
		details["rating"] = place.Rating
	}
	if place.OpenNow != nil {
		details["open_now"] = *place.OpenNow
	}
	if len(place.Types) > 0 {
		details["types"] = place.Types
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			cand.Details = datatypes.JSON(raw)
		}
	}
}

// rankCandidates scores and orders in place. Ties keep planner order, so the
// result is deterministic for a given input.
func rankCandidates(cands []*types.RankingCandidate, assumedRate, minValue float64) {
	for _, c := range cands {
		c.ValuePerMinute = scoreValuePerMinute(assumedRate, c.TripMinutes, c.DriveMinutes, c.WaitMinutes)
		c.NotWorth = c.ValuePerMinute < minValue
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].ValuePerMinute > cands[j].ValuePerMinute
	})
	for i, c := range cands {
		c.Rank = i + 1
	}
}

// scoreValuePerMinute is expected trip earnings over the whole time spent
// getting it: drive there, wait, drive the trip.
func scoreValuePerMinute(assumedRate, tripMinutes, driveMinutes, waitMinutes float64) float64 {
	total := driveMinutes + waitMinutes + tripMinutes
	if total <= 0 {
		return 0
	}
	return assumedRate * tripMinutes / total
}
