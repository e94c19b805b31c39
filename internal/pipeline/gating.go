package pipeline

import (
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
)

// GatePolicy is the one deliberately configurable gating rule: whether the
// consolidator must have a successful briefing or merely a settled one.
type GatePolicy struct {
	// BriefingRequired true: the briefer must be ok before the consolidator
	// may start. False: the briefer is awaited but a terminal failure does
	// not block, the consolidator just runs without the briefing.
	BriefingRequired bool
}

// TerminalFailure reports whether a run has failed with no retry scheduled.
// A failed run with a retry time still pending is in backoff, not settled.
func TerminalFailure(run *types.PhaseRun) bool {
	return run != nil && run.Status == types.PhaseStatusFailed && run.NextRetryAt == nil
}

// depSatisfied is the per-edge gate rule. Only the briefer edge is ever soft.
func depSatisfied(policy GatePolicy, dep string, run *types.PhaseRun) bool {
	if run == nil {
		return false
	}
	if run.Status == types.PhaseStatusOk {
		return true
	}
	if dep == types.PhaseBriefer && !policy.BriefingRequired && TerminalFailure(run) {
		return true
	}
	return false
}

// Eligible reports whether every dependency of phase is settled enough for it
// to start. runsByPhase must hold the snapshot's current ledger rows.
func Eligible(spec *Spec, policy GatePolicy, phase string, runsByPhase map[string]*types.PhaseRun) bool {
	for _, dep := range spec.Deps(phase) {
		if !depSatisfied(policy, dep, runsByPhase[dep]) {
			return false
		}
	}
	return true
}

// Unsatisfiable reports whether a dependency of phase has terminally failed
// in a way the gate will never accept, so the phase itself can never start.
func Unsatisfiable(spec *Spec, policy GatePolicy, phase string, runsByPhase map[string]*types.PhaseRun) bool {
	for _, dep := range spec.Deps(phase) {
		run := runsByPhase[dep]
		if !TerminalFailure(run) {
			continue
		}
		if dep == types.PhaseBriefer && !policy.BriefingRequired {
			continue
		}
		return true
	}
	return false
}

func runsByPhase(runs []*types.PhaseRun) map[string]*types.PhaseRun {
	out := make(map[string]*types.PhaseRun, len(runs))
	for _, run := range runs {
		out[run.Phase] = run
	}
	return out
}
