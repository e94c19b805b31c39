package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	PhaseStrategist   = "strategist"
	PhaseBriefer      = "briefer"
	PhaseConsolidator = "consolidator"
	PhasePlanner      = "planner"
)

const (
	PhaseStatusPending = "pending"
	PhaseStatusRunning = "running"
	PhaseStatusOk      = "ok"
	PhaseStatusFailed  = "failed"
)

// AllPhases is the canonical reporting order.
var AllPhases = []string{PhaseStrategist, PhaseBriefer, PhaseConsolidator, PhasePlanner}

// PhaseRun is one phase of the pipeline for one snapshot. The
// (snapshot_id, phase) pair is unique, so creating a run doubles as the
// dedupe for concurrent triggers, and claiming is a conditional update on
// status. A failed run becomes runnable again once next_retry_at passes.
type PhaseRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SnapshotID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_phase_run_snapshot_phase;index" json:"snapshot_id"`
	Phase       string     `gorm:"column:phase;not null;uniqueIndex:ux_phase_run_snapshot_phase" json:"phase"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`
	ErrorKind   string     `gorm:"column:error_kind" json:"error_kind,omitempty"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	ResultID    *uuid.UUID `gorm:"type:uuid;column:result_id" json:"result_id,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:now();index" json:"updated_at"`
}

func (PhaseRun) TableName() string { return "phase_run" }

// PhaseResult is the durable output of a successful phase invocation,
// written in the same transaction that marks the run ok. Provider and Model
// record provenance as echoed by the provider, not as requested.
type PhaseResult struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SnapshotID uuid.UUID      `gorm:"type:uuid;not null;index" json:"snapshot_id"`
	Phase      string         `gorm:"column:phase;not null;index" json:"phase"`
	Provider   string         `gorm:"column:provider;not null" json:"provider"`
	Model      string         `gorm:"column:model;not null" json:"model"`
	DurationMS int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Output     datatypes.JSON `gorm:"column:output;type:jsonb" json:"output"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (PhaseResult) TableName() string { return "phase_result" }
