package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Ranking is the final product for one snapshot: the ordered staging venues
// the planner settled on, plus the scoring assumptions that produced the
// ordering. It and its candidates are written in a single transaction, so a
// reader either sees the whole ranking or none of it.
type Ranking struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SnapshotID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"snapshot_id"`
	Summary            string    `gorm:"column:summary" json:"summary,omitempty"`
	AssumedRate        float64   `gorm:"column:assumed_rate;not null" json:"assumed_rate"`
	AssumedTripMinutes float64   `gorm:"column:assumed_trip_minutes;not null" json:"assumed_trip_minutes"`
	MinValuePerMinute  float64   `gorm:"column:min_value_per_minute;not null" json:"min_value_per_minute"`
	CreatedAt          time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Ranking) TableName() string { return "ranking" }

// RankingCandidate is one venue in a ranking. Candidates below the value
// floor keep their position and are flagged not_worth rather than dropped.
type RankingCandidate struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RankingID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"ranking_id"`
	Rank           int            `gorm:"column:rank;not null" json:"rank"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Category       string         `gorm:"column:category" json:"category,omitempty"`
	Lat            float64        `gorm:"column:lat;not null" json:"lat"`
	Lng            float64        `gorm:"column:lng;not null" json:"lng"`
	Address        string         `gorm:"column:address" json:"address,omitempty"`
	DriveMinutes   float64        `gorm:"column:drive_minutes;not null" json:"drive_minutes"`
	WaitMinutes    float64        `gorm:"column:wait_minutes;not null" json:"wait_minutes"`
	TripMinutes    float64        `gorm:"column:trip_minutes;not null" json:"trip_minutes"`
	ValuePerMinute float64        `gorm:"column:value_per_minute;not null" json:"value_per_minute"`
	NotWorth       bool           `gorm:"column:not_worth;not null;default:false" json:"not_worth"`
	Rationale      string         `gorm:"column:rationale" json:"rationale,omitempty"`
	Enriched       bool           `gorm:"column:enriched;not null;default:false" json:"enriched"`
	PlaceRef       string         `gorm:"column:place_ref" json:"place_ref,omitempty"`
	Details        datatypes.JSON `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (RankingCandidate) TableName() string { return "ranking_candidate" }
