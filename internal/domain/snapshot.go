package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContextSnapshot is the immutable record of what the device observed at one
// moment: position, local time, and whatever place/environment facts the
// client had already resolved. Rows are only ever inserted; every downstream
// pipeline row hangs off this id and cascades with it.
type ContextSnapshot struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DeviceID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"device_id"`
	CapturedAt  time.Time      `gorm:"column:captured_at;not null;index" json:"captured_at"`
	Lat         float64        `gorm:"column:lat;not null" json:"lat"`
	Lng         float64        `gorm:"column:lng;not null" json:"lng"`
	TimeZone    string         `gorm:"column:time_zone" json:"time_zone,omitempty"`
	Place       datatypes.JSON `gorm:"column:place;type:jsonb" json:"place,omitempty"`
	Environment datatypes.JSON `gorm:"column:environment;type:jsonb" json:"environment,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (ContextSnapshot) TableName() string { return "context_snapshot" }
