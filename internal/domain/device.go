package domain

import (
	"time"

	"github.com/google/uuid"
)

// Device is a paired client. SecretHash is a bcrypt hash of the device
// secret issued once at pairing; the plaintext is never stored.
type Device struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name       string     `gorm:"column:name;not null" json:"name"`
	SecretHash string     `gorm:"column:secret_hash;not null" json:"-"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Device) TableName() string { return "device" }
