package models

import (
	"time"

	"gorm.io/gorm"
)

// AdminLogEntry is one administrative action. Details holds the JSON
// encoding of the action payload; the audit package owns its schema.
type AdminLogEntry struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	AdminID        string    `gorm:"type:varchar(64);not null;index"`
	AdminUsername  string    `gorm:"type:varchar(255);not null"`
	TargetUserID   *string   `gorm:"type:varchar(64);index"`
	TargetUsername *string   `gorm:"type:varchar(255)"`
	Action         string    `gorm:"type:varchar(64);not null;index"`
	Details        string    `gorm:"type:text;not null;default:'{}'"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (AdminLogEntry) TableName() string {
	return "admin_logs"
}

func (e *AdminLogEntry) Stamp(at time.Time) {
	e.CreatedAt = at
}

func (AdminLogEntry) BeforeUpdate(*gorm.DB) error { return ErrImmutable }
func (AdminLogEntry) BeforeDelete(*gorm.DB) error { return ErrImmutable }
