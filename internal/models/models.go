package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrImmutable is returned by hooks on append-only tables.
var ErrImmutable = errors.New("record is immutable")

type SharedLink struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	Token          string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	OwnerAccountID string     `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Bucket         string     `gorm:"type:varchar(255);not null" json:"bucket"`
	Path           string     `gorm:"type:text;not null" json:"path"`
	Filename       string     `gorm:"type:varchar(255);not null" json:"filename"`
	ContentType    *string    `gorm:"type:varchar(255)" json:"content_type,omitempty"`
	Size           int64      `gorm:"not null;default:0" json:"size"`
	IssuedAt       time.Time  `gorm:"not null;index" json:"issued_at"`
	ExpiresAt      time.Time  `gorm:"not null;index" json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

func (SharedLink) TableName() string {
	return "shared_links"
}

// BeforeDelete keeps link history around for auditing.
func (SharedLink) BeforeDelete(*gorm.DB) error {
	return ErrImmutable
}

// Access outcomes stored on AccessEvent.Status.
const (
	AccessGranted = "granted"
	AccessExpired = "expired"
	AccessRevoked = "revoked"
	// AccessUnavailable marks an active link whose object is gone from storage.
	AccessUnavailable = "unavailable"
)

// DirectReferrer is stored when a visit carries no Referer header.
const DirectReferrer = "direct"

type AccessEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceKey string    `gorm:"type:varchar(64);not null;index:idx_access_events_resource_time,priority:1" json:"resource_key"`
	OccurredAt  time.Time `gorm:"not null;index:idx_access_events_resource_time,priority:2" json:"occurred_at"`
	Status      string    `gorm:"type:varchar(16);not null;default:granted" json:"status"`
	IPAddress   string    `gorm:"type:varchar(45);not null" json:"ip_address"`
	UserAgent   string    `gorm:"type:text" json:"user_agent"`
	Referrer    string    `gorm:"type:text;not null" json:"referrer"`
	Country     *string   `gorm:"type:varchar(128)" json:"country,omitempty"`
	City        *string   `gorm:"type:varchar(128)" json:"city,omitempty"`
	Browser     string    `gorm:"type:varchar(64)" json:"browser,omitempty"`
	OS          string    `gorm:"type:varchar(64)" json:"os,omitempty"`
	IsBot       bool      `gorm:"not null;default:false" json:"is_bot"`
	IsDownload  bool      `gorm:"not null;default:false" json:"is_download"`
}

func (AccessEvent) TableName() string {
	return "access_events"
}

func (e *AccessEvent) Stamp(at time.Time) {
	e.OccurredAt = at
}

func (AccessEvent) BeforeUpdate(*gorm.DB) error { return ErrImmutable }
func (AccessEvent) BeforeDelete(*gorm.DB) error { return ErrImmutable }

type RequestLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	RequestID string    `gorm:"type:varchar(36)"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
