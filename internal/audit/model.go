package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Action types written by the service.
const (
	ActionUserRegistration = "USER_REGISTRATION"
	ActionSystemInitUser   = "SYSTEM_INIT_USER"
	ActionUserLogin        = "USER_LOGIN"
	ActionUserLogout       = "USER_LOGOUT"
	ActionUserApproved     = "USER_APPROVED"
	ActionUserRejected     = "USER_REJECTED"
	ActionUserDisabled     = "USER_DISABLED"
	ActionSessionRevoked   = "SESSION_REVOKED"
)

// Entry is one append-only audit record. UserID is nil for system actions.
type Entry struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"userId,omitempty"`
	ActionType   string     `gorm:"size:100;not null" json:"actionType"`
	ResourceType string     `gorm:"size:100" json:"resourceType"`
	ResourceID   string     `gorm:"size:255" json:"resourceId"`
	Details      string     `gorm:"type:jsonb;not null" json:"details"`
	IPAddress    string     `gorm:"size:45" json:"ipAddress"`
	UserAgent    string     `json:"userAgent"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

func (e *Entry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Details == "" {
		e.Details = "{}"
	}
	return nil
}

// NewEntry builds an entry with details marshalled to JSON. Unmarshalable
// details are replaced by an empty object.
func NewEntry(actor *uuid.UUID, action, resourceType, resourceID string, details any) *Entry {
	raw := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			raw = string(b)
		}
	}
	return &Entry{
		UserID:       actor,
		ActionType:   action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      raw,
	}
}
