package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleResident Role = "resident"
	RoleOfficial Role = "official"
	RoleAdmin    Role = "admin"
	RoleClerk    Role = "clerk"
)

func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleOfficial, RoleAdmin, RoleClerk:
		return true
	}
	return false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
	StatusDisabled Status = "disabled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusDisabled:
		return true
	}
	return false
}

// Account is the authentication subject. Username and email are stored
// lowercased so equality lookups are case-insensitive.
type Account struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username        string     `gorm:"size:255;not null;uniqueIndex" json:"username"`
	Email           string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash    string     `gorm:"size:255;not null" json:"-"`
	FirstName       string     `gorm:"size:255" json:"firstName"`
	LastName        string     `gorm:"size:255" json:"lastName"`
	DateOfBirth     *time.Time `gorm:"type:date" json:"dateOfBirth,omitempty"`
	PhoneNumber     string     `gorm:"size:20" json:"phoneNumber"`
	Purok           string     `gorm:"size:255" json:"purok"`
	Role            Role       `gorm:"size:50;not null" json:"role"`
	Status          Status     `gorm:"size:50;not null;index" json:"status"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (Account) TableName() string {
	return "users"
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Username = strings.ToLower(a.Username)
	a.Email = strings.ToLower(a.Email)
	return nil
}

// Resident is the profile created alongside a resident account.
type Resident struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	FirstName     string     `gorm:"size:255"`
	LastName      string     `gorm:"size:255"`
	DateOfBirth   *time.Time `gorm:"type:date"`
	Purok         string     `gorm:"size:255"`
	ContactNumber string     `gorm:"size:20"`
	CreatedAt     time.Time
}

func (r *Resident) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Official is the profile created alongside an official account.
type Official struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	FirstName   string    `gorm:"size:255"`
	LastName    string    `gorm:"size:255"`
	Position    string    `gorm:"size:255"`
	Office      string    `gorm:"size:255"`
	PhoneNumber string    `gorm:"size:20"`
	CreatedAt   time.Time
}

func (o *Official) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Session stores digests of an issued token pair. A revoked session is
// unusable regardless of expiry.
type Session struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"userId"`
	TokenHash        string     `gorm:"size:64;not null;index" json:"-"`
	RefreshTokenHash string     `gorm:"size:64;not null" json:"-"`
	IPAddress        string     `gorm:"size:45" json:"ipAddress"`
	UserAgent        string     `json:"userAgent"`
	RememberMe       bool       `gorm:"not null" json:"rememberMe"`
	ExpiresAt        time.Time  `gorm:"not null" json:"expiresAt"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

type LoginAttempt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Identifier string    `gorm:"size:255;not null;index"`
	AttemptAt  time.Time `gorm:"not null"`
	IPAddress  string    `gorm:"size:45"`
	UserAgent  string
	Success    bool `gorm:"not null"`
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

func (a *LoginAttempt) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ClientMeta is the caller information recorded on sessions and attempts.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Identity is what Authenticate attaches to a request.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}
