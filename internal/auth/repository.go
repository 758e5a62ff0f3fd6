package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/elskow/bms/internal/audit"
)

type Repository interface {
	// CreateAccount inserts the account, its role profile and entry in one
	// transaction.
	CreateAccount(ctx context.Context, account *Account, entry *audit.Entry) error
	GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindAccountByIdentifier(ctx context.Context, identifier string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAccountsByStatus(ctx context.Context, status Status) ([]Account, error)
	// Transition moves an account from one status to another and fails with
	// ErrInvalidTransition when it is not currently in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time, reason string) (*Account, error)

	CreateSession(ctx context.Context, session *Session) error
	FindSessionByAccessHash(ctx context.Context, hash string) (*Session, error)
	RevokeSessionByAccessHash(ctx context.Context, hash string, at time.Time) error
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
	ListActiveSessions(ctx context.Context, now time.Time) ([]Session, error)
	// PurgeSessions deletes sessions that expired or were revoked before
	// cutoff.
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)

	RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateAccount(ctx context.Context, account *Account, entry *audit.Entry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return err
		}

		switch account.Role {
		case RoleResident:
			if err := tx.Create(&Resident{
				UserID:        account.ID,
				FirstName:     account.FirstName,
				LastName:      account.LastName,
				DateOfBirth:   account.DateOfBirth,
				Purok:         account.Purok,
				ContactNumber: account.PhoneNumber,
			}).Error; err != nil {
				return err
			}
		case RoleOfficial:
			if err := tx.Create(&Official{
				UserID:      account.ID,
				FirstName:   account.FirstName,
				LastName:    account.LastName,
				PhoneNumber: account.PhoneNumber,
			}).Error; err != nil {
				return err
			}
		}

		if entry != nil {
			if entry.ResourceID == "" {
				entry.ResourceID = account.ID.String()
			}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	return err
}

func (r *repository) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var account Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByIdentifier matches identifier against username or email,
// ignoring case.
func (r *repository) FindAccountByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))

	var account Account
	err := r.db.WithContext(ctx).
		Where("LOWER(username) = ? OR LOWER(email) = ?", key, key).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "LOWER(username) = ?", strings.ToLower(username))
}

func (r *repository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "LOWER(email) = ?", strings.ToLower(email))
}

func (r *repository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Account{}).Where(query, arg).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).Update("last_login_at", at).Error
}

func (r *repository) ListAccountsByStatus(ctx context.Context, status Status) ([]Account, error) {
	var accounts []Account
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time, reason string) (*Account, error) {
	changes := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case StatusActive:
		changes["verified_at"] = at
	case StatusRejected:
		changes["rejected_at"] = at
		changes["rejection_reason"] = reason
	}

	var account *Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).Where("id = ? AND status = ?", id, from).Updates(changes)
		if res.Error != nil {
			return res.Error
		}

		var current Account
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		account = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *repository) CreateSession(ctx context.Context, session *Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindSessionByAccessHash(ctx context.Context, hash string) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// RevokeSessionByAccessHash is a no-op when no unrevoked session matches.
func (r *repository) RevokeSessionByAccessHash(ctx context.Context, hash string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", at).Error
}

func (r *repository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *repository) ListActiveSessions(ctx context.Context, now time.Time) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("revoked_at IS NULL AND expires_at > ?", now).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repository) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at < ?", cutoff, cutoff).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}

func (r *repository) RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}
