package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elskow/bms/internal/audit"
)

type mockRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	sessions map[uuid.UUID]*Session
	attempts []LoginAttempt
	entries  []audit.Entry

	// failCreate makes CreateAccount fail after its uniqueness checks.
	failCreate error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		accounts: make(map[uuid.UUID]*Account),
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (r *mockRepository) CreateAccount(_ context.Context, account *Account, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, account.Username) || strings.EqualFold(a.Email, account.Email) {
			return ErrUserExists
		}
	}
	if r.failCreate != nil {
		return r.failCreate
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Username = strings.ToLower(account.Username)
	account.Email = strings.ToLower(account.Email)
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt

	clone := *account
	r.accounts[account.ID] = &clone
	if entry != nil {
		r.entries = append(r.entries, *entry)
	}
	return nil
}

func (r *mockRepository) GetAccountByID(_ context.Context, id uuid.UUID) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *mockRepository) FindAccountByIdentifier(_ context.Context, identifier string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.TrimSpace(identifier)
	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, key) || strings.EqualFold(a.Email, key) {
			clone := *a
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *mockRepository) UsernameExists(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockRepository) EmailExists(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockRepository) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.LastLoginAt = &at
	}
	return nil
}

func (r *mockRepository) ListAccountsByStatus(_ context.Context, status Status) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Account
	for _, a := range r.accounts {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *mockRepository) Transition(_ context.Context, id uuid.UUID, from, to Status, at time.Time, reason string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if a.Status != from {
		return nil, ErrInvalidTransition
	}

	a.Status = to
	a.UpdatedAt = at
	switch to {
	case StatusActive:
		a.VerifiedAt = &at
	case StatusRejected:
		a.RejectedAt = &at
		a.RejectionReason = &reason
	}
	clone := *a
	return &clone, nil
}

// setStatus bypasses the transition rules, as an operator editing the row would.
func (r *mockRepository) setStatus(id uuid.UUID, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id].Status = status
}

func (r *mockRepository) CreateSession(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now().UTC()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *mockRepository) FindSessionByAccessHash(_ context.Context, hash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *mockRepository) RevokeSessionByAccessHash(_ context.Context, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash && s.RevokedAt == nil {
			s.RevokedAt = &at
		}
	}
	return nil
}

func (r *mockRepository) RevokeSession(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

func (r *mockRepository) ListActiveSessions(_ context.Context, now time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, s := range r.sessions {
		if s.RevokedAt == nil && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *mockRepository) PurgeSessions(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *mockRepository) RecordLoginAttempt(_ context.Context, attempt *LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *mockRepository) loginAttempts() []LoginAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LoginAttempt(nil), r.attempts...)
}

func (r *mockRepository) sessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *mockRepository) accountCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// fakeRecorder keeps entries in memory instead of writing them asynchronously.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (f *fakeRecorder) Record(entry *audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.ActionType)
	}
	return out
}
