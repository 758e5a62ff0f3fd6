package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func parseID(raw string, notFound string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, newError(ErrNotFound, notFound)
	}
	return id, nil
}

// ListRegistrations lists accounts in status, pending when empty.
func (s *Service) ListRegistrations(ctx context.Context, status Status) ([]Account, error) {
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return nil, newError(ErrValidation, "Invalid status filter")
	}
	return s.repository.ListAccountsByStatus(ctx, status)
}

func (s *Service) transition(ctx context.Context, rawID string, from, to Status, reason, conflict string) (*Account, error) {
	id, err := parseID(rawID, "User not found")
	if err != nil {
		return nil, err
	}

	account, err := s.repository.Transition(ctx, id, from, to, s.now(), reason)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, newError(ErrNotFound, "User not found")
	case errors.Is(err, ErrInvalidTransition):
		return nil, newError(ErrConflict, conflict)
	case err != nil:
		return nil, err
	}

	s.log.Info("account status changed",
		zap.String("id", account.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return account, nil
}

func (s *Service) ApproveRegistration(ctx context.Context, id string) (*Account, error) {
	return s.transition(ctx, id, StatusPending, StatusActive, "", "Only pending registrations can be approved")
}

func (s *Service) RejectRegistration(ctx context.Context, id, reason string) (*Account, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(ErrValidation, "Rejection reason is required")
	}
	return s.transition(ctx, id, StatusPending, StatusRejected, reason, "Only pending registrations can be rejected")
}

func (s *Service) DisableAccount(ctx context.Context, id string) (*Account, error) {
	return s.transition(ctx, id, StatusActive, StatusDisabled, "", "Only active accounts can be disabled")
}

func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.repository.ListActiveSessions(ctx, s.now())
}

// PurgeSessions removes sessions that ended more than retention ago.
func (s *Service) PurgeSessions(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.repository.PurgeSessions(ctx, s.now().Add(-retention))
	return int(removed), err
}

// RevokeSession is idempotent for sessions that are already revoked.
func (s *Service) RevokeSession(ctx context.Context, rawID string) error {
	id, err := parseID(rawID, "Session not found")
	if err != nil {
		return err
	}
	err = s.repository.RevokeSession(ctx, id, s.now())
	if errors.Is(err, ErrSessionNotFound) {
		return newError(ErrNotFound, "Session not found")
	}
	return err
}
