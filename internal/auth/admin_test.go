package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/bms/internal/config"
)

func TestService_ApprovalWorkflow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    Status
		act     func(*Service, string) (*Account, error)
		want    Status
		wantErr error
	}{
		{
			name: "approve pending",
			from: StatusPending,
			act:  func(s *Service, id string) (*Account, error) { return s.ApproveRegistration(ctx, id) },
			want: StatusActive,
		},
		{
			name: "reject pending",
			from: StatusPending,
			act:  func(s *Service, id string) (*Account, error) { return s.RejectRegistration(ctx, id, "Incomplete documents") },
			want: StatusRejected,
		},
		{
			name:    "reject needs a reason",
			from:    StatusPending,
			act:     func(s *Service, id string) (*Account, error) { return s.RejectRegistration(ctx, id, "  ") },
			wantErr: ErrValidation,
		},
		{
			name:    "approve rejected is not allowed",
			from:    StatusRejected,
			act:     func(s *Service, id string) (*Account, error) { return s.ApproveRegistration(ctx, id) },
			wantErr: ErrConflict,
		},
		{
			name:    "reject active is not allowed",
			from:    StatusActive,
			act:     func(s *Service, id string) (*Account, error) { return s.RejectRegistration(ctx, id, "late") },
			wantErr: ErrConflict,
		},
		{
			name: "disable active",
			from: StatusActive,
			act:  func(s *Service, id string) (*Account, error) { return s.DisableAccount(ctx, id) },
			want: StatusDisabled,
		},
		{
			name:    "disable pending is not allowed",
			from:    StatusPending,
			act:     func(s *Service, id string) (*Account, error) { return s.DisableAccount(ctx, id) },
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			account := env.addAccount(t, "pedro", "Secret#123", RoleResident, tt.from)

			got, err := tt.act(env.svc, account.ID.String())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				stored, _ := env.repo.GetAccountByID(ctx, account.ID)
				assert.Equal(t, tt.from, stored.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			switch tt.want {
			case StatusActive:
				assert.NotNil(t, got.VerifiedAt)
			case StatusRejected:
				require.NotNil(t, got.RejectionReason)
				assert.Equal(t, "Incomplete documents", *got.RejectionReason)
				assert.NotNil(t, got.RejectedAt)
			}
		})
	}
}

func TestService_TransitionUnknownAccount(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ApproveRegistration(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ApproveRegistration(context.Background(), "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListRegistrations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "pending1", "Secret#123", RoleResident, StatusPending)
	env.addAccount(t, "active1", "Secret#123", RoleResident, StatusActive)

	pending, err := env.svc.ListRegistrations(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pending1", pending[0].Username)

	active, err := env.svc.ListRegistrations(ctx, StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = env.svc.ListRegistrations(ctx, "archived")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_SessionAdministration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	login, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	require.NoError(t, err)

	sessions, err := env.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, env.svc.RevokeSession(ctx, sessions[0].ID.String()))
	require.NoError(t, env.svc.RevokeSession(ctx, sessions[0].ID.String()))

	sessions, err = env.svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = env.svc.Authenticate(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.ErrorIs(t, env.svc.RevokeSession(ctx, uuid.NewString()), ErrNotFound)
}

func TestService_PurgeSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	_, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	require.NoError(t, err)

	removed, err := env.svc.PurgeSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// sessions last a day, then one more hour of retention
	env.clock.Advance(25*time.Hour + time.Second)
	removed, err = env.svc.PurgeSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, env.repo.sessionCount())
}

func TestService_Seed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	seeds := []config.SeedAccount{
		{Username: "admin", Email: "admin@bms.local", Password: "Admin#2025", Role: "admin", DateOfBirth: "1990-01-01"},
		{Username: "official1", Email: "official@bms.local", Password: "Official#2025", Role: "official"},
	}

	created, err := env.svc.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = env.svc.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Zero(t, created)

	admin, err := env.repo.FindAccountByIdentifier(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, admin.Status)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.NotNil(t, admin.VerifiedAt)

	require.Len(t, env.repo.entries, 2)
	assert.Equal(t, "SYSTEM_INIT_USER", env.repo.entries[0].ActionType)

	login, err := env.svc.Login(ctx, &LoginRequest{Username: "admin@bms.local", Password: "Admin#2025"}, testMeta)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, login.Account.Role)

	_, err = env.svc.Seed(ctx, []config.SeedAccount{{Username: "x", Email: "x@y.z", Password: "p", Role: "mayor"}})
	assert.Error(t, err)
}
