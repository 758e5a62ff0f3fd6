package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/ratelimit"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	svc      *Service
	repo     *mockRepository
	recorder *fakeRecorder
	clock    *testClock
}

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

func newTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:                "test-secret-key",
		AccessTokenDuration:      24 * time.Hour,
		RefreshTokenDuration:     7 * 24 * time.Hour,
		SessionDuration:          24 * time.Hour,
		BcryptCost:               bcrypt.MinCost,
		EnforceSessionRevocation: true,
	}
}

func newTestEnvWithConfig(t *testing.T, cfg *config.AuthConfig) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	repo := newMockRepository()
	recorder := &fakeRecorder{}
	limiters := ratelimit.Limiters{
		Login: ratelimit.NewMemoryLimiter(
			config.LimitPolicy{MaxAttempts: 5, Window: 15 * time.Minute},
			ratelimit.WithClock(clock.Now),
		),
		Register: ratelimit.NewMemoryLimiter(
			config.LimitPolicy{MaxAttempts: 10, Window: time.Minute},
			ratelimit.WithClock(clock.Now),
		),
	}

	svc := NewService(cfg, newTestLogger(t), repo, limiters, recorder, nil)
	svc.now = clock.Now

	return &testEnv{svc: svc, repo: repo, recorder: recorder, clock: clock}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, newTestConfig())
}

func newTestService(t *testing.T) *Service {
	return newTestEnv(t).svc
}

func validRegistration() *RegisterRequest {
	return &RegisterRequest{
		FirstName:       "Juan",
		LastName:        "Dela Cruz",
		DateOfBirth:     "1995-04-20",
		Purok:           "Zone 3",
		PhoneNumber:     "09171234567",
		Username:        "juan",
		Email:           "juan@x.com",
		Password:        "Secret#123",
		AcceptedTerms:   true,
		AcceptedPrivacy: true,
	}
}

// addAccount stores an account with the given status directly in the
// repository.
func (e *testEnv) addAccount(t *testing.T, username, password string, role Role, status Status) *Account {
	t.Helper()

	hash, err := e.svc.HashPassword(password)
	require.NoError(t, err)

	account := &Account{
		ID:           uuid.New(),
		Username:     username,
		Email:        username + "@bms.test",
		PasswordHash: hash,
		Role:         role,
		Status:       status,
	}
	require.NoError(t, e.repo.CreateAccount(context.Background(), account, nil))
	return account
}

var testMeta = ClientMeta{IP: "192.0.2.1", UserAgent: "go-test"}
