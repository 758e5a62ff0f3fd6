package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/bms/internal/audit"
)

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(*testEnv)
		mutate  func(*RegisterRequest)
		kind    error
		message string
	}{
		{
			name: "successful registration",
		},
		{
			name: "duplicate username with different casing",
			setup: func(e *testEnv) {
				_, _ = e.svc.Register(ctx, validRegistration(), testMeta)
			},
			mutate: func(r *RegisterRequest) {
				r.Username = "JUAN"
				r.Email = "other@x.com"
			},
			kind:    ErrConflict,
			message: "Username already taken",
		},
		{
			name: "duplicate email with different casing",
			setup: func(e *testEnv) {
				_, _ = e.svc.Register(ctx, validRegistration(), testMeta)
			},
			mutate: func(r *RegisterRequest) {
				r.Username = "pedro"
				r.Email = "Juan@X.com"
			},
			kind:    ErrConflict,
			message: "Email already registered",
		},
		{
			name:    "validation failure",
			mutate:  func(r *RegisterRequest) { r.Email = "nope" },
			kind:    ErrValidation,
			message: "Invalid email format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			before := env.repo.accountCount()

			req := validRegistration()
			if tt.mutate != nil {
				tt.mutate(req)
			}

			result, err := env.svc.Register(ctx, req, testMeta)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
				assert.Equal(t, tt.message, err.Error())
				assert.Equal(t, before, env.repo.accountCount())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, StatusPending, result.Status)
			assert.Equal(t, "juan@x.com", result.Email)

			account, err := env.repo.GetAccountByID(ctx, result.ReferenceID)
			require.NoError(t, err)
			assert.Equal(t, RoleResident, account.Role)
			assert.Equal(t, StatusPending, account.Status)
			assert.True(t, env.svc.CheckPasswordHash("Secret#123", account.PasswordHash))
			require.NotNil(t, account.DateOfBirth)
			assert.Equal(t, "1995-04-20", account.DateOfBirth.Format(time.DateOnly))

			require.Len(t, env.repo.entries, 1)
			assert.Equal(t, audit.ActionUserRegistration, env.repo.entries[0].ActionType)
			assert.Nil(t, env.repo.entries[0].UserID)
			assert.Equal(t, result.ReferenceID.String(), env.repo.entries[0].ResourceID)
		})
	}
}

func TestService_Register_StoreFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.repo.failCreate = errors.New("connection reset")

	_, err := env.svc.Register(context.Background(), validRegistration(), testMeta)
	require.Error(t, err)

	var e *Error
	assert.False(t, errors.As(err, &e))
	assert.Equal(t, 500, StatusCode(err))
}

func TestService_Register_RateLimited(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		req := validRegistration()
		req.Username = "user" + string(rune('a'+i)) + "xx"
		req.Email = req.Username + "@x.com"
		_, err := env.svc.Register(ctx, req, testMeta)
		require.NoError(t, err, "registration %d", i)
	}

	_, err := env.svc.Register(ctx, validRegistration(), testMeta)
	require.ErrorIs(t, err, ErrRateLimited)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 60, e.RetryAfter)
	assert.Equal(t, "Too many attempts. Try again in 60 seconds.", e.Message)

	attempts := env.repo.loginAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "juan", attempts[0].Identifier)
	assert.False(t, attempts[0].Success)

	env.clock.Advance(time.Minute + time.Second)
	_, err = env.svc.Register(ctx, validRegistration(), testMeta)
	assert.NoError(t, err)
}

func TestService_Register_FailedValidationDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	bad := validRegistration()
	bad.Password = "weak"
	for i := 0; i < 20; i++ {
		_, err := env.svc.Register(ctx, bad, testMeta)
		require.ErrorIs(t, err, ErrValidation)
	}

	_, err := env.svc.Register(ctx, validRegistration(), testMeta)
	assert.NoError(t, err)
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		status      Status
		username    string
		password    string
		kind        error
		message     string
		wantAttempt bool
		attemptID   string
		wantSession bool
		wantSuccess bool
		wantRefID   bool
	}{
		{
			name:        "active account",
			status:      StatusActive,
			username:    "maria",
			password:    "Secret#123",
			wantAttempt: true,
			attemptID:   "maria",
			wantSession: true,
			wantSuccess: true,
		},
		{
			name:        "login by email ignoring case",
			status:      StatusActive,
			username:    "MARIA@bms.test",
			password:    "Secret#123",
			wantAttempt: true,
			attemptID:   "maria",
			wantSession: true,
			wantSuccess: true,
		},
		{
			name:        "wrong password",
			status:      StatusActive,
			username:    "Maria",
			password:    "Wrong#123",
			kind:        ErrInvalidCredentials,
			message:     "Invalid credentials",
			wantAttempt: true,
			attemptID:   "maria",
		},
		{
			name:        "unknown identifier",
			status:      StatusActive,
			username:    "Nobody",
			password:    "Secret#123",
			kind:        ErrInvalidCredentials,
			message:     "Invalid credentials",
			wantAttempt: true,
			attemptID:   "Nobody",
		},
		{
			name:      "pending account",
			status:    StatusPending,
			username:  "maria",
			password:  "Secret#123",
			kind:      ErrAccountPending,
			message:   "Account pending approval",
			wantRefID: true,
		},
		{
			name:     "rejected account",
			status:   StatusRejected,
			username: "maria",
			password: "Secret#123",
			kind:     ErrAccountRejected,
			message:  "Account has been rejected",
		},
		{
			name:     "disabled account",
			status:   StatusDisabled,
			username: "maria",
			password: "Secret#123",
			kind:     ErrAccountInactive,
			message:  "Account is not active",
		},
		{
			name:     "missing password",
			status:   StatusActive,
			username: "maria",
			kind:     ErrValidation,
			message:  "Username/Email and password are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			account := env.addAccount(t, "maria", "Secret#123", RoleResident, tt.status)

			result, err := env.svc.Login(ctx, &LoginRequest{Username: tt.username, Password: tt.password}, testMeta)

			attempts := env.repo.loginAttempts()
			if tt.wantAttempt {
				require.Len(t, attempts, 1)
				assert.Equal(t, tt.attemptID, attempts[0].Identifier)
				assert.Equal(t, tt.wantSuccess, attempts[0].Success)
				assert.Equal(t, testMeta.IP, attempts[0].IPAddress)
			} else {
				assert.Empty(t, attempts)
			}

			if tt.wantSession {
				assert.Equal(t, 1, env.repo.sessionCount())
			} else {
				assert.Equal(t, 0, env.repo.sessionCount())
			}

			if tt.kind != nil {
				require.ErrorIs(t, err, tt.kind)
				assert.Equal(t, tt.message, err.Error())

				var e *Error
				require.True(t, errors.As(err, &e))
				if tt.wantRefID {
					assert.Equal(t, account.ID.String(), e.ReferenceID)
				} else {
					assert.Empty(t, e.ReferenceID)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, account.ID, result.Account.ID)

			claims, err := env.svc.VerifyToken(result.AccessToken, TokenAccess)
			require.NoError(t, err)
			assert.Equal(t, account.ID.String(), claims.UserID)
			assert.Equal(t, RoleResident, claims.Role)

			_, err = env.svc.VerifyToken(result.RefreshToken, TokenRefresh)
			require.NoError(t, err)

			session, err := env.repo.FindSessionByAccessHash(ctx, HashOpaque(result.AccessToken))
			require.NoError(t, err)
			assert.Equal(t, HashOpaque(result.RefreshToken), session.RefreshTokenHash)
			assert.Equal(t, env.clock.now.Add(24*time.Hour), session.ExpiresAt)

			stored, _ := env.repo.GetAccountByID(ctx, account.ID)
			require.NotNil(t, stored.LastLoginAt)
			assert.Equal(t, []string{audit.ActionUserLogin}, env.recorder.actions())
		})
	}
}

func TestService_Login_RememberMeKeepsSessionExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	result, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123", RememberMe: true}, testMeta)
	require.NoError(t, err)

	session, err := env.repo.FindSessionByAccessHash(ctx, HashOpaque(result.AccessToken))
	require.NoError(t, err)
	assert.True(t, session.RememberMe)
	assert.Equal(t, env.clock.now.Add(24*time.Hour), session.ExpiresAt)
}

func TestService_Login_RateLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Wrong#123"}, testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
		env.clock.Advance(2 * time.Minute)
	}

	// the sixth attempt is refused even with the right password
	_, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	require.ErrorIs(t, err, ErrRateLimited)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 5*60, e.RetryAfter)
	assert.Len(t, env.repo.loginAttempts(), 5)

	// the identifier stays locked from another address
	other := ClientMeta{IP: "198.51.100.9"}
	_, err = env.svc.Login(ctx, &LoginRequest{Username: " MARIA ", Password: "Secret#123"}, other)
	require.ErrorIs(t, err, ErrRateLimited)

	// other identifiers from other addresses are unaffected
	env.addAccount(t, "pedro", "Secret#123", RoleResident, StatusActive)
	_, err = env.svc.Login(ctx, &LoginRequest{Username: "pedro", Password: "Secret#123"}, other)
	assert.NoError(t, err)

	env.clock.Advance(5*time.Minute + time.Second)
	_, err = env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	assert.NoError(t, err)
}

func TestService_Login_RateLimitPerAddress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// distinct identifiers from one address share the address budget
	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, &LoginRequest{Username: fmt.Sprintf("ghost%d", i), Password: "Wrong#123"}, testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := env.svc.Login(ctx, &LoginRequest{Username: "ghost9", Password: "Wrong#123"}, testMeta)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestLimitKeys(t *testing.T) {
	assert.Equal(t, []string{"login:id:maria@x.com", "login:ip:192.0.2.1"}, limitKeys(scopeLogin, "  Maria@X.com ", testMeta))
	assert.Equal(t, []string{"login:ip:192.0.2.1"}, limitKeys(scopeLogin, "   ", testMeta))
	assert.Equal(t, []string{"login:ip:unknown"}, limitKeys(scopeLogin, "", ClientMeta{}))
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.addAccount(t, "ofc", "Secret#123", RoleOfficial, StatusActive)

	login, err := env.svc.Login(ctx, &LoginRequest{Username: "ofc", Password: "Secret#123"}, testMeta)
	require.NoError(t, err)

	access, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	claims, err := env.svc.VerifyToken(access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.UserID)
	assert.Equal(t, RoleOfficial, claims.Role)

	_, err = env.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.Refresh(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// status is not re-checked
	env.repo.setStatus(account.ID, StatusDisabled)
	_, err = env.svc.Refresh(ctx, login.RefreshToken)
	assert.NoError(t, err)

	orphan, err := env.svc.IssueRefreshToken(uuid.New())
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, orphan)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_LogoutRevokesSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	login, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	require.NoError(t, err)

	identity, err := env.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.Account.ID, identity.UserID)

	require.NoError(t, env.svc.Logout(ctx, login.AccessToken, *identity, testMeta))
	// idempotent
	require.NoError(t, env.svc.Logout(ctx, login.AccessToken, *identity, testMeta))

	_, err = env.svc.Authenticate(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// a refreshed token has no session row and stays usable until expiry
	access, err := env.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	_, err = env.svc.Authenticate(ctx, access)
	assert.NoError(t, err)

	assert.Equal(t, []string{audit.ActionUserLogin, audit.ActionUserLogout, audit.ActionUserLogout}, env.recorder.actions())
}

func TestService_Authenticate_RevocationNotEnforced(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig()
	cfg.EnforceSessionRevocation = false
	env := newTestEnvWithConfig(t, cfg)
	env.addAccount(t, "maria", "Secret#123", RoleResident, StatusActive)

	login, err := env.svc.Login(ctx, &LoginRequest{Username: "maria", Password: "Secret#123"}, testMeta)
	require.NoError(t, err)
	require.NoError(t, env.svc.Logout(ctx, login.AccessToken, Identity{UserID: login.Account.ID}, testMeta))

	_, err = env.svc.Authenticate(ctx, login.AccessToken)
	assert.NoError(t, err)
}

func TestService_AvailabilityAndStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.svc.Register(ctx, validRegistration(), testMeta)
	require.NoError(t, err)

	available, err := env.svc.UsernameAvailable(ctx, "JUAN")
	require.NoError(t, err)
	assert.False(t, available)
	available, err = env.svc.UsernameAvailable(ctx, "pedro")
	require.NoError(t, err)
	assert.True(t, available)

	available, err = env.svc.EmailAvailable(ctx, "JUAN@x.com")
	require.NoError(t, err)
	assert.False(t, available)

	account, err := env.svc.RegistrationStatus(ctx, result.ReferenceID.String())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, account.Status)

	_, err = env.svc.RegistrationStatus(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.RegistrationStatus(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Me(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
