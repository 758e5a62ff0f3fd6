package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/bms/internal/audit"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/metrics"
	"github.com/elskow/bms/internal/ratelimit"
)

const (
	scopeLogin    = "login"
	scopeRegister = "register"
)

type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
	limiters   ratelimit.Limiters
	audit      audit.Recorder
	metrics    *metrics.Metrics
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(
	config *config.AuthConfig,
	log *zap.Logger,
	repo Repository,
	limiters ratelimit.Limiters,
	recorder audit.Recorder,
	m *metrics.Metrics,
) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		limiters:   limiters,
		audit:      recorder,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) bcryptCost() int {
	if s.config.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.config.BcryptCost
}

func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost())
	return string(bytes), err
}

func (s *Service) CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// burnPasswordCheck spends the same work as a real comparison so unknown
// identifiers are not distinguishable by latency.
func (s *Service) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("bms-timing-equaliser"), s.bcryptCost())
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *Service) record(entry *audit.Entry, meta ClientMeta) {
	if s.audit == nil {
		return
	}
	entry.IPAddress = meta.IP
	entry.UserAgent = meta.UserAgent
	s.audit.Record(entry)
}

func ipLimitKey(scope string, meta ClientMeta) string {
	ip := meta.IP
	if ip == "" {
		ip = "unknown"
	}
	return scope + ":ip:" + ip
}

// limitKeys returns the identifier key, when one was supplied, followed by
// the caller IP key. Either one reaching its limit blocks the attempt.
func limitKeys(scope, identifier string, meta ClientMeta) []string {
	keys := make([]string, 0, 2)
	if id := strings.ToLower(strings.TrimSpace(identifier)); id != "" {
		keys = append(keys, scope+":id:"+id)
	}
	return append(keys, ipLimitKey(scope, meta))
}

// checkLimit fails open when the limiter backend is unavailable. When
// several keys are exhausted the longest cooldown is reported.
func (s *Service) checkLimit(ctx context.Context, limiter ratelimit.Limiter, scope string, keys []string) error {
	if limiter == nil {
		return nil
	}

	var blocked *ratelimit.Decision
	for _, key := range keys {
		decision, err := limiter.Check(ctx, key)
		if err != nil {
			s.log.Error("rate limiter check failed", zap.String("scope", scope), zap.Error(err))
			continue
		}
		if !decision.Allowed && (blocked == nil || decision.RetryAfter > blocked.RetryAfter) {
			blocked = &decision
		}
	}
	if blocked == nil {
		return nil
	}

	s.metrics.ObserveRateLimited(scope)
	secs := blocked.RetryAfterSeconds()
	return &Error{
		Kind:       ErrRateLimited,
		Message:    fmt.Sprintf("Too many attempts. Try again in %d seconds.", secs),
		RetryAfter: secs,
	}
}

func (s *Service) consumeLimit(ctx context.Context, limiter ratelimit.Limiter, scope string, keys []string) {
	if limiter == nil {
		return
	}
	for _, key := range keys {
		if err := limiter.Record(ctx, key); err != nil {
			s.log.Error("rate limiter record failed", zap.String("scope", scope), zap.Error(err))
		}
	}
}

func (s *Service) recordAttempt(ctx context.Context, identifier string, success bool, meta ClientMeta) {
	err := s.repository.RecordLoginAttempt(ctx, &LoginAttempt{
		Identifier: identifier,
		AttemptAt:  s.now(),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Success:    success,
	})
	if err != nil {
		s.log.Error("failed to record login attempt", zap.String("identifier", identifier), zap.Error(err))
	}
}

type RegisterResult struct {
	ReferenceID uuid.UUID
	Email       string
	Status      Status
}

// Register creates a pending resident account. Nothing is written until
// every check has passed.
func (s *Service) Register(ctx context.Context, req *RegisterRequest, meta ClientMeta) (*RegisterResult, error) {
	registerKeys := []string{ipLimitKey(scopeRegister, meta)}
	if err := s.checkLimit(ctx, s.limiters.Register, scopeRegister, registerKeys); err != nil {
		identifier := req.Username
		if identifier == "" {
			identifier = meta.IP
		}
		s.recordAttempt(ctx, identifier, false, meta)
		return nil, err
	}

	dob, err := validateRegistration(req, s.now())
	if err != nil {
		return nil, err
	}

	username := strings.ToLower(req.Username)
	email := strings.ToLower(req.Email)

	taken, err := s.repository.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, newError(ErrConflict, "Username already taken")
	}
	taken, err = s.repository.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, newError(ErrConflict, "Email already registered")
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	account := &Account{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateOfBirth:  &dob,
		PhoneNumber:  req.PhoneNumber,
		Purok:        req.Purok,
		Role:         RoleResident,
		Status:       StatusPending,
	}
	entry := audit.NewEntry(nil, audit.ActionUserRegistration, "users", account.ID.String(), map[string]string{
		"email":    req.Email,
		"username": req.Username,
	})
	entry.IPAddress = meta.IP
	entry.UserAgent = meta.UserAgent

	if err := s.repository.CreateAccount(ctx, account, entry); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, newError(ErrConflict, "Username or email already registered")
		}
		return nil, err
	}

	s.consumeLimit(ctx, s.limiters.Register, scopeRegister, registerKeys)
	s.metrics.ObserveRegistration()
	s.log.Info("registered account", zap.String("id", account.ID.String()), zap.String("username", username))

	return &RegisterResult{
		ReferenceID: account.ID,
		Email:       account.Email,
		Status:      account.Status,
	}, nil
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Account      *Account
}

// Login verifies credentials and opens a session. Every attempt that reaches
// credential verification writes exactly one LoginAttempt.
func (s *Service) Login(ctx context.Context, req *LoginRequest, meta ClientMeta) (*LoginResult, error) {
	loginKeys := limitKeys(scopeLogin, req.Username, meta)
	if err := s.checkLimit(ctx, s.limiters.Login, scopeLogin, loginKeys); err != nil {
		s.metrics.ObserveLogin(metrics.LoginRateLimited)
		return nil, err
	}

	if req.Username == "" || req.Password == "" {
		s.consumeLimit(ctx, s.limiters.Login, scopeLogin, loginKeys)
		return nil, newError(ErrValidation, "Username/Email and password are required")
	}

	account, err := s.repository.FindAccountByIdentifier(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		s.burnPasswordCheck(req.Password)
		s.recordAttempt(ctx, req.Username, false, meta)
		s.consumeLimit(ctx, s.limiters.Login, scopeLogin, loginKeys)
		s.metrics.ObserveLogin(metrics.LoginFailed)
		return nil, newError(ErrInvalidCredentials, "Invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	switch account.Status {
	case StatusActive:
	case StatusPending:
		return nil, &Error{
			Kind:        ErrAccountPending,
			Message:     "Account pending approval",
			ReferenceID: account.ID.String(),
		}
	case StatusRejected:
		return nil, newError(ErrAccountRejected, "Account has been rejected")
	default:
		return nil, newError(ErrAccountInactive, "Account is not active")
	}

	if !s.CheckPasswordHash(req.Password, account.PasswordHash) {
		s.recordAttempt(ctx, account.Username, false, meta)
		s.consumeLimit(ctx, s.limiters.Login, scopeLogin, loginKeys)
		s.metrics.ObserveLogin(metrics.LoginFailed)
		return nil, newError(ErrInvalidCredentials, "Invalid credentials")
	}

	accessToken, err := s.IssueAccessToken(account.ID, account.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.IssueRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &Session{
		UserID:           account.ID,
		TokenHash:        HashOpaque(accessToken),
		RefreshTokenHash: HashOpaque(refreshToken),
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
		RememberMe:       req.RememberMe,
		ExpiresAt:        now.Add(s.config.SessionDuration),
	}
	if err := s.repository.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.repository.TouchLastLogin(ctx, account.ID, now); err != nil {
		s.log.Error("failed to update last login", zap.String("id", account.ID.String()), zap.Error(err))
	}
	account.LastLoginAt = &now

	s.recordAttempt(ctx, account.Username, true, meta)
	s.metrics.ObserveLogin(metrics.LoginSuccess)

	actor := account.ID
	s.record(audit.NewEntry(&actor, audit.ActionUserLogin, "sessions", session.ID.String(), map[string]any{
		"rememberMe": req.RememberMe,
	}), meta)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Account:      account,
	}, nil
}

// Refresh mints a new access token for the refresh token's account. The
// account's status is not re-checked and the refresh token is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", newError(ErrValidation, "Refresh token required")
	}

	claims, err := s.VerifyToken(refreshToken, TokenRefresh)
	if err != nil {
		return "", newError(ErrInvalidToken, "Invalid refresh token")
	}

	account, err := s.repository.GetAccountByID(ctx, claims.AccountID)
	if errors.Is(err, ErrUserNotFound) {
		return "", newError(ErrInvalidToken, "Invalid refresh token")
	}
	if err != nil {
		return "", err
	}

	return s.IssueAccessToken(account.ID, account.Role)
}

// Logout revokes the session bound to accessToken. It succeeds when no
// session matches.
func (s *Service) Logout(ctx context.Context, accessToken string, identity Identity, meta ClientMeta) error {
	if err := s.repository.RevokeSessionByAccessHash(ctx, HashOpaque(accessToken), s.now()); err != nil {
		return err
	}

	actor := identity.UserID
	s.record(audit.NewEntry(&actor, audit.ActionUserLogout, "sessions", "", nil), meta)
	return nil
}

// Authenticate verifies an access token and, when revocation is enforced,
// rejects tokens whose session has been revoked. Tokens without a session
// row are accepted until they expire.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.VerifyToken(accessToken, TokenAccess)
	if err != nil {
		return nil, err
	}

	if s.config.EnforceSessionRevocation {
		session, err := s.repository.FindSessionByAccessHash(ctx, HashOpaque(accessToken))
		switch {
		case errors.Is(err, ErrSessionNotFound):
		case err != nil:
			return nil, err
		case session.Revoked():
			return nil, fmt.Errorf("%w: session revoked", ErrInvalidToken)
		}
	}

	return &Identity{UserID: claims.AccountID, Role: claims.Role}, nil
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := s.repository.GetAccountByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, newError(ErrNotFound, "User not found")
	}
	return account, err
}

func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	taken, err := s.repository.UsernameExists(ctx, username)
	return !taken, err
}

func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	taken, err := s.repository.EmailExists(ctx, email)
	return !taken, err
}

// RegistrationStatus is an unauthenticated lookup by reference id.
func (s *Service) RegistrationStatus(ctx context.Context, referenceID string) (*Account, error) {
	id, err := uuid.Parse(referenceID)
	if err != nil {
		return nil, newError(ErrNotFound, "User not found")
	}
	return s.Me(ctx, id)
}
