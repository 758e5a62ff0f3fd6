package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/audit"
	"github.com/elskow/bms/internal/config"
)

// Seed creates system accounts directly as active. Accounts whose username
// or email already exists are skipped. It returns how many were created.
func (s *Service) Seed(ctx context.Context, accounts []config.SeedAccount) (int, error) {
	created := 0
	for _, seed := range accounts {
		ok, err := s.seedOne(ctx, seed)
		if err != nil {
			return created, fmt.Errorf("seed %q: %w", seed.Username, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Service) seedOne(ctx context.Context, seed config.SeedAccount) (bool, error) {
	role := Role(strings.ToLower(seed.Role))
	if !role.Valid() {
		return false, fmt.Errorf("unknown role %q", seed.Role)
	}
	if seed.Username == "" || seed.Email == "" || seed.Password == "" {
		return false, errors.New("username, email and password are required")
	}

	taken, err := s.repository.UsernameExists(ctx, seed.Username)
	if err != nil {
		return false, err
	}
	if !taken {
		taken, err = s.repository.EmailExists(ctx, seed.Email)
		if err != nil {
			return false, err
		}
	}
	if taken {
		s.log.Debug("seed account exists, skipping", zap.String("username", seed.Username))
		return false, nil
	}

	hash, err := s.HashPassword(seed.Password)
	if err != nil {
		return false, err
	}

	now := s.now()
	account := &Account{
		ID:           uuid.New(),
		Username:     strings.ToLower(seed.Username),
		Email:        strings.ToLower(seed.Email),
		PasswordHash: hash,
		FirstName:    seed.FirstName,
		LastName:     seed.LastName,
		PhoneNumber:  seed.PhoneNumber,
		Purok:        seed.Purok,
		Role:         role,
		Status:       StatusActive,
		VerifiedAt:   &now,
	}
	if seed.DateOfBirth != "" {
		dob, err := parseDate(seed.DateOfBirth)
		if err != nil {
			return false, fmt.Errorf("invalid date_of_birth: %w", err)
		}
		account.DateOfBirth = &dob
	}

	entry := audit.NewEntry(nil, audit.ActionSystemInitUser, "users", account.ID.String(), map[string]string{
		"username": account.Username,
		"role":     string(role),
	})

	if err := s.repository.CreateAccount(ctx, account, entry); err != nil {
		if errors.Is(err, ErrUserExists) {
			return false, nil
		}
		return false, err
	}

	s.log.Info("seeded system account", zap.String("username", account.Username), zap.String("role", string(role)))
	return true, nil
}
