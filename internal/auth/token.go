package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the payload of both token types. Refresh tokens carry no role.
// Both types share one signing key; Type keeps them apart.
type Claims struct {
	UserID string    `json:"userId"`
	Role   Role      `json:"role,omitempty"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims

	// AccountID is UserID parsed by VerifyToken.
	AccountID uuid.UUID `json:"-"`
}

func (s *Service) IssueAccessToken(userID uuid.UUID, role Role) (string, error) {
	return s.issue(Claims{UserID: userID.String(), Role: role, Type: TokenAccess}, s.config.AccessTokenDuration)
}

func (s *Service) IssueRefreshToken(userID uuid.UUID) (string, error) {
	return s.issue(Claims{UserID: userID.String(), Type: TokenRefresh}, s.config.RefreshTokenDuration)
}

func (s *Service) issue(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// VerifyToken checks signature, expiry and that the token is of the
// expected type.
func (s *Service) VerifyToken(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expected {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, expected)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims.AccountID = id

	return claims, nil
}

// HashOpaque is the hex sha256 digest stored instead of raw tokens.
func HashOpaque(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
