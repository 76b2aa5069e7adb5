package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/validation"
)

const TokenTTL = 10 * 24 * time.Hour

// Claims carries the caller identity. The subject is the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies HS256 access tokens. The core only ever
// sees the user id recovered from a verified token.
type AuthService struct {
	secret []byte
	now    func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret), now: time.Now}
}

func (s *AuthService) IssueToken(userID, name string) (string, time.Time, error) {
	if !validation.ValidateUserID(userID) {
		return "", time.Time{}, apperr.InvalidArg("invalid user id")
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(TokenTTL)
	claims := Claims{
		Name: validation.TrimAndLimit(name, 100),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, apperr.Internal("sign token", err)
	}
	return signed, expiresAt, nil
}

func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, apperr.Unauthenticated("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, apperr.Unauthenticated("invalid token")
	}
	return claims, nil
}
