package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"playloop/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type sessionContextKey struct{}

// AuthService issues and checks the bearer tokens that bind a player to its
// playback session.
type AuthService interface {
	GenerateToken(sessionID domain.SessionID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Authorize(claims *Claims, sessionID domain.SessionID) error
}

type Claims struct {
	SessionID domain.SessionID `json:"session_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *authService) GenerateToken(sessionID domain.SessionID) (string, error) {
	now := s.now()
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(sessionID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.SessionID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authorize checks that a token was issued for sessionID.
func (s *authService) Authorize(claims *Claims, sessionID domain.SessionID) error {
	if claims == nil || claims.SessionID != sessionID {
		return ErrUnauthorized
	}
	return nil
}

// WithSessionClaims stores validated claims on ctx.
func WithSessionClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// SessionClaimsFromContext returns claims stored by WithSessionClaims.
func SessionClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(sessionContextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
