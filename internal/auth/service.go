// Package auth resolves the actor invoking a function from HS256 bearer
// tokens. The actor is recorded as invoked_by on every execution entry and
// decides access to private functions.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned when a token does not name an actor.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingActor     = errors.New("token does not name an actor")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// TokenIssuer is the iss claim of tokens minted for the execution API.
const TokenIssuer = "narvana-functions"

// DefaultTokenExpiry applies when Config.TokenExpiry is zero.
const DefaultTokenExpiry = 24 * time.Hour

// Identity is the actor a token resolves to.
type Identity struct {
	Actor     string
	Email     string
	ExpiresAt time.Time
}

// actorClaims is the token payload. The actor travels in sub.
type actorClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config holds token settings.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service issues tokens for actors and resolves them back.
type Service struct {
	secret []byte
	expiry time.Duration
	logger *slog.Logger
	parser *jwt.Parser
}

// NewService creates a new token service.
func NewService(cfg *Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	expiry := cfg.TokenExpiry
	if expiry == 0 {
		expiry = DefaultTokenExpiry
	}
	return &Service{
		secret: cfg.JWTSecret,
		expiry: expiry,
		logger: logger,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// IssueToken signs a token naming actor. cmd/gentoken uses it for
// development tokens.
func (s *Service) IssueToken(actor, email string) (string, error) {
	if actor == "" {
		return "", ErrMissingActor
	}

	now := time.Now()
	claims := actorClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign token", "actor", actor, "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ResolveActor verifies a token and returns the actor it names.
func (s *Service) ResolveActor(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims actorClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	default:
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrMissingActor
	}
	return &Identity{
		Actor:     claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
