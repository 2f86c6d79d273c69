package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CallbackClaims authorizes a connector process to call back into the
// coordinator on behalf of one sync run.
type CallbackClaims struct {
	SourceID string `json:"source_id"`
	RunID    string `json:"run_id"`
	jwt.RegisteredClaims
}

// CallbackAuthenticator issues and validates the bearer tokens a connector
// process presents when calling the coordinator's callback endpoint.
type CallbackAuthenticator struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewCallbackAuthenticator(secretKey []byte, ttl time.Duration) *CallbackAuthenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CallbackAuthenticator{secretKey: secretKey, issuer: "ragpipe-coordinator", ttl: ttl}
}

// IssueToken mints a token scoped to exactly one (sourceID, runID) pair, so
// a leaked callback token cannot be replayed against a different run.
func (a *CallbackAuthenticator) IssueToken(sourceID string, runID uuid.UUID) (string, error) {
	claims := CallbackClaims{
		SourceID: sourceID,
		RunID:    runID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// Validate parses a "Bearer <token>" header and returns its claims.
func (a *CallbackAuthenticator) Validate(authHeader string) (*CallbackClaims, error) {
	tokenString, err := extractBearerToken(authHeader)
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &CallbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse callback token: %w", err)
	}

	claims, ok := token.Claims.(*CallbackClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid callback token claims")
	}
	if claims.Issuer != a.issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", a.issuer, claims.Issuer)
	}
	if _, err := uuid.Parse(claims.RunID); err != nil {
		return nil, fmt.Errorf("invalid run id in callback token: %w", err)
	}
	return claims, nil
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
