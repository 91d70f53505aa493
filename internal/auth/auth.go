package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrInvalidToken   = errors.New("invalid voter token")
)

// Claims are the fields read from a session token issued by the auth
// provider. The subject is the profile ID.
type Claims struct {
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// VerifySession parses an HS256 session token and returns its claims.
func VerifySession(token, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidSession)
	}
	return claims, nil
}

// SignSession issues a session token. The service only verifies tokens;
// this exists for tests and local tooling.
func SignSession(profileID, username, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profileID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// IssueVoterToken creates a signed anonymous voter token. The token is
// "<id>.<signature>"; the id is what identifies the voter.
func IssueVoterToken(secret string) (token, id string, err error) {
	b := make([]byte, 18) // 144 bits
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate voter token: %w", err)
	}
	id = base64.RawURLEncoding.EncodeToString(b)
	return id + "." + sign(id, secret), id, nil
}

// VerifyVoterToken checks the signature and returns the voter id.
func VerifyVoterToken(token, secret string) (string, error) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || id == "" || sig == "" {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(sign(id, secret))) {
		return "", ErrInvalidToken
	}
	return id, nil
}

func sign(id, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// HashAddress creates a salted one-way hash of a network address so the
// ledger never stores raw client IPs.
func HashAddress(addr, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
