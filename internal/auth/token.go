// Package auth issues and verifies the signed bearer tokens of the HTTP API.
// A token names the inspector and the role used for permission checks.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"smartpin/api/internal/util"
)

type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Issuer signs tokens with a key derived from the configured secret.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{key: SigningKey(secret), ttl: ttl, now: time.Now}
}

// SigningKey stretches secret into the HMAC key used for tokens.
func SigningKey(secret string) []byte {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("smartpin token v1"))
	if _, err := io.ReadFull(reader, key); err != nil {
		panic(fmt.Sprintf("auth: derive signing key: %v", err))
	}
	return key
}

// Issue creates a token for name with role. The subject is derived from the
// name so that the same inspector keeps the same id across logins.
func (i *Issuer) Issue(name, role string) (string, Claims, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Claims{}, errors.New("name is required")
	}
	claims := Claims{
		Sub:  "usr_" + strings.ToLower(strings.Join(strings.Fields(name), "-")),
		Name: name,
		Role: role,
		JTI:  util.NewID("tok"),
		Exp:  i.now().Add(i.ttl).Unix(),
	}
	token, err := IssueToken(i.key, claims)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

func (i *Issuer) Parse(token string) (Claims, error) {
	return parseToken(i.key, token, i.now())
}

func IssueToken(key []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(key, payload), nil
}

func parseToken(key []byte, token string, now time.Time) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(key, payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(key []byte, payload string) string {
	sum := hmac.New(sha256.New, key)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
