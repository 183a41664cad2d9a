package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered tokens.
	ErrInvalidToken = errors.New("storage: invalid signed token")
	// ErrTokenExpired is returned once a token's expiry has passed.
	ErrTokenExpired = errors.New("storage: signed token expired")
)

// SignedURLSigner creates and validates signed download tokens bound to a resource id.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token of the form <resource>.<expiry>.<signature>.
func (s *SignedURLSigner) Generate(resourceID string) (string, time.Time, error) {
	if resourceID == "" {
		return "", time.Time{}, fmt.Errorf("resource id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(resourceID))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{encoded, ts, s.sign(encoded, ts)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the resource id it was issued for.
func (s *SignedURLSigner) Parse(token string) (string, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, ErrInvalidToken
	}
	encoded, ts, signature := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(s.sign(encoded, ts)), []byte(signature)) {
		return "", time.Time{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	expiresAt := time.Unix(unix, 0).UTC()
	if s.now().After(expiresAt) {
		return "", expiresAt, ErrTokenExpired
	}
	return string(raw), expiresAt, nil
}

func (s *SignedURLSigner) sign(encoded, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded + "|" + ts))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
