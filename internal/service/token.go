package service

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

// samplePrefix marks unauthenticated sampling tokens. Purchase ids are
// UUIDs, so the prefix can never collide with one.
const samplePrefix = "sample"

var (
	// ErrTokenInvalid covers malformed tokens and signature mismatches.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired means the signature checked out but the capability
	// window has closed.
	ErrTokenExpired = errors.New("download token expired")
)

// TokenPayload is the decoded content of a verified token.
type TokenPayload struct {
	PurchaseID string
	BeatID     string
	Sample     bool
	ExpiresAt  time.Time
}

// TokenSigner mints and verifies download capability tokens. A token is
// base64url(payload) "." base64url(HMAC-SHA256(payload)); the payload is
// colon-delimited and carries its own expiry, so no token state is
// stored server-side beyond the purchase row.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// Mint creates a purchase-scoped download token.
func (s *TokenSigner) Mint(purchaseID, beatID string, expiresAt time.Time) string {
	return s.sign(fmt.Sprintf("%s:%s:%d", purchaseID, beatID, expiresAt.Unix()))
}

// MintSample creates a short-lived sampling token scoped to one beat,
// not tied to any purchase.
func (s *TokenSigner) MintSample(beatID string, expiresAt time.Time) string {
	return s.sign(fmt.Sprintf("%s:%s:%d", samplePrefix, beatID, expiresAt.Unix()))
}

func (s *TokenSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		"." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and expiry and decodes the payload.
// Signature first: an expired token with a bad MAC is invalid, not
// expired.
func (s *TokenSigner) Verify(token string) (*TokenPayload, error) {
	dot := strings.LastIndex(token, ".")
	if dot < 0 {
		return nil, ErrTokenInvalid
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	macBytes, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return nil, ErrTokenInvalid
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payloadBytes)
	if !hmac.Equal(macBytes, mac.Sum(nil)) {
		return nil, ErrTokenInvalid
	}

	parts := strings.Split(string(payloadBytes), ":")
	if len(parts) != 3 {
		return nil, ErrTokenInvalid
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	payload := &TokenPayload{
		BeatID:    parts[1],
		ExpiresAt: time.Unix(unix, 0),
	}
	if parts[0] == samplePrefix {
		payload.Sample = true
	} else {
		payload.PurchaseID = parts[0]
	}
	if time.Now().After(payload.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return payload, nil
}
