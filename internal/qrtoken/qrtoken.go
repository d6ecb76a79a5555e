// Package qrtoken issues and verifies the rolling QR codes shown in class.
//
// A token is base64url(payload) + "." + base64url(HMAC-SHA256(payload)),
// both unpadded, where payload is compact JSON with sorted keys. Tokens
// rotate every step: iat is the start of the current step slot.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultStep is the rotation period when a session does not set one.
const DefaultStep = 10 * time.Second

var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("bad signature")
	ErrExpired      = errors.New("token expired")
)

// Claims is the signed payload. Field order matches sorted JSON keys.
type Claims struct {
	Exp       int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Nonce     int64  `json:"nonce"`
	RoomID    *int64 `json:"rid"`
	SessionID int64  `json:"sid"`
}

// ExpiresAt returns exp as a time.
func (c Claims) ExpiresAt() time.Time { return time.Unix(c.Exp, 0) }

// Issue returns the token for the slot containing now.
func Issue(secret string, sessionID int64, roomID *int64, step time.Duration, now time.Time) (string, Claims, error) {
	stepSec := int64(step / time.Second)
	if stepSec <= 0 {
		stepSec = int64(DefaultStep / time.Second)
	}
	unix := now.Unix()
	slot := unix - unix%stepSec
	c := Claims{
		SessionID: sessionID,
		RoomID:    roomID,
		IssuedAt:  slot,
		Exp:       slot + stepSec,
		Nonce:     slot,
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", Claims{}, err
	}
	tok := b64(raw) + "." + b64(sign(secret, raw))
	return tok, c, nil
}

// Verify checks the signature, the required fields and expiry.
// A token is still valid during the second it expires.
func Verify(secret, token string, now time.Time) (Claims, error) {
	left, right, ok := strings.Cut(token, ".")
	if !ok || left == "" || right == "" {
		return Claims{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(left, "="))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(right, "="))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}
	if !hmac.Equal(sig, sign(secret, raw)) {
		return Claims{}, ErrBadSignature
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, k := range []string{"sid", "rid", "iat", "exp"} {
		if _, ok := fields[k]; !ok {
			return Claims{}, fmt.Errorf("%w: missing %s", ErrMalformed, k)
		}
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Exp < now.Unix() {
		return Claims{}, ErrExpired
	}
	return c, nil
}

func sign(secret string, raw []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return mac.Sum(nil)
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
