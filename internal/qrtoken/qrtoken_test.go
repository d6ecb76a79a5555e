package qrtoken

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAlignsToSlot(t *testing.T) {
	room := int64(4)
	now := time.Unix(1_700_000_007, 0)
	tok, c, err := Issue("s3cret", 12, &room, 10*time.Second, now)
	require.NoError(t, err)

	assert.Equal(t, int64(1_700_000_000), c.IssuedAt)
	assert.Equal(t, int64(1_700_000_010), c.Exp)
	assert.Equal(t, c.IssuedAt, c.Nonce)
	assert.NotContains(t, tok, "=")

	payload, _, _ := strings.Cut(tok, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"exp":1700000010,"iat":1700000000,"nonce":1700000000,"rid":4,"sid":12}`, string(raw))

	// same slot, same token
	again, _, err := Issue("s3cret", 12, &room, 10*time.Second, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestVerify(t *testing.T) {
	now := time.Unix(1_700_000_003, 0)
	tok, issued, err := Issue("s3cret", 12, nil, 0, now)
	require.NoError(t, err)

	c, err := Verify("s3cret", tok, now)
	require.NoError(t, err)
	assert.Equal(t, issued, c)
	assert.Nil(t, c.RoomID)

	_, err = Verify("s3cret", tok, c.ExpiresAt())
	assert.NoError(t, err, "valid through the expiry second")

	_, err = Verify("s3cret", tok, c.ExpiresAt().Add(time.Second))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = Verify("other", tok, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyMalformed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signed := func(payload string) string {
		return b64([]byte(payload)) + "." + b64(sign("k", []byte(payload)))
	}
	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMalformed},
		{name: "no dot", token: "abc", want: ErrMalformed},
		{name: "bad base64", token: "@@@.###", want: ErrMalformed},
		{name: "not json", token: signed("hello"), want: ErrMalformed},
		{name: "missing sid", token: signed(`{"rid":1,"iat":1,"exp":1800000000}`), want: ErrMalformed},
		{name: "tampered", token: b64([]byte(`{"sid":1}`)) + "." + b64([]byte("sig")), want: ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify("k", tt.token, now)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyAcceptsPaddedSegments(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, _, err := Issue("k", 1, nil, 10*time.Second, now)
	require.NoError(t, err)
	left, right, _ := strings.Cut(tok, ".")
	for len(left)%4 != 0 {
		left += "="
	}
	_, err = Verify("k", left+"."+right, now)
	assert.NoError(t, err)
}
