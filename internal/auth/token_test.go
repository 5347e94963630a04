package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager(t *testing.T, ttl time.Duration) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager([]byte("test-secret"), ttl)
	require.NoError(t, err)
	return tm
}

func TestIssueValidateRoundTrip(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)

	token, err := tm.Issue("bob")
	require.NoError(t, err)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Username)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueWithoutTTLHasNoExpiry(t *testing.T) {
	tm := newTestTokenManager(t, 0)

	token, err := tm.Issue("bob")
	require.NoError(t, err)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestIssueRequiresUsername(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)
	_, err := tm.Issue("")
	assert.Error(t, err)
}

func TestValidateRejectsEverySingleBitFlip(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)

	for _, username := range []string{"bob", "test", "bill", "user0"} {
		token, err := tm.Issue(username)
		require.NoError(t, err)

		for i := 0; i < len(token); i++ {
			for bit := 0; bit < 8; bit++ {
				flipped := []byte(token)
				flipped[i] ^= 1 << bit

				_, err := tm.Validate(string(flipped))
				assert.ErrorIs(t, err, ErrInvalidToken, "user=%s pos=%d bit=%d", username, i, bit)
			}
		}
	}
}

func TestValidateRejectsLastSignatureCharPaddingBits(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)
	token, err := tm.Issue("bob")
	require.NoError(t, err)

	// An HS256 signature is 32 bytes, so its final base64 character carries two
	// unused low bits.
	last := strings.LastIndexByte(token, '.')
	require.Len(t, token[last+1:], 43)

	for _, bit := range []byte{1, 2} {
		flipped := []byte(token)
		flipped[len(flipped)-1] ^= bit
		_, err := tm.Validate(string(flipped))
		assert.ErrorIs(t, err, ErrInvalidToken, "bit %d", bit)
	}
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)
	token, err := tm.Issue("bob")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"username":"bill"}`))
	_, err = tm.Validate(parts[0] + "." + forged + "." + parts[2])
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsMalformed(t *testing.T) {
	tm := newTestTokenManager(t, time.Hour)

	for _, token := range []string{"", "garbage", "a.b", "a.b.c", "....."} {
		_, err := tm.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	issuer, err := NewTokenManager([]byte("other-secret"), time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue("bob")
	require.NoError(t, err)

	_, err = newTestTokenManager(t, time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	tm := newTestTokenManager(t, time.Minute)
	tm.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := tm.Issue("bob")
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsMissingUsername(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestTokenManager(t, time.Hour).Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"username": "bob"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestTokenManager(t, time.Hour).Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerCopiesSecret(t *testing.T) {
	secret := []byte("test-secret")
	tm, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)

	token, err := tm.Issue("bob")
	require.NoError(t, err)

	secret[0] = 'X'
	_, err = tm.Validate(token)
	assert.NoError(t, err)
}

func TestNewTokenManagerEmptySecret(t *testing.T) {
	_, err := NewTokenManager(nil, time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
