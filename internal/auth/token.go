package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySecret  = errors.New("token secret must not be empty")
)

// Claims is the identity carried by a session token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates stateless HS256 session tokens.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenManager creates a TokenManager. The secret is copied so later changes
// to the caller's slice cannot affect signing. A ttl of zero issues tokens
// without an exp claim.
func NewTokenManager(secretKey []byte, ttl time.Duration) (*TokenManager, error) {
	if len(secretKey) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, len(secretKey))
	copy(key, secretKey)
	return &TokenManager{
		secretKey: key,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Issue signs a token for the given username.
func (tm *TokenManager) Issue(username string) (string, error) {
	if username == "" {
		return "", errors.New("cannot issue token without username")
	}

	now := tm.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tm.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(tm.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// Validate verifies the signature and claims of tokenString. Every failure is
// reported as ErrInvalidToken.
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tm.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		// Strict decoding rejects non-zero padding bits in the final base64
		// character, so every bit of the signature is significant.
		jwt.WithStrictDecoding(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
