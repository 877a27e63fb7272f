package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/errors"
)

// TokenPrefix marks a secret that is a token rather than a password
const TokenPrefix = "token:"

// Token identifies a user for a limited time
type Token struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCodec issues and verifies signed tokens of the form
// token:<base64url(json)>.<base64url(hmac-sha256)>
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec returns a codec signing with secret
func NewTokenCodec(secret string) (*TokenCodec, error) {
	if len(secret) < 16 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: token secret must be at least 16 bytes", errors.ErrInvalidConfig),
			"TokenCodec", "New", "check secret")
	}
	return &TokenCodec{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a token for userID valid for ttl
func (c *TokenCodec) Issue(userID string, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(Token{UserID: userID, ExpiresAt: c.now().Add(ttl).UTC()})
	if err != nil {
		return "", errors.WrapInvalid(err, "TokenCodec", "Issue", "encode token")
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return TokenPrefix + body + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

// IsToken reports whether secret carries the token prefix
func IsToken(secret string) bool {
	return strings.HasPrefix(secret, TokenPrefix)
}

// Verify checks the signature and expiry of a prefixed token
func (c *TokenCodec) Verify(secret string) (Token, error) {
	if !IsToken(secret) {
		return Token{}, c.reject("missing token prefix")
	}
	body, sig, ok := strings.Cut(strings.TrimPrefix(secret, TokenPrefix), ".")
	if !ok {
		return Token{}, c.reject("malformed token")
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.sign(body)) {
		return Token{}, c.reject("bad token signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Token{}, c.reject("malformed token body")
	}

	var t Token
	if err := json.Unmarshal(payload, &t); err != nil {
		return Token{}, c.reject("malformed token body")
	}
	if t.UserID == "" {
		return Token{}, c.reject("token has no user")
	}
	if !c.now().Before(t.ExpiresAt) {
		return Token{}, c.reject("token expired")
	}
	return t, nil
}

func (c *TokenCodec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func (c *TokenCodec) reject(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrAuthentication, reason), "TokenCodec", "Verify", "verify token")
}
