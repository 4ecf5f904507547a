// Package auth stores the bearer token used to reach the collection server.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/errs"
)

// Error is the error class for credential handling.
var Error = errs.Class("auth")

// EnvToken overrides the stored token.
const EnvToken = "TADA_TOKEN"

const credFileName = "credentials.json"

type TokenInfo struct {
	Token     string     `json:"token"`
	Source    string     `json:"source"`     // "env" | "file"
	CreatedAt time.Time  `json:"created_at"` // when we saved to file
	ExpiresAt *time.Time `json:"expires_at"` // optional (JWT or server-provided)
}

// Expired reports whether the token has a known expiry in the past.
func (ti *TokenInfo) Expired(now time.Time) bool {
	return ti.ExpiresAt != nil && now.After(*ti.ExpiresAt)
}

// Credentials reads and writes the token file in a directory.
type Credentials struct {
	dir string
}

// New uses dir, normally the data directory.
func New(dir string) *Credentials {
	return &Credentials{dir: dir}
}

func (c *Credentials) path() string {
	return filepath.Join(c.dir, credFileName)
}

// Token returns the current token, or nil when not logged in.
func (c *Credentials) Token() (*TokenInfo, error) {
	// 1) env override
	env := strings.TrimSpace(os.Getenv(EnvToken))
	if env != "" {
		return &TokenInfo{Token: stripBearer(env), Source: "env"}, nil
	}

	// 2) file
	b, err := os.ReadFile(c.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // not logged in
		}
		return nil, Error.New("read credentials: %v", err)
	}
	var ti TokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, Error.New("parse credentials: %v", err)
	}
	ti.Token = stripBearer(ti.Token)
	return &ti, nil
}

// SetToken saves token. A JWT's exp claim is used as expiry when expires is nil.
func (c *Credentials) SetToken(token string, expires *time.Time) error {
	token = stripBearer(strings.TrimSpace(token))
	if token == "" {
		return Error.New("empty token")
	}
	// ensure the directory exists with 0700
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return Error.New("mkdir: %v", err)
	}
	if expires == nil {
		if claims, err := DecodeClaims(token); err == nil {
			expires = claims.ExpiresAt()
		}
	}
	ti := TokenInfo{
		Token:     token,
		Source:    "file",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expires,
	}
	b, err := json.MarshalIndent(ti, "", "  ")
	if err != nil {
		return Error.New("marshal: %v", err)
	}
	// write with 0600 (owner-only)
	if err := os.WriteFile(c.path(), b, 0o600); err != nil {
		return Error.New("write: %v", err)
	}
	return nil
}

// DeleteToken removes the saved token. Nothing saved is not an error.
func (c *Credentials) DeleteToken() error {
	if err := os.Remove(c.path()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return Error.New("remove: %v", err)
	}
	return nil
}

// Claims is the unverified payload of a JWT.
type Claims map[string]any

// ExpiresAt returns the exp claim, if present.
func (c Claims) ExpiresAt() *time.Time {
	exp, ok := c["exp"].(float64)
	if !ok {
		return nil
	}
	t := time.Unix(int64(exp), 0).UTC()
	return &t
}

// Subject returns the sub claim, or "".
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// DecodeClaims reads a JWT payload locally without verifying it. Opaque
// tokens return an error.
func DecodeClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, Error.New("opaque token")
	}
	payload, err := decodeB64URL(parts[1])
	if err != nil {
		return nil, Error.New("decode payload: %v", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, Error.New("parse payload: %v", err)
	}
	return claims, nil
}

func decodeB64URL(s string) ([]byte, error) {
	dec, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	return dec, nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
