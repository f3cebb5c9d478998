// Package storage holds the object stores narrations are published to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidKey is returned for object keys that are empty, absolute or
	// escape the store root.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrInvalidToken is returned when a media token is malformed, expired or
	// was issued for another key.
	ErrInvalidToken = errors.New("invalid media token")
)

const mediaAudience = "media"

// LocalStore keeps objects on the local filesystem and issues JWT-signed URLs
// that the /media/ handler verifies.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	clock   func() time.Time
}

// NewLocalStore creates root if needed. baseURL is the public origin of the
// HTTP server, e.g. "https://api.example.com".
func NewLocalStore(root, baseURL string, secret []byte) (*LocalStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("storage: signing secret is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		clock:   time.Now,
	}, nil
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// Path returns the filesystem path for key.
func (s *LocalStore) Path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Upload writes data to key, replacing any previous object. Readers never
// observe a partially written file.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publish object: %w", err)
	}
	return nil
}

// SignedURL returns a URL granting read access to key until ttl elapses.
func (s *LocalStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	now := s.clock()
	claims := jwt.RegisteredClaims{
		Subject:   k,
		Audience:  jwt.ClaimStrings{mediaAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign media token: %w", err)
	}

	u := s.baseURL + "/media/" + (&url.URL{Path: k}).EscapedPath()
	return u + "?" + url.Values{"token": {token}}.Encode(), nil
}

// Verify checks that token grants access to key.
func (s *LocalStore) Verify(token, key string) error {
	parser := jwt.NewParser(
		jwt.WithExpirationRequired(),
		jwt.WithAudience(mediaAudience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != key {
		return ErrInvalidToken
	}
	return nil
}
