package report

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidToken is returned for tampered, malformed or expired tokens.
var ErrInvalidToken = errors.New("invalid report token")

// Signer issues download tokens bound to a course report and an expiry.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner creates a signer. key must be 1 to 64 bytes.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("signing key must be 1-%d bytes, got %d", blake2b.Size, len(key))
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Signer{key: append([]byte(nil), key...), ttl: ttl}, nil
}

// Sign returns a token for courseID/name valid until now+ttl.
func (s *Signer) Sign(courseID, name string, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	return strconv.FormatInt(expires, 10) + "." + s.mac(courseID, name, expires)
}

// ExpiresAt returns when a token signed at now stops being valid.
func (s *Signer) ExpiresAt(now time.Time) time.Time {
	return time.Unix(now.Add(s.ttl).Unix(), 0).UTC()
}

// Verify checks a token for courseID/name at time now.
func (s *Signer) Verify(courseID, name, token string, now time.Time) error {
	expStr, mac, ok := strings.Cut(token, ".")
	if !ok {
		return ErrInvalidToken
	}
	expires, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	want := s.mac(courseID, name, expires)
	if subtle.ConstantTimeCompare([]byte(mac), []byte(want)) != 1 {
		return ErrInvalidToken
	}
	if now.Unix() > expires {
		return fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return nil
}

func (s *Signer) mac(courseID, name string, expires int64) string {
	h, _ := blake2b.New256(s.key)
	fmt.Fprintf(h, "%s\x00%s\x00%d", courseID, name, expires)
	return hex.EncodeToString(h.Sum(nil))
}
