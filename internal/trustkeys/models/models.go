// Package models defines trusted signing keys for health certificates.
package models

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidKey is returned when the stored bytes are not a SubjectPublicKeyInfo.
	ErrInvalidKey = errors.New("invalid public key")
	// ErrUnsupportedKey is returned for public keys that are not ECDSA.
	ErrUnsupportedKey = errors.New("unsupported public key type")
)

// TrustedKey binds a key identifier to the DER-encoded SubjectPublicKeyInfo of the
// issuer's signing key.
type TrustedKey struct {
	KeyID      []byte    `json:"kid"`
	PublicKey  []byte    `json:"public_key"`
	Source     string    `json:"source,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
}

// ParsePublicKey decodes an X.509 SubjectPublicKeyInfo holding an EC key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return ec, nil
}

// EncodeKeyID renders a kid in the URL-safe base64 form used in paths and cache keys.
func EncodeKeyID(kid []byte) string {
	return base64.RawURLEncoding.EncodeToString(kid)
}

// DecodeKeyID accepts URL-safe or standard base64, with or without padding.
func DecodeKeyID(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		if kid, err := enc.DecodeString(s); err == nil && len(kid) > 0 {
			return kid, nil
		}
	}
	return nil, fmt.Errorf("invalid key id %q", s)
}

// KeySummary is the listing form of a trusted key.
type KeySummary struct {
	KeyID      string    `json:"kid"`
	Display    string    `json:"display"`
	Source     string    `json:"source,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
}
