// Package importer reads published trust lists into trusted keys.
package importer

import (
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/sentinel"
)

// Format names a trust list layout.
type Format string

const (
	// FormatUK is a JSON array of {"kid", "publicKey"} objects.
	FormatUK Format = "uk"
	// FormatNL is the signed "eu_keys" document, optionally wrapped in {"payload": base64}.
	FormatNL Format = "nl"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatUK, FormatNL:
		return f, nil
	case "":
		return FormatUK, nil
	default:
		return "", fmt.Errorf("%w: unknown trust list format %q", sentinel.ErrInvalidInput, s)
	}
}

// List is a parsed trust list. Entries whose key the verifier cannot use, such as RSA
// keys, are left out of Keys and reported in Skipped.
type List struct {
	Keys    []*models.TrustedKey
	Skipped []Skipped
}

// Skipped names a trust list entry that was not imported.
type Skipped struct {
	KeyID  string
	Reason string
}

func (l *List) skip(kid string, err error) {
	l.Skipped = append(l.Skipped, Skipped{KeyID: kid, Reason: err.Error()})
}

// Parse decodes a trust list in the given format. Every returned key carries the format as
// its source.
func Parse(r io.Reader, format Format) (*List, error) {
	switch format {
	case FormatUK:
		return ParseUK(r)
	case FormatNL:
		return ParseNL(r)
	default:
		return nil, fmt.Errorf("%w: unknown trust list format %q", sentinel.ErrInvalidInput, format)
	}
}

// LoadFile parses the trust list stored at path.
func LoadFile(path string, format Format) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trust list: %w", err)
	}
	defer f.Close()
	return Parse(f, format)
}

type ukEntry struct {
	KeyID     string `json:"kid"`
	PublicKey string `json:"publicKey"`
}

func ParseUK(r io.Reader) (*List, error) {
	var entries []ukEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode uk trust list: %w", sentinel.ErrInvalidInput, err)
	}

	list := &List{Keys: make([]*models.TrustedKey, 0, len(entries))}
	for i, e := range entries {
		key, err := newKey(e.KeyID, e.PublicKey, FormatUK)
		switch {
		case errors.Is(err, models.ErrUnsupportedKey):
			list.skip(e.KeyID, err)
		case err != nil:
			return nil, fmt.Errorf("%w: entry %d: %w", sentinel.ErrInvalidInput, i, err)
		default:
			list.Keys = append(list.Keys, key)
		}
	}
	return list, nil
}

type nlEnvelope struct {
	Payload string                    `json:"payload"`
	EUKeys  map[string][]nlKeyDetails `json:"eu_keys"`
}

type nlKeyDetails struct {
	SubjectPK string   `json:"subjectPk"`
	KeyUsage  []string `json:"keyUsage"`
}

func ParseNL(r io.Reader) (*List, error) {
	var doc nlEnvelope
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode nl trust list: %w", sentinel.ErrInvalidInput, err)
	}
	if doc.Payload != "" {
		inner, err := decodeBase64(doc.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: nl payload: %w", sentinel.ErrInvalidInput, err)
		}
		doc = nlEnvelope{}
		if err := json.Unmarshal(inner, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode nl payload: %w", sentinel.ErrInvalidInput, err)
		}
	}
	if doc.EUKeys == nil {
		return nil, fmt.Errorf("%w: nl trust list has no eu_keys", sentinel.ErrInvalidInput)
	}

	kids := make([]string, 0, len(doc.EUKeys))
	for kid := range doc.EUKeys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	list := &List{Keys: make([]*models.TrustedKey, 0, len(kids))}
	for _, kid := range kids {
		details := doc.EUKeys[kid]
		if len(details) == 0 {
			continue
		}
		key, err := newKey(kid, details[0].SubjectPK, FormatNL)
		switch {
		case errors.Is(err, models.ErrUnsupportedKey):
			list.skip(kid, err)
		case err != nil:
			return nil, fmt.Errorf("%w: kid %s: %w", sentinel.ErrInvalidInput, kid, err)
		default:
			list.Keys = append(list.Keys, key)
		}
	}
	return list, nil
}

func newKey(kid, publicKey string, format Format) (*models.TrustedKey, error) {
	rawKID, err := decodeBase64(kid)
	if err != nil || len(rawKID) == 0 {
		return nil, fmt.Errorf("invalid kid %q", kid)
	}
	der, err := decodeBase64(publicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, err := models.ParsePublicKey(der)
	if err != nil {
		return nil, err
	}
	if !supportedCurve(pub.Curve) {
		return nil, fmt.Errorf("%w: curve %s", models.ErrUnsupportedKey, pub.Curve.Params().Name)
	}
	return &models.TrustedKey{KeyID: rawKID, PublicKey: der, Source: string(format)}, nil
}

// supportedCurve reports whether the curve backs one of ES256, ES384 or ES512.
func supportedCurve(c elliptic.Curve) bool {
	switch c {
	case elliptic.P256(), elliptic.P384(), elliptic.P521():
		return true
	}
	return false
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
