// Package fixtures issues signed health certificates for tests.
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"hcert/internal/certificate/encoding"
)

// Issuer signs certificates with an ECDSA key.
type Issuer struct {
	Key   *ecdsa.PrivateKey
	KeyID []byte
	Alg   cose.Algorithm

	// Untagged drops the COSE_Sign1 tag from the signed message.
	Untagged bool
	// Uncompressed skips zlib compression.
	Uncompressed bool
}

// NewIssuer creates an ES256 issuer with a fresh P-256 key. An empty kid leaves the
// key identifier header out.
func NewIssuer(kid string) (*Issuer, error) {
	return NewIssuerWithCurve(kid, elliptic.P256(), cose.AlgorithmES256)
}

// NewIssuerWithCurve creates an issuer for the given curve and algorithm.
func NewIssuerWithCurve(kid string, curve elliptic.Curve, alg cose.Algorithm) (*Issuer, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	iss := &Issuer{Key: key, Alg: alg}
	if kid != "" {
		iss.KeyID = []byte(kid)
	}
	return iss, nil
}

// PublicKeyDER returns the SubjectPublicKeyInfo encoding of the issuer key.
func (i *Issuer) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&i.Key.PublicKey)
}

// Sign wraps payload in a COSE_Sign1 message.
func (i *Issuer) Sign(payload []byte) ([]byte, error) {
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(i.Alg)
	if len(i.KeyID) > 0 {
		msg.Headers.Protected[cose.HeaderLabelKeyID] = i.KeyID
	}
	msg.Payload = payload

	signer, err := cose.NewSigner(i.Alg, i.Key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	out, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if i.Untagged {
		out = out[1:]
	}
	return out, nil
}

// Issue encodes claims as CBOR, signs, compresses and base45-encodes them into QR text.
func (i *Issuer) Issue(claims map[any]any) (string, error) {
	payload, err := cbor.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	signed, err := i.Sign(payload)
	if err != nil {
		return "", err
	}
	return Wrap(signed, !i.Uncompressed)
}

// Wrap turns a COSE message into QR text.
func Wrap(message []byte, compress bool) (string, error) {
	if compress {
		var err error
		message, err = encoding.Deflate(message)
		if err != nil {
			return "", fmt.Errorf("deflate: %w", err)
		}
	}
	return encoding.Prefix + encoding.EncodeText(message), nil
}

// Claims builds a CWT claim set around a health certificate document.
func Claims(issuer string, issuedAt, expiresAt time.Time, doc map[any]any) map[any]any {
	return map[any]any{
		1:    issuer,
		4:    expiresAt.Unix(),
		6:    issuedAt.Unix(),
		-260: map[any]any{1: doc},
	}
}

func person() map[any]any {
	return map[any]any{
		"ver": "1.0.1",
		"nam": map[any]any{
			"gn":  "Erika",
			"fn":  "Mustermann",
			"gnt": "ERIKA",
			"fnt": "MUSTERMANN",
		},
		"dob": "1980-01-01",
	}
}

// VaccinationDocument returns a second-dose Comirnaty certificate.
func VaccinationDocument() map[any]any {
	doc := person()
	doc["v"] = []any{map[any]any{
		"tg": "840539006",
		"co": "DE",
		"is": "Health Organisation",
		"ci": "URN:UVCI:01:DE:0123456789",
		"vp": "1119349007",
		"mp": "EU/1/20/1528",
		"ma": "ORG-100030215",
		"dn": 2,
		"sd": 2,
		"dt": "2021-08-20",
	}}
	return doc
}

// TestDocument returns a NAAT test certificate with the given result code.
func TestDocument(result string, collected time.Time) map[any]any {
	doc := person()
	doc["t"] = []any{map[any]any{
		"tg": "840539006",
		"co": "NL",
		"is": "Ministry of Health Welfare and Sport",
		"ci": "URN:UVCI:01:NL:TEST0001",
		"tt": "LP6464-4",
		"nm": "Roche LightCycler qPCR",
		"ma": "1232",
		"sc": collected.UTC().Format(time.RFC3339),
		"tr": result,
		"tc": "Testing Centre Amsterdam",
	}}
	return doc
}

// RecoveryDocument returns a recovery certificate valid between from and until.
func RecoveryDocument(firstPositive, from, until string) map[any]any {
	doc := person()
	doc["r"] = []any{map[any]any{
		"tg": "840539006",
		"co": "GB",
		"is": "NHS Digital",
		"ci": "URN:UVCI:01:GB:REC0001",
		"fr": firstPositive,
		"df": from,
		"du": until,
	}}
	return doc
}
