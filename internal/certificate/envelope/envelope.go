// Package envelope parses and verifies the COSE_Sign1 message that carries a health
// certificate.
package envelope

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"hcert/internal/certificate/certerr"
)

const (
	coseSign1Tag  = 0xD2
	coseArrayOf4  = 0x84
	coseSignTagHi = 0xD8
	coseSignTagLo = 0x62
)

// Envelope is a parsed single-signer COSE message.
type Envelope struct {
	KeyID     []byte
	Algorithm cose.Algorithm
	Payload   []byte
	Signature []byte

	msg *cose.Sign1Message
}

// Parse decodes a tagged or untagged COSE_Sign1 message. Multi-signer COSE_Sign
// messages are rejected.
func Parse(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, certerr.New(certerr.KindEnvelopeFormat, "empty message", nil)
	}
	switch {
	case data[0] == coseSign1Tag:
	case data[0] == coseArrayOf4:
		data = append([]byte{coseSign1Tag}, data...)
	case len(data) > 1 && data[0] == coseSignTagHi && data[1] == coseSignTagLo:
		return nil, certerr.New(certerr.KindEnvelopeFormat, "multi-signer COSE_Sign is not supported", nil)
	default:
		return nil, certerr.New(certerr.KindEnvelopeFormat, fmt.Sprintf("unexpected leading byte 0x%02x", data[0]), nil)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, certerr.New(certerr.KindEnvelopeFormat, "decode COSE_Sign1", err)
	}

	env := &Envelope{
		KeyID:     keyID(msg.Headers),
		Payload:   msg.Payload,
		Signature: msg.Signature,
		msg:       &msg,
	}
	if alg, err := msg.Headers.Protected.Algorithm(); err == nil {
		env.Algorithm = alg
	}
	return env, nil
}

// keyID reads the kid header, preferring the protected bucket.
func keyID(h cose.Headers) []byte {
	if kid := lookupKeyID(h.Protected); kid != nil {
		return kid
	}
	return lookupKeyID(h.Unprotected)
}

func lookupKeyID(h map[any]any) []byte {
	for label, v := range h {
		if !isLabel(label, cose.HeaderLabelKeyID) {
			continue
		}
		if kid, ok := v.([]byte); ok && len(kid) > 0 {
			return kid
		}
	}
	return nil
}

func isLabel(label any, want int64) bool {
	switch l := label.(type) {
	case int64:
		return l == want
	case uint64:
		return want >= 0 && l == uint64(want)
	case int:
		return int64(l) == want
	}
	return false
}

// Verify checks the signature over the Sig_structure rebuilt from the original
// protected header bytes and payload. A mismatching signature yields false with a nil
// error. Unknown algorithms and keys that do not fit the algorithm yield an
// unsupported-algorithm error.
func (e *Envelope) Verify(pub crypto.PublicKey) (bool, error) {
	if err := checkKey(e.Algorithm, pub); err != nil {
		return false, err
	}
	verifier, err := cose.NewVerifier(e.Algorithm, pub)
	if err != nil {
		return false, certerr.New(certerr.KindUnsupportedAlgorithm, e.AlgorithmName(), err)
	}
	if err := e.msg.Verify(nil, verifier); err != nil {
		if errors.Is(err, cose.ErrVerification) {
			return false, nil
		}
		return false, certerr.New(certerr.KindUnsupportedAlgorithm, e.AlgorithmName(), err)
	}
	return true, nil
}

// AlgorithmName returns the IANA name of the signature algorithm.
func (e *Envelope) AlgorithmName() string {
	switch e.Algorithm {
	case cose.AlgorithmES256:
		return "ES256"
	case cose.AlgorithmES384:
		return "ES384"
	case cose.AlgorithmES512:
		return "ES512"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("alg(%d)", int64(e.Algorithm))
	}
}

var curveForAlgorithm = map[cose.Algorithm]elliptic.Curve{
	cose.AlgorithmES256: elliptic.P256(),
	cose.AlgorithmES384: elliptic.P384(),
	cose.AlgorithmES512: elliptic.P521(),
}

func checkKey(alg cose.Algorithm, pub crypto.PublicKey) error {
	curve, ok := curveForAlgorithm[alg]
	if !ok {
		return certerr.New(certerr.KindUnsupportedAlgorithm, fmt.Sprintf("algorithm %d", int64(alg)), nil)
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return certerr.New(certerr.KindUnsupportedAlgorithm, fmt.Sprintf("key type %T", pub), nil)
	}
	if ec.Curve.Params().Name != curve.Params().Name {
		return certerr.New(certerr.KindUnsupportedAlgorithm,
			fmt.Sprintf("curve %s does not match algorithm", ec.Curve.Params().Name), nil)
	}
	return nil
}
