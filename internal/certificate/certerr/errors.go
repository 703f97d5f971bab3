// Package certerr defines the failure taxonomy of the certificate pipeline.
package certerr

import (
	"errors"
	"fmt"
)

// Kind identifies the pipeline stage or rule that rejected a certificate.
type Kind string

const (
	// KindDecode indicates the text payload contains characters outside the base45 alphabet
	// or a malformed group.
	KindDecode Kind = "decode_error"

	// KindDecompression indicates a corrupt zlib stream.
	KindDecompression Kind = "decompression_error"

	// KindEnvelopeFormat indicates the bytes are not a single-signer COSE message.
	KindEnvelopeFormat Kind = "envelope_format_error"

	// KindDocumentFormat indicates truncated or inconsistent CBOR.
	KindDocumentFormat Kind = "document_format_error"

	// KindFieldFormat indicates a required field is missing or has the wrong type.
	KindFieldFormat Kind = "field_format_error"

	// KindInvalidCertificateType indicates none of the v, t, r groups is present.
	KindInvalidCertificateType Kind = "invalid_certificate_type"

	// KindUnsupportedAlgorithm indicates an unknown signature algorithm or a key that
	// does not match it.
	KindUnsupportedAlgorithm Kind = "unsupported_algorithm"
)

// Error carries the failure kind, the offending field path (if any) and the cause.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " at " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any error of the same kind, so callers can compare against the
// package-level sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrDecode                 = &Error{Kind: KindDecode}
	ErrDecompression          = &Error{Kind: KindDecompression}
	ErrEnvelopeFormat         = &Error{Kind: KindEnvelopeFormat}
	ErrDocumentFormat         = &Error{Kind: KindDocumentFormat}
	ErrFieldFormat            = &Error{Kind: KindFieldFormat}
	ErrInvalidCertificateType = &Error{Kind: KindInvalidCertificateType}
	ErrUnsupportedAlgorithm   = &Error{Kind: KindUnsupportedAlgorithm}
)

// New builds an Error of the given kind wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Field builds a FieldFormatError for the given path.
func Field(path, format string, args ...any) *Error {
	return &Error{Kind: KindFieldFormat, Field: path, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, or "" if err is not a pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldOf extracts the field path from err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
