package audit

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/validity"
	"hcert/pkg/requestcontext"
)

// Action names what happened to a scanned certificate.
type Action string

const (
	ActionVerified Action = "certificate_verified"
	ActionRejected Action = "certificate_rejected"
)

// Client types derived from the User-Agent.
const (
	ClientBot     = "bot"
	ClientMobile  = "mobile"
	ClientDesktop = "desktop"
	ClientUnknown = "unknown"
)

// Event records one verification. Names and the raw UVCI are never recorded; the UVCI
// only appears as a blake2b fingerprint.
type Event struct {
	ID              uuid.UUID        `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	Action          Action           `json:"action"`
	Country         string           `json:"country,omitempty"`
	Issuer          string           `json:"issuer,omitempty"`
	Variant         models.Variant   `json:"variant,omitempty"`
	Verdict         validity.Verdict `json:"verdict,omitempty"`
	Verified        bool             `json:"verified"`
	KeyID           string           `json:"kid,omitempty"`
	UVCIFingerprint string           `json:"uvci_fingerprint,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	ClientIP        string           `json:"client_ip,omitempty"`
	ClientType      string           `json:"client_type"`
	RequestID       string           `json:"request_id,omitempty"`
}

// Fingerprint returns the hex blake2b-256 digest of a UVCI, or "" for an empty one.
func Fingerprint(uvci string) string {
	uvci = strings.TrimSpace(uvci)
	if uvci == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(uvci))
	return hex.EncodeToString(sum[:])
}

// ClientType classifies a User-Agent string.
func ClientType(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ClientUnknown
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return ClientBot
	case ua.Mobile():
		return ClientMobile
	default:
		return ClientDesktop
	}
}

// VerificationEvent builds the event for a certificate that decoded successfully.
func VerificationEvent(ctx context.Context, cert *models.Certificate, verified bool, verdict validity.Verdict) Event {
	e := baseEvent(ctx, ActionVerified)
	e.Issuer = cert.Issuer
	e.Country = cert.Entry.Country
	e.Variant = cert.Entry.Kind
	e.Verdict = verdict
	e.Verified = verified
	e.KeyID = hex.EncodeToString(cert.KeyID())
	e.UVCIFingerprint = Fingerprint(cert.Entry.UVCI)
	return e
}

// RejectionEvent builds the event for input that could not be decoded.
func RejectionEvent(ctx context.Context, err error) Event {
	e := baseEvent(ctx, ActionRejected)
	e.ErrorKind = string(certerr.KindOf(err))
	return e
}

func baseEvent(ctx context.Context, action Action) Event {
	return Event{
		ID:         uuid.New(),
		Timestamp:  requestcontext.Now(ctx),
		Action:     action,
		ClientIP:   requestcontext.ClientIP(ctx),
		ClientType: ClientType(requestcontext.UserAgent(ctx)),
		RequestID:  requestcontext.RequestID(ctx),
	}
}
