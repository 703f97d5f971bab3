// Package validity applies the business rules that turn a decoded certificate into a
// verdict.
package validity

import (
	"time"

	"hcert/internal/certificate/models"
)

// Verdict is the outcome of evaluating a certificate.
type Verdict string

const (
	Valid               Verdict = "VALID"
	Expired             Verdict = "EXPIRED"
	NotVerified         Verdict = "NOT_VERIFIED"
	TestPositive        Verdict = "TEST_POSITIVE"
	RecoveryNotYetValid Verdict = "RECOVERY_NOT_YET_VALID"
	RecoveryExpired     Verdict = "RECOVERY_EXPIRED"
)

// Grace extends day-precision end dates to the end of the listed day.
const Grace = 24 * time.Hour

// Evaluate returns the first matching verdict in this order: expiry, positive test,
// recovery window, signature.
func Evaluate(cert *models.Certificate, now time.Time, verified bool) Verdict {
	if now.After(cert.ExpiresAt.Add(Grace)) {
		return Expired
	}
	entry := cert.Entry
	switch entry.Kind {
	case models.VariantTest:
		if entry.Test != nil && !entry.Test.Negative() {
			return TestPositive
		}
	case models.VariantRecovery:
		if r := entry.Recovery; r != nil {
			if now.Before(r.ValidFrom.Time) {
				return RecoveryNotYetValid
			}
			if now.After(r.ValidUntil.Time.Add(Grace)) {
				return RecoveryExpired
			}
		}
	}
	if !verified {
		return NotVerified
	}
	return Valid
}

// IsValid reports whether the verdict lets the holder through.
func (v Verdict) IsValid() bool {
	return v == Valid
}
