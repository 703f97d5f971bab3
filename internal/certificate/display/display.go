// Package display renders certificates and verdicts as text for people.
package display

import (
	"fmt"
	"strings"
	"time"

	"hcert/internal/certificate/models"
	"hcert/internal/certificate/validity"
)

// DateText formats a date as yyyy-MM-dd.
func DateText(t time.Time) string {
	return t.Format(time.DateOnly)
}

// StatusText is the one-line banner shown for a verdict.
func StatusText(v validity.Verdict, cert *models.Certificate) string {
	switch v {
	case validity.Valid:
		return "VERIFIED & VALID"
	case validity.Expired:
		return "EXPIRED ON " + DateText(cert.ExpiresAt)
	case validity.TestPositive:
		return "TEST POSITIVE"
	case validity.RecoveryNotYetValid:
		return "NOT YET VALID"
	case validity.RecoveryExpired:
		return "RECOVERY EXPIRED"
	default:
		return "VERIFICATION FAILED"
	}
}

// RelativeDate describes how long ago then was, in days, weeks or months.
func RelativeDate(then, now time.Time) string {
	days := int64(now.Sub(then) / (24 * time.Hour))
	switch {
	case days < 1:
		return "less than a day ago"
	case days == 1:
		return "yesterday"
	case days <= 14:
		return fmt.Sprintf("%d days ago", days)
	case days <= 30:
		qualifier := ""
		if days%7 != 0 {
			qualifier = "over "
		}
		return fmt.Sprintf("%s%d weeks ago", qualifier, days/7)
	default:
		return "over a month ago"
	}
}

// RelativeTime describes how many hours ago then was, up to 72.
func RelativeTime(then, now time.Time) string {
	hours := int64(now.Sub(then) / time.Hour)
	if hours < 72 {
		return fmt.Sprintf("%d hours ago", hours)
	}
	return "over 72 hours ago"
}

// KeyIDText renders a key identifier as space separated hex pairs, followed by its
// ASCII form when every byte is printable.
func KeyIDText(kid []byte) string {
	if len(kid) == 0 {
		return "none"
	}
	pairs := make([]string, len(kid))
	printable := true
	for i, b := range kid {
		pairs[i] = fmt.Sprintf("%02x", b)
		if b < 0x20 || b > 0x7E {
			printable = false
		}
	}
	out := strings.Join(pairs, " ")
	if printable {
		out += " (" + string(kid) + ")"
	}
	return out
}

// Detail is one labelled line of a certificate summary.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Details lists the certificate fields a verifier shows, in display order.
func Details(cert *models.Certificate, now time.Time) []Detail {
	e := cert.Entry
	out := []Detail{
		{"Name", cert.Name.Display()},
		{"Date of birth", cert.DateOfBirth.String()},
		{"Disease targeted", e.Labels.Disease},
	}
	switch e.Kind {
	case models.VariantVaccination:
		v := e.Vaccination
		out = append(out,
			Detail{"Dose", fmt.Sprintf("%d of %d", v.DoseNumber, v.TotalDoses)},
			Detail{"Date administered", fmt.Sprintf("%s (%s)", v.Date.String(), RelativeDate(v.Date.Time, now))},
			Detail{"Manufacturer", e.Labels.Manufacturer},
			Detail{"Vaccine product", e.Labels.Product},
			Detail{"Prophylaxis", e.Labels.Prophylaxis},
		)
	case models.VariantTest:
		t := e.Test
		out = append(out,
			Detail{"Test type", e.Labels.TestType},
			Detail{"Test result", e.Labels.TestResult},
			Detail{"Sample collected", fmt.Sprintf("%s (%s)", t.SampleCollected.Format(time.RFC3339), RelativeTime(t.SampleCollected, now))},
			Detail{"Testing centre", t.Facility},
		)
		if t.Name != "" {
			out = append(out, Detail{"Test name", t.Name})
		}
	case models.VariantRecovery:
		r := e.Recovery
		out = append(out,
			Detail{"First positive result", fmt.Sprintf("%s (%s)", r.FirstPositive.String(), RelativeDate(r.FirstPositive.Time, now))},
			Detail{"Valid from", r.ValidFrom.String()},
			Detail{"Valid until", r.ValidUntil.String()},
		)
	}
	out = append(out,
		Detail{"Transliterated name", fmt.Sprintf("%s, %s", cert.Name.FamilyStandardised, cert.Name.GivenStandardised)},
		Detail{"Certificate expiry date", DateText(cert.ExpiresAt)},
		Detail{"Country", e.Labels.Country},
		Detail{"Certificate issuer", e.Issuer},
		Detail{"Unique reference", e.UVCI},
		Detail{"Public key ID", KeyIDText(cert.KeyID())},
	)
	return out
}
