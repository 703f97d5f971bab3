// Package models holds the typed health certificate built from a decoded payload.
package models

import (
	"time"

	"hcert/internal/certificate/envelope"
)

// Variant tags the certificate entry type.
type Variant string

const (
	VariantVaccination Variant = "vaccination"
	VariantTest        Variant = "test"
	VariantRecovery    Variant = "recovery"
)

// NegativeTestResult is the SNOMED CT code for "not detected".
const NegativeTestResult = "260415000"

// Certificate is the CWT envelope around a health certificate document.
type Certificate struct {
	Issuer    string    `json:"issuer"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Version     string      `json:"version"`
	Name        Name        `json:"name"`
	DateOfBirth PartialDate `json:"date_of_birth"`
	Entry       Entry       `json:"entry"`

	// Signed is kept so the signature can be checked after building.
	Signed *envelope.Envelope `json:"-"`
}

// KeyID returns the key identifier of the signing key, or nil.
func (c *Certificate) KeyID() []byte {
	if c.Signed == nil {
		return nil
	}
	return c.Signed.KeyID
}

// Name holds the holder name in display and ICAO transliterated form.
type Name struct {
	Given              string `json:"given,omitempty"`
	Family             string `json:"family,omitempty"`
	GivenStandardised  string `json:"given_standardised,omitempty"`
	FamilyStandardised string `json:"family_standardised"`
}

// Display joins given and family name, falling back to the standardised forms.
func (n Name) Display() string {
	given, family := n.Given, n.Family
	if given == "" && family == "" {
		given, family = n.GivenStandardised, n.FamilyStandardised
	}
	switch {
	case given == "":
		return family
	case family == "":
		return given
	}
	return given + " " + family
}

// Entry is the single vaccination, test or recovery record of a certificate.
// Exactly one of the variant pointers is set, matching Kind.
type Entry struct {
	Kind    Variant `json:"kind"`
	Disease string  `json:"disease"`
	Country string  `json:"country"`
	Issuer  string  `json:"issuer"`
	UVCI    string  `json:"uvci"`

	Vaccination *Vaccination `json:"vaccination,omitempty"`
	Test        *Test        `json:"test,omitempty"`
	Recovery    *Recovery    `json:"recovery,omitempty"`

	Labels Labels `json:"labels"`
}

type Vaccination struct {
	Prophylaxis  string      `json:"prophylaxis"`
	Product      string      `json:"product"`
	Manufacturer string      `json:"manufacturer"`
	DoseNumber   int         `json:"dose_number"`
	TotalDoses   int         `json:"total_doses"`
	Date         PartialDate `json:"date"`
}

type Test struct {
	Type            string    `json:"type"`
	Name            string    `json:"name,omitempty"`
	Device          string    `json:"device,omitempty"`
	SampleCollected time.Time `json:"sample_collected"`
	Result          string    `json:"result"`
	Facility        string    `json:"facility"`
}

// Negative reports whether the result code is "not detected".
func (t *Test) Negative() bool {
	return t.Result == NegativeTestResult
}

type Recovery struct {
	FirstPositive PartialDate `json:"first_positive"`
	ValidFrom     PartialDate `json:"valid_from"`
	ValidUntil    PartialDate `json:"valid_until"`
}

// Labels are human-readable renderings of the coded entry fields.
type Labels struct {
	Disease      string `json:"disease"`
	Country      string `json:"country"`
	Prophylaxis  string `json:"prophylaxis,omitempty"`
	Product      string `json:"product,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	TestType     string `json:"test_type,omitempty"`
	TestResult   string `json:"test_result,omitempty"`
}
