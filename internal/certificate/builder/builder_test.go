package builder

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/suite"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/document"
	"hcert/internal/certificate/fixtures"
	"hcert/internal/certificate/models"
)

type BuilderSuite struct {
	suite.Suite
	issuedAt  time.Time
	expiresAt time.Time
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.issuedAt = time.Date(2021, 8, 21, 10, 0, 0, 0, time.UTC)
	s.expiresAt = time.Date(2022, 8, 21, 10, 0, 0, 0, time.UTC)
}

func (s *BuilderSuite) build(doc map[any]any) (*models.Certificate, error) {
	return s.buildClaims(fixtures.Claims("DE", s.issuedAt, s.expiresAt, doc))
}

func (s *BuilderSuite) buildClaims(claims map[any]any) (*models.Certificate, error) {
	payload, err := cbor.Marshal(claims)
	s.Require().NoError(err)
	root, err := document.Decode(payload)
	s.Require().NoError(err)
	return Build(root, nil)
}

func entryOf(doc map[any]any, key string) map[any]any {
	return doc[key].([]any)[0].(map[any]any)
}

func (s *BuilderSuite) requireFieldError(err error, path string) {
	s.Require().Error(err)
	s.ErrorIs(err, certerr.ErrFieldFormat)
	s.Equal(path, certerr.FieldOf(err))
}

func (s *BuilderSuite) TestVaccination() {
	cert, err := s.build(fixtures.VaccinationDocument())
	s.Require().NoError(err)

	s.Equal("DE", cert.Issuer)
	s.True(s.issuedAt.Equal(cert.IssuedAt))
	s.True(s.expiresAt.Equal(cert.ExpiresAt))
	s.Equal("1.0.1", cert.Version)
	s.Equal("Erika Mustermann", cert.Name.Display())
	s.Equal("MUSTERMANN", cert.Name.FamilyStandardised)
	s.Equal("1980-01-01", cert.DateOfBirth.String())

	s.Equal(models.VariantVaccination, cert.Entry.Kind)
	s.Nil(cert.Entry.Test)
	s.Nil(cert.Entry.Recovery)
	s.Require().NotNil(cert.Entry.Vaccination)
	v := cert.Entry.Vaccination
	s.Equal(2, v.DoseNumber)
	s.Equal(2, v.TotalDoses)
	s.Equal("2021-08-20", v.Date.String())
	s.Equal("URN:UVCI:01:DE:0123456789", cert.Entry.UVCI)
	s.Equal("Comirnaty", cert.Entry.Labels.Product)
	s.Equal("Biontech Manufacturing GmbH", cert.Entry.Labels.Manufacturer)
	s.Equal("SARS-CoV-2 mRNA vaccine", cert.Entry.Labels.Prophylaxis)
	s.Equal("COVID-19", cert.Entry.Labels.Disease)
	s.Equal("Germany", cert.Entry.Labels.Country)
}

func (s *BuilderSuite) TestIdempotent() {
	doc := fixtures.VaccinationDocument()
	first, err := s.build(doc)
	s.Require().NoError(err)
	second, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *BuilderSuite) TestTestWithoutVaccinationGroup() {
	collected := time.Date(2021, 9, 1, 8, 30, 0, 0, time.UTC)
	cert, err := s.build(fixtures.TestDocument(models.NegativeTestResult, collected))
	s.Require().NoError(err)

	s.Equal(models.VariantTest, cert.Entry.Kind)
	s.Nil(cert.Entry.Vaccination)
	s.Require().NotNil(cert.Entry.Test)
	s.True(collected.Equal(cert.Entry.Test.SampleCollected))
	s.True(cert.Entry.Test.Negative())
	s.Equal("Negative", cert.Entry.Labels.TestResult)
	s.Equal("Nucleic acid amplification with probe detection", cert.Entry.Labels.TestType)
}

func (s *BuilderSuite) TestEmptyVaccinationGroupFallsThrough() {
	doc := fixtures.TestDocument(models.NegativeTestResult, s.issuedAt)
	doc["v"] = []any{}
	cert, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal(models.VariantTest, cert.Entry.Kind)
}

func (s *BuilderSuite) TestVaccinationWinsOverTest() {
	doc := fixtures.VaccinationDocument()
	doc["t"] = fixtures.TestDocument("260373001", s.issuedAt)["t"]
	cert, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal(models.VariantVaccination, cert.Entry.Kind)
	s.Nil(cert.Entry.Test)
}

func (s *BuilderSuite) TestOnlyFirstEntryUsed() {
	doc := fixtures.VaccinationDocument()
	second := map[any]any{}
	for k, v := range entryOf(doc, "v") {
		second[k] = v
	}
	second["dn"] = 1
	doc["v"] = append(doc["v"].([]any), second)

	cert, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal(2, cert.Entry.Vaccination.DoseNumber)
}

func (s *BuilderSuite) TestRecovery() {
	cert, err := s.build(fixtures.RecoveryDocument("2021-03", "2021-04-01", "2021-09-28"))
	s.Require().NoError(err)
	s.Equal(models.VariantRecovery, cert.Entry.Kind)
	s.Require().NotNil(cert.Entry.Recovery)
	s.Equal(models.PrecisionMonth, cert.Entry.Recovery.FirstPositive.Precision)
	s.Equal("2021-04-01", cert.Entry.Recovery.ValidFrom.String())
	s.Equal("2021-09-28", cert.Entry.Recovery.ValidUntil.String())
}

func (s *BuilderSuite) TestPartialDateOfBirth() {
	doc := fixtures.VaccinationDocument()
	doc["dob"] = "1964"
	cert, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal(models.PrecisionYear, cert.DateOfBirth.Precision)
	s.Equal(time.January, cert.DateOfBirth.Time.Month())
	s.Equal(1, cert.DateOfBirth.Time.Day())

	doc["dob"] = ""
	cert, err = s.build(doc)
	s.Require().NoError(err)
	s.True(cert.DateOfBirth.IsZero())
}

func (s *BuilderSuite) TestInvalidCertificateType() {
	doc := fixtures.VaccinationDocument()
	delete(doc, "v")
	_, err := s.build(doc)
	s.ErrorIs(err, certerr.ErrInvalidCertificateType)

	doc["r"] = []any{}
	_, err = s.build(doc)
	s.ErrorIs(err, certerr.ErrInvalidCertificateType)
}

func (s *BuilderSuite) TestFieldErrors() {
	s.Run("missing dose number", func() {
		doc := fixtures.VaccinationDocument()
		delete(entryOf(doc, "v"), "dn")
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.v[0].dn")
	})

	s.Run("dose number as text", func() {
		doc := fixtures.VaccinationDocument()
		entryOf(doc, "v")["dn"] = "2"
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.v[0].dn")
	})

	s.Run("malformed vaccination date", func() {
		doc := fixtures.VaccinationDocument()
		entryOf(doc, "v")["dt"] = "20/08/2021"
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.v[0].dt")
	})

	s.Run("sample collection with a time zone offset but no colon", func() {
		doc := fixtures.TestDocument(models.NegativeTestResult, s.issuedAt)
		entryOf(doc, "t")["sc"] = "2021-08-20T10:00:00+0200"
		cert, err := s.build(doc)
		s.Require().NoError(err)
		s.True(time.Date(2021, 8, 20, 8, 0, 0, 0, time.UTC).Equal(cert.Entry.Test.SampleCollected))
	})

	s.Run("sample collection without an offset is utc", func() {
		doc := fixtures.TestDocument(models.NegativeTestResult, s.issuedAt)
		entryOf(doc, "t")["sc"] = "2021-08-20T10:00:00"
		cert, err := s.build(doc)
		s.Require().NoError(err)
		s.True(time.Date(2021, 8, 20, 10, 0, 0, 0, time.UTC).Equal(cert.Entry.Test.SampleCollected))
	})

	s.Run("sample collection without time", func() {
		doc := fixtures.TestDocument(models.NegativeTestResult, s.issuedAt)
		entryOf(doc, "t")["sc"] = "2021-09-01"
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.t[0].sc")
	})

	s.Run("missing standardised family name", func() {
		doc := fixtures.VaccinationDocument()
		delete(doc["nam"].(map[any]any), "fnt")
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.nam.fnt")
	})

	s.Run("group is not an array", func() {
		doc := fixtures.VaccinationDocument()
		doc["v"] = map[any]any{"dn": 1}
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.v")
	})

	s.Run("entry is not a map", func() {
		doc := fixtures.VaccinationDocument()
		doc["v"] = []any{"dose"}
		_, err := s.build(doc)
		s.requireFieldError(err, "-260.1.v[0]")
	})

	s.Run("missing expiry", func() {
		claims := fixtures.Claims("DE", s.issuedAt, s.expiresAt, fixtures.VaccinationDocument())
		delete(claims, 4)
		_, err := s.buildClaims(claims)
		s.requireFieldError(err, "4")
	})

	s.Run("missing health certificate", func() {
		claims := fixtures.Claims("DE", s.issuedAt, s.expiresAt, fixtures.VaccinationDocument())
		delete(claims, -260)
		_, err := s.buildClaims(claims)
		s.requireFieldError(err, "-260")
	})
}

func (s *BuilderSuite) TestUnknownCodesAreLenient() {
	doc := fixtures.VaccinationDocument()
	entryOf(doc, "v")["mp"] = "EU/9/99/9999"
	entryOf(doc, "v")["ma"] = "ORG-1"
	entryOf(doc, "v")["tg"] = "000000000"
	entryOf(doc, "v")["co"] = "ZZ"
	cert, err := s.build(doc)
	s.Require().NoError(err)
	s.Equal("Unknown (EU/9/99/9999)", cert.Entry.Labels.Product)
	s.Equal("Unknown (ORG-1)", cert.Entry.Labels.Manufacturer)
	s.Equal("Unknown (000000000)", cert.Entry.Labels.Disease)
	s.Equal("Unknown (ZZ)", cert.Entry.Labels.Country)
	s.Equal("ZZ", cert.Entry.Country)
}
