package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks KeyResolver,AuditPublisher

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"hcert/internal/audit"
	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/fixtures"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/service/mocks"
	"hcert/internal/certificate/validity"
	"hcert/pkg/platform/sentinel"
	"hcert/pkg/requestcontext"
)

type CertificateServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	keys     *mocks.MockKeyResolver
	auditLog *mocks.MockAuditPublisher
	service  *Service
	issuer   *fixtures.Issuer
	ctx      context.Context
	now      time.Time
}

func TestCertificateServiceSuite(t *testing.T) {
	suite.Run(t, new(CertificateServiceSuite))
}

func (s *CertificateServiceSuite) SetupTest() {
	s.reset()
}

// Each subtest gets fresh mocks so expectations do not leak between cases.
func (s *CertificateServiceSuite) SetupSubTest() {
	s.reset()
}

func (s *CertificateServiceSuite) reset() {
	s.ctrl = gomock.NewController(s.T())
	s.keys = mocks.NewMockKeyResolver(s.ctrl)
	s.auditLog = mocks.NewMockAuditPublisher(s.ctrl)

	svc, err := New(s.keys, WithAuditPublisher(s.auditLog), WithBatchLimits(3, 2))
	s.Require().NoError(err)
	s.service = svc

	s.issuer, err = fixtures.NewIssuer("kid1")
	s.Require().NoError(err)

	s.now = time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
}

func (s *CertificateServiceSuite) issue(iss *fixtures.Issuer, doc map[any]any) string {
	issuedAt := time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC)
	qr, err := iss.Issue(fixtures.Claims("DE", issuedAt, issuedAt.AddDate(1, 0, 0), doc))
	s.Require().NoError(err)
	return qr
}

func (s *CertificateServiceSuite) expectTrusted() {
	s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(&s.issuer.Key.PublicKey, nil)
}

func (s *CertificateServiceSuite) captureAudit() *[]audit.Event {
	var events []audit.Event
	s.auditLog.EXPECT().Emit(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e audit.Event) { events = append(events, e) }).
		AnyTimes()
	return &events
}

func (s *CertificateServiceSuite) TestNew() {
	s.Run("requires a key resolver", func() {
		svc, err := New(nil)
		s.Error(err)
		s.Nil(svc)
	})
}

func (s *CertificateServiceSuite) TestDecodeAndBuild() {
	s.Run("builds a vaccination certificate", func() {
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.Equal("DE", cert.Issuer)
		s.Equal(models.VariantVaccination, cert.Entry.Kind)
		s.Equal("Comirnaty", cert.Entry.Labels.Product)
		s.Equal(2, cert.Entry.Vaccination.DoseNumber)
		s.Equal(2, cert.Entry.Vaccination.TotalDoses)
		s.Equal([]byte("kid1"), cert.KeyID())
	})

	s.Run("reports the failing stage", func() {
		_, err := s.service.DecodeAndBuild(s.ctx, "not a certificate")
		s.ErrorIs(err, certerr.ErrDecode)

		_, err = s.service.DecodeAndBuild(s.ctx, "HC1:A")
		s.Equal(certerr.KindDecode, certerr.KindOf(err))
	})
}

func (s *CertificateServiceSuite) TestVerify() {
	s.Run("trusted key verifies", func() {
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.expectTrusted()

		ok, err := s.service.Verify(s.ctx, cert)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("missing kid never reaches the key store", func() {
		anon, err := fixtures.NewIssuer("")
		s.Require().NoError(err)
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(anon, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.keys.EXPECT().Lookup(gomock.Any(), gomock.Any()).Times(0)

		ok, err := s.service.Verify(s.ctx, cert)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("unknown kid is not verified", func() {
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(nil, sentinel.ErrNotFound)

		ok, err := s.service.Verify(s.ctx, cert)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("key for another signer is not verified", func() {
		other, err := fixtures.NewIssuer("kid1")
		s.Require().NoError(err)
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(&other.Key.PublicKey, nil)

		ok, err := s.service.Verify(s.ctx, cert)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("curve mismatch is not verified", func() {
		p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		s.Require().NoError(err)
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(&p384.PublicKey, nil)

		ok, err := s.service.Verify(s.ctx, cert)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("key store failure is returned", func() {
		cert, err := s.service.DecodeAndBuild(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(nil, errors.New("connection refused"))

		ok, err := s.service.Verify(s.ctx, cert)
		s.Error(err)
		s.False(ok)
	})

	s.Run("nil certificate is not verified", func() {
		ok, err := s.service.Verify(s.ctx, nil)
		s.NoError(err)
		s.False(ok)
	})
}

func (s *CertificateServiceSuite) TestCheck() {
	s.Run("valid vaccination emits a verification event", func() {
		events := s.captureAudit()
		s.expectTrusted()

		res, err := s.service.Check(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Require().NoError(err)
		s.True(res.Verified)
		s.Equal(validity.Valid, res.Verdict)
		s.Equal("VERIFIED & VALID", res.Status)
		s.NotEmpty(res.Details)

		s.Require().Len(*events, 1)
		e := (*events)[0]
		s.Equal(audit.ActionVerified, e.Action)
		s.Equal(validity.Valid, e.Verdict)
		s.Equal("DE", e.Country)
		s.Equal("6b696431", e.KeyID)
		s.Equal(audit.Fingerprint("URN:UVCI:01:DE:0123456789"), e.UVCIFingerprint)
		s.Equal("req-1", e.RequestID)
		s.Equal(s.now, e.Timestamp)
	})

	s.Run("positive test outranks a missing signature", func() {
		s.captureAudit()
		s.keys.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		res, err := s.service.Check(s.ctx, s.issue(s.issuer, fixtures.TestDocument("260373001", s.now.Add(-time.Hour))))
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Equal(validity.TestPositive, res.Verdict)
	})

	s.Run("recovery window is applied", func() {
		s.captureAudit()
		s.expectTrusted()

		res, err := s.service.Check(s.ctx, s.issue(s.issuer, fixtures.RecoveryDocument("2021-09-20", "2021-10-10", "2022-03-20")))
		s.Require().NoError(err)
		s.Equal(validity.RecoveryNotYetValid, res.Verdict)
	})

	s.Run("decode failure emits a rejection event", func() {
		events := s.captureAudit()

		_, err := s.service.Check(s.ctx, "HC1:%%%")
		s.Require().Error(err)
		s.Require().Len(*events, 1)
		s.Equal(audit.ActionRejected, (*events)[0].Action)
		s.Equal(string(certerr.KindOf(err)), (*events)[0].ErrorKind)
	})

	s.Run("key store failure emits nothing", func() {
		s.auditLog.EXPECT().Emit(gomock.Any(), gomock.Any()).Times(0)
		s.keys.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

		res, err := s.service.Check(s.ctx, s.issue(s.issuer, fixtures.VaccinationDocument()))
		s.Error(err)
		s.Nil(res)
	})
}

func (s *CertificateServiceSuite) TestCheckBatch() {
	s.Run("keeps input order and per-item failures", func() {
		s.auditLog.EXPECT().Emit(gomock.Any(), gomock.Any()).Times(3)
		s.keys.EXPECT().Lookup(gomock.Any(), []byte("kid1")).Return(&s.issuer.Key.PublicKey, nil).Times(2)

		raws := []string{
			s.issue(s.issuer, fixtures.VaccinationDocument()),
			"garbage",
			s.issue(s.issuer, fixtures.TestDocument(models.NegativeTestResult, s.now.Add(-time.Hour))),
		}
		items, err := s.service.CheckBatch(s.ctx, raws)
		s.Require().NoError(err)
		s.Require().Len(items, 3)

		for i, item := range items {
			s.Equal(i, item.Index)
		}
		s.Equal(models.VariantVaccination, items[0].Result.Certificate.Entry.Kind)
		s.Nil(items[1].Result)
		s.ErrorIs(items[1].Err, certerr.ErrDecode)
		s.Equal(models.VariantTest, items[2].Result.Certificate.Entry.Kind)
		s.Equal(validity.Valid, items[2].Result.Verdict)
	})

	s.Run("rejects batches over the limit", func() {
		items, err := s.service.CheckBatch(s.ctx, []string{"a", "b", "c", "d"})
		s.ErrorIs(err, ErrBatchTooLarge)
		s.ErrorIs(err, sentinel.ErrInvalidInput)
		s.Nil(items)
	})

	s.Run("key store failure aborts the batch", func() {
		s.auditLog.EXPECT().Emit(gomock.Any(), gomock.Any()).AnyTimes()
		s.keys.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")).AnyTimes()

		items, err := s.service.CheckBatch(s.ctx, []string{
			s.issue(s.issuer, fixtures.VaccinationDocument()),
			s.issue(s.issuer, fixtures.VaccinationDocument()),
		})
		s.Error(err)
		s.Nil(items)
	})

	s.Run("empty batch", func() {
		items, err := s.service.CheckBatch(s.ctx, nil)
		s.Require().NoError(err)
		s.Empty(items)
	})
}
