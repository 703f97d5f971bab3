package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	jwttoken "hcert/internal/jwt_token"
	"hcert/internal/trustkeys/handler/mocks"
	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/middleware/admin"
	"hcert/pkg/platform/sentinel"
	"hcert/pkg/testutil"
)

type KeyHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
	token   string
}

func TestKeyHandlerSuite(t *testing.T) {
	suite.Run(t, new(KeyHandlerSuite))
}

func (s *KeyHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens := jwttoken.NewJWTService("test-key", "hcert", "hcert-admin")
	var err error
	s.token, err = tokens.GenerateAdminToken("ops", time.Hour)
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(tokens, logger))
		New(s.service, logger).Register(r)
	})
	s.router = r
}

func (s *KeyHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *KeyHandlerSuite) authorised(req *http.Request) *http.Request {
	return testutil.WithBearer(req, s.token)
}

func (s *KeyHandlerSuite) TestRequiresToken() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/admin/keys"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *KeyHandlerSuite) TestList() {
	s.service.EXPECT().List(gomock.Any()).Return([]models.KeySummary{
		{KeyID: "a2lkMQ", Display: "6b 69 64 31 (kid1)", Source: "uk"},
	}, nil)

	rr := testutil.DoRequest(s.router, s.authorised(testutil.NewRequest(s.T(), http.MethodGet, "/admin/keys")))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
	s.Require().Len(resp.Keys, 1)
	s.Equal("6b 69 64 31 (kid1)", resp.Keys[0].Display)
}

func (s *KeyHandlerSuite) TestListEmpty() {
	s.service.EXPECT().List(gomock.Any()).Return(nil, nil)

	rr := testutil.DoRequest(s.router, s.authorised(testutil.NewRequest(s.T(), http.MethodGet, "/admin/keys")))
	testutil.AssertStatusOK(s.T(), rr)
	s.JSONEq(`{"keys":[]}`, rr.Body.String())
}

func (s *KeyHandlerSuite) TestImport() {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	s.Require().NoError(err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	s.Require().NoError(err)
	body := `[{"kid":"a2lkMQ==","publicKey":"` + base64.StdEncoding.EncodeToString(der) + `"}]`

	s.Run("uk list", func() {
		s.service.EXPECT().Import(gomock.Any(), "uk", gomock.Len(1)).Return(1, nil)

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/keys/import?format=uk", body)
		rr := testutil.DoRequest(s.router, s.authorised(req))
		testutil.AssertStatusOK(s.T(), rr)
		s.JSONEq(`{"imported":1,"skipped":0,"format":"uk"}`, rr.Body.String())
	})

	s.Run("rsa keys are skipped and the rest imported", func() {
		rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
		s.Require().NoError(err)
		rsaDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
		s.Require().NoError(err)
		mixed := `{"eu_keys":{
			"a2lkMQ==":[{"subjectPk":"` + base64.StdEncoding.EncodeToString(der) + `"}],
			"cnNha2lk":[{"subjectPk":"` + base64.StdEncoding.EncodeToString(rsaDER) + `"}]
		}}`
		s.service.EXPECT().Import(gomock.Any(), "nl", gomock.Len(1)).Return(1, nil)

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/keys/import?format=nl", mixed)
		rr := testutil.DoRequest(s.router, s.authorised(req))
		testutil.AssertStatusOK(s.T(), rr)
		s.JSONEq(`{"imported":1,"skipped":1,"format":"nl"}`, rr.Body.String())
	})

	s.Run("unknown format", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/keys/import?format=xml", body)
		rr := testutil.DoRequest(s.router, s.authorised(req))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("malformed list", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/keys/import", `{"not":"a list"}`)
		rr := testutil.DoRequest(s.router, s.authorised(req))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("store failure hides details", func() {
		s.service.EXPECT().Import(gomock.Any(), "uk", gomock.Any()).Return(0, errors.New("db down"))

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/keys/import", body)
		rr := testutil.DoRequest(s.router, s.authorised(req))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "db down")
	})
}

func (s *KeyHandlerSuite) TestDelete() {
	s.Run("removes by url-safe kid", func() {
		s.service.EXPECT().Remove(gomock.Any(), []byte("kid1")).Return(nil)

		rr := testutil.DoRequest(s.router, s.authorised(testutil.NewRequest(s.T(), http.MethodDelete, "/admin/keys/a2lkMQ")))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("unknown kid", func() {
		s.service.EXPECT().Remove(gomock.Any(), []byte("kid1")).Return(sentinel.ErrNotFound)

		rr := testutil.DoRequest(s.router, s.authorised(testutil.NewRequest(s.T(), http.MethodDelete, "/admin/keys/a2lkMQ")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("undecodable kid", func() {
		rr := testutil.DoRequest(s.router, s.authorised(testutil.NewRequest(s.T(), http.MethodDelete, "/admin/keys/"+strings.Repeat("!", 4))))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}
