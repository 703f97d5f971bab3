// Package handler exposes the certificate decode and verify endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/display"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/service"
	"hcert/internal/certificate/validity"
	keymodels "hcert/internal/trustkeys/models"
	"hcert/pkg/platform/httputil"
	"hcert/pkg/platform/sentinel"
	"hcert/pkg/requestcontext"
)

const maxRequestBytes = 1 << 20

// Service defines the certificate operations the handler needs.
type Service interface {
	DecodeAndBuild(ctx context.Context, raw string) (*models.Certificate, error)
	Check(ctx context.Context, raw string) (*service.Result, error)
	CheckBatch(ctx context.Context, raws []string) ([]service.BatchItem, error)
}

type Handler struct {
	certs  Service
	logger *slog.Logger
}

func New(certs Service, logger *slog.Logger) *Handler {
	return &Handler{certs: certs, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates/decode", h.handleDecode)
	r.Post("/certificates/verify", h.handleVerify)
	r.Post("/certificates/verify/batch", h.handleVerifyBatch)
}

type scanRequest struct {
	QR string `json:"qr"`
}

type batchRequest struct {
	QRs []string `json:"qrs"`
}

type decodeResponse struct {
	Certificate *models.Certificate `json:"certificate"`
	KeyID       string              `json:"kid,omitempty"`
	Algorithm   string              `json:"alg"`
}

type verifyResponse struct {
	Verdict     validity.Verdict    `json:"verdict"`
	Valid       bool                `json:"valid"`
	Verified    bool                `json:"verified"`
	Status      string              `json:"status"`
	KeyID       string              `json:"kid,omitempty"`
	Certificate *models.Certificate `json:"certificate"`
	Details     []display.Detail    `json:"details"`
}

type certificateError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Field       string `json:"field,omitempty"`
}

type batchResult struct {
	Index int `json:"index"`
	*verifyResponse
	Failure *certificateError `json:"failure,omitempty"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

func (h *Handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scanRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	cert, err := h.certs.DecodeAndBuild(ctx, req.QR)
	if err != nil {
		h.writeFailure(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decodeResponse{
		Certificate: cert,
		KeyID:       encodeKeyID(cert),
		Algorithm:   cert.Signed.AlgorithmName(),
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scanRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	res, err := h.certs.Check(ctx, req.QR)
	if err != nil {
		h.writeFailure(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(res))
}

func (h *Handler) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req batchRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if len(req.QRs) == 0 {
		httputil.WriteError(w, errors.Join(sentinel.ErrInvalidInput, errors.New("qrs must not be empty")))
		return
	}

	items, err := h.certs.CheckBatch(ctx, req.QRs)
	if err != nil {
		h.writeFailure(ctx, w, err)
		return
	}

	out := make([]batchResult, 0, len(items))
	for _, item := range items {
		res := batchResult{Index: item.Index}
		if item.Err != nil {
			res.Failure = toCertificateError(item.Err)
		} else {
			res.verifyResponse = toVerifyResponse(item.Result)
		}
		out = append(out, res)
	}
	httputil.WriteJSON(w, http.StatusOK, batchResponse{Results: out})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := httputil.DecodeJSON(r, dst); err != nil {
		h.logger.DebugContext(r.Context(), "invalid request body",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return false
	}
	return true
}

// writeFailure answers 422 for certificates the pipeline rejected and falls back to the
// generic error mapping for everything else.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	if certerr.KindOf(err) != "" {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, toCertificateError(err))
		return
	}
	if !errors.Is(err, sentinel.ErrInvalidInput) {
		h.logger.ErrorContext(ctx, "certificate check failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func toCertificateError(err error) *certificateError {
	out := &certificateError{
		Error: string(certerr.KindOf(err)),
		Field: certerr.FieldOf(err),
	}
	var ce *certerr.Error
	if errors.As(err, &ce) {
		out.Description = ce.Message
		if out.Description == "" && ce.Err != nil {
			out.Description = ce.Err.Error()
		}
	}
	return out
}

func toVerifyResponse(res *service.Result) *verifyResponse {
	return &verifyResponse{
		Verdict:     res.Verdict,
		Valid:       res.Verdict.IsValid(),
		Verified:    res.Verified,
		Status:      res.Status,
		KeyID:       encodeKeyID(res.Certificate),
		Certificate: res.Certificate,
		Details:     res.Details,
	}
}

func encodeKeyID(cert *models.Certificate) string {
	kid := cert.KeyID()
	if len(kid) == 0 {
		return ""
	}
	return keymodels.EncodeKeyID(kid)
}
