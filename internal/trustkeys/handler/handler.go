// Package handler exposes the trusted key admin API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hcert/internal/trustkeys/importer"
	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/httputil"
	"hcert/pkg/platform/sentinel"
	"hcert/pkg/requestcontext"
)

const maxTrustListBytes = 4 << 20

// Service defines the interface for trusted key administration.
type Service interface {
	List(ctx context.Context) ([]models.KeySummary, error)
	Import(ctx context.Context, source string, keys []*models.TrustedKey) (int, error)
	Remove(ctx context.Context, kid []byte) error
}

type Handler struct {
	keys   Service
	logger *slog.Logger
}

func New(keys Service, logger *slog.Logger) *Handler {
	return &Handler{keys: keys, logger: logger}
}

// Register mounts the admin routes. Callers wrap r with the admin auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/keys", h.handleList)
	r.Post("/admin/keys/import", h.handleImport)
	r.Delete("/admin/keys/{kid}", h.handleDelete)
}

type listResponse struct {
	Keys []models.KeySummary `json:"keys"`
}

type importResponse struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Format   string `json:"format"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keys, err := h.keys.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list trusted keys",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if keys == nil {
		keys = []models.KeySummary{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Keys: keys})
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	format, err := importer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	list, err := importer.Parse(http.MaxBytesReader(w, r.Body, maxTrustListBytes), format)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected trust list",
			"request_id", requestID,
			"format", format,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	for _, sk := range list.Skipped {
		h.logger.WarnContext(ctx, "trust list key skipped",
			"request_id", requestID,
			"kid", sk.KeyID,
			"reason", sk.Reason,
		)
	}

	n, err := h.keys.Import(ctx, string(format), list.Keys)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to import trusted keys",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "trust list imported",
		"request_id", requestID,
		"admin", requestcontext.AdminSubject(ctx),
		"format", format,
		"count", n,
		"skipped", len(list.Skipped),
	)
	httputil.WriteJSON(w, http.StatusOK, importResponse{Imported: n, Skipped: len(list.Skipped), Format: string(format)})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kid, err := models.DecodeKeyID(chi.URLParam(r, "kid"))
	if err != nil {
		httputil.WriteError(w, fmt.Errorf("%w: %w", sentinel.ErrInvalidInput, err))
		return
	}

	if err := h.keys.Remove(ctx, kid); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			h.logger.ErrorContext(ctx, "failed to remove trusted key",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "trusted key removed",
		"request_id", requestcontext.RequestID(ctx),
		"admin", requestcontext.AdminSubject(ctx),
		"kid", models.EncodeKeyID(kid),
	)
	w.WriteHeader(http.StatusNoContent)
}
