package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/storage"
)

// TemplateHandler serves template downloads from object storage. The route
// is metered: the quota gate runs before the handler and charges the acting
// user one template_download.
//
// Route:
//   - GET /api/v1/templates/{templateID} -> Download
type TemplateHandler struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(store storage.Storage, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers the download route. gate is applied inside
// protect so the quota is charged to an authenticated user.
func (h *TemplateHandler) RegisterRoutes(mux *http.ServeMux, protect, gate func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/templates/{templateID}", protect(gate(http.HandlerFunc(h.Download))))
}

// Download streams one template as an attachment.
func (h *TemplateHandler) Download(w http.ResponseWriter, r *http.Request) {
	const op = "template.download"

	id := r.PathValue("templateID")
	body, info, err := h.store.Get(r.Context(), storage.TemplateKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			ErrorResponse(w, r, h.logger, domain.NotFound(op, "template", id))
			return
		}
		ErrorResponse(w, r, h.logger, domain.StorageUnavailable(err, op, "Template storage unavailable"))
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" || contentType == "application/json" {
		contentType = "image/svg+xml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".svg"))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("template download interrupted", "template_id", id, "error", err)
	}
}
