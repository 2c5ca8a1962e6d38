package transport

import (
	"context"
	"net/http"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/imageres"
	"catalog-showcase/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ImageResolver resolves one image URL to what should be displayed for it
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (imageres.Snapshot, error)
}

// ImageHandler exposes image resolution to front ends
type ImageHandler struct {
	resolver ImageResolver
	logger   *zap.Logger
}

func NewImageHandler(resolver ImageResolver, logger *zap.Logger) *ImageHandler {
	return &ImageHandler{resolver: resolver, logger: logger}
}

func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/images/resolve", h.Resolve)
}

// Resolve fetches the url query parameter and reports the resulting state,
// falling back to the placeholder image when it cannot be displayed
func (h *ImageHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		middleware.RespondWithValidationErrors(w, []domain.FieldError{{Field: "url", Message: "This field is required"}})
		return
	}

	snap, err := h.resolver.Resolve(r.Context(), url)
	if err != nil {
		// the client went away before the fetch finished
		h.logger.Debug("Image resolution abandoned", zap.String("url", url), zap.Error(err))
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, snap)
}
