package transport

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/middleware"
	"catalog-showcase/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ImageRequest is the payload for creating an image
type ImageRequest struct {
	Name     string  `json:"name" validate:"notblank"`
	Price    float64 `json:"price" validate:"gt=0"`
	ImageURL string  `json:"imageUrl" validate:"required,url"`
}

func (r ImageRequest) input() domain.ImageInput {
	return domain.ImageInput{Name: r.Name, Price: r.Price, ImageURL: r.ImageURL}
}

// CreateCatalogRequest is the admin form payload: a name plus optional
// initial images
type CreateCatalogRequest struct {
	Name   string         `json:"name" validate:"notblank"`
	Images []ImageRequest `json:"images" validate:"dive"`
}

// UpdateCatalogRequest carries the fields to merge into a catalog
type UpdateCatalogRequest struct {
	Name *string `json:"name"`
}

// UpdateImageRequest carries the fields to merge into an image
type UpdateImageRequest struct {
	Name     *string  `json:"name"`
	Price    *float64 `json:"price"`
	ImageURL *string  `json:"imageUrl"`
}

// CatalogHandler serves the public catalog views and the admin API
type CatalogHandler struct {
	service   service.CatalogService
	maxUpload int64
	logger    *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler. maxUpload bounds
// multipart uploads in bytes.
func NewCatalogHandler(catalogService service.CatalogService, maxUpload int64, logger *zap.Logger) *CatalogHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &CatalogHandler{
		service:   catalogService,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// RegisterRoutes registers the public routes and, behind adminMiddleware,
// the admin routes
func (h *CatalogHandler) RegisterRoutes(r chi.Router, adminMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/api/catalogs", func(r chi.Router) {
		r.Get("/", h.ListCatalogs)
		r.Get("/events", h.StreamCatalogs)
		r.Get("/{catalogID}", h.GetCatalog)
	})

	r.Route("/api/admin/catalogs", func(r chi.Router) {
		r.Use(adminMiddleware...)

		r.Get("/", h.ListCatalogs)
		r.Post("/", h.CreateCatalog)

		r.Route("/{catalogID}", func(r chi.Router) {
			r.Get("/", h.GetCatalog)
			r.Patch("/", h.UpdateCatalog)
			r.Delete("/", h.DeleteCatalog)

			r.Route("/images", func(r chi.Router) {
				r.Get("/", h.ListImages)
				r.Post("/", h.CreateImage)
				r.Post("/upload", h.UploadImage)
				r.Get("/{imageID}", h.GetImage)
				r.Patch("/{imageID}", h.UpdateImage)
				r.Delete("/{imageID}", h.DeleteImage)
			})
		})
	})
}

// ListCatalogs returns every catalog in backend order
func (h *CatalogHandler) ListCatalogs(w http.ResponseWriter, r *http.Request) {
	middleware.RespondWithJSON(w, http.StatusOK, h.service.ListCatalogs())
}

func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCatalog(chi.URLParam(r, "catalogID"))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, c)
}

// CreateCatalog creates a catalog and its initial images in order. When an
// image write fails after the catalog exists, the error is returned and the
// catalog is kept.
func (h *CatalogHandler) CreateCatalog(w http.ResponseWriter, r *http.Request) {
	var req CreateCatalogRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		respondWithDecodeError(w, h.logger, err)
		return
	}

	inputs := make([]domain.ImageInput, 0, len(req.Images))
	for _, img := range req.Images {
		inputs = append(inputs, img.input())
	}

	c, err := h.service.CreateCatalogWithImages(r.Context(), req.Name, inputs)
	if err != nil {
		if c != nil {
			h.logger.Warn("Catalog created without all of its images",
				zap.String("catalog_id", c.ID),
				zap.Int("created", len(c.Images)),
				zap.Int("requested", len(inputs)),
			)
		}
		respondWithServiceError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, c)
}

func (h *CatalogHandler) UpdateCatalog(w http.ResponseWriter, r *http.Request) {
	var req UpdateCatalogRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		respondWithDecodeError(w, h.logger, err)
		return
	}

	if err := h.service.UpdateCatalog(r.Context(), chi.URLParam(r, "catalogID"), domain.CatalogPatch{Name: req.Name}); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) DeleteCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCatalog(r.Context(), chi.URLParam(r, "catalogID")); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.service.ListImages(chi.URLParam(r, "catalogID"))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, images)
}

func (h *CatalogHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.service.GetImage(chi.URLParam(r, "catalogID"), chi.URLParam(r, "imageID"))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, img)
}

func (h *CatalogHandler) CreateImage(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		respondWithDecodeError(w, h.logger, err)
		return
	}

	img, err := h.service.CreateImage(r.Context(), chi.URLParam(r, "catalogID"), req.input())
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, img)
}

// UploadImage accepts a multipart form with file, name and price fields
func (h *CatalogHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	price, err := strconv.ParseFloat(r.FormValue("price"), 64)
	if err != nil {
		middleware.RespondWithValidationErrors(w, []domain.FieldError{{Field: "price", Message: "Must be a number"}})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.RespondWithValidationErrors(w, []domain.FieldError{{Field: "file", Message: "This field is required"}})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	img, err := h.service.UploadImage(r.Context(), chi.URLParam(r, "catalogID"), service.UploadRequest{
		Name:     r.FormValue("name"),
		Price:    price,
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, img)
}

func (h *CatalogHandler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	var req UpdateImageRequest
	if err := middleware.DecodeAndValidate(w, r, &req); err != nil {
		respondWithDecodeError(w, h.logger, err)
		return
	}

	patch := domain.ImagePatch{Name: req.Name, Price: req.Price, ImageURL: req.ImageURL}
	if err := h.service.UpdateImage(r.Context(), chi.URLParam(r, "catalogID"), chi.URLParam(r, "imageID"), patch); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteImage(r.Context(), chi.URLParam(r, "catalogID"), chi.URLParam(r, "imageID")); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
