package transport

import (
	"errors"
	"net/http"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/middleware"
	"catalog-showcase/internal/service"

	"go.uber.org/zap"
)

// respondWithServiceError translates the error taxonomy into HTTP
// responses
func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		logger.Debug("Request rejected by validation", zap.Error(err))
		middleware.RespondWithValidationErrors(w, validationErr.Fields)
	case errors.Is(err, domain.ErrNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAssetsDisabled):
		middleware.RespondWithError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, domain.ErrBackend):
		logger.Error("Backend operation failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadGateway, "catalog backend unavailable")
	default:
		logger.Error("Unexpected error", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondWithDecodeError handles failures of middleware.DecodeAndValidate
func respondWithDecodeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	logger.Debug("Request body rejected", zap.Error(err))
	if fields := middleware.FormatValidationErrors(err); len(fields) > 0 {
		middleware.RespondWithValidationErrors(w, fields)
		return
	}
	middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
}
