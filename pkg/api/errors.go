package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mnemora/mnemora/pkg/services"
)

// errorBody is the error payload shape: a stable machine-readable code
// plus a human-readable detail.
func errorBody(code, detail string) gin.H {
	return gin.H{"error": code, "detail": detail}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func (s *Server) mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, errorBody("validation_error", validErr.Error()))
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorBody("invalid_input", err.Error()))
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorBody("company_id_already_exists",
			"Company with this company_id already exists"))
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("company_not_found", "Company not found"))
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
	}
}
