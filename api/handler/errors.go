package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/changehub/models"
)

// respondError maps an error to the correct HTTP status code and writes a
// structured JSON error response.
func respondError(c *gin.Context, err error) {
	he := models.AsHarvestError(err)
	c.JSON(mapErrorToStatus(he), models.ErrorResponse{Error: he.ToDetail()})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.HarvestError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeFetchFailed, models.ErrCodeSinkFailed:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized, models.ErrCodeAuthFailed:
		return http.StatusUnauthorized // 401
	case models.ErrCodeBusy:
		return http.StatusConflict // 409
	case models.ErrCodeListNotFound, models.ErrCodeTabNotFound:
		return http.StatusNotFound // 404
	default:
		return http.StatusInternalServerError // 500
	}
}
