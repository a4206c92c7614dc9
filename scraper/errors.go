package scraper

import (
	"context"
	"errors"

	"github.com/use-agent/changehub/models"
)

// categorizeError wraps raw errors into typed HarvestErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.HarvestError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewHarvestError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}
