package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/pipeline"
)

// WhatsNew returns a handler for GET /api/v1/whatsnew.
//
// Query parameters:
//
//	month – keep only items of this month, e.g. "March 2025"
func WhatsNew(src pipeline.WhatsNewSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := src.Get(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}

		if month := c.Query("month"); month != "" {
			filtered := items[:0:0]
			for _, it := range items {
				if it.Month == month {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
		if items == nil {
			items = []models.WhatsNewItem{}
		}
		c.JSON(http.StatusOK, models.WhatsNewResponse{Success: true, Count: len(items), Items: items})
	}
}
