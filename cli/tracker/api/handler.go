package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/towfleet/tracking/cli/tracker/cache"
	"github.com/towfleet/tracking/cli/tracker/model"
	"github.com/towfleet/tracking/cli/tracker/repository"
)

const (
	historyCacheTTL     = 5 * time.Minute
	activeCountCacheTTL = 15 * time.Minute
)

// Updater is the ingestion pipeline behind the location endpoint.
type Updater interface {
	Run(ctx context.Context, report model.LocationReport) bool
}

type Handler struct {
	Repository *repository.Locations
	LastKnown  *cache.LastKnown
	Updater    Updater

	// Pages is the generic result cache for history and count queries; may
	// be nil.
	Pages cache.Store
}

func NewHandler(repo *repository.Locations, lastKnown *cache.LastKnown, updater Updater, pages cache.Store) *Handler {
	return &Handler{Repository: repo, LastKnown: lastKnown, Updater: updater, Pages: pages}
}

// UpdateLocation accepts one position report. The response only ever says
// whether the report was accepted; internal failures stay internal.
func (h *Handler) UpdateLocation(c *gin.Context) {
	var report model.LocationReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := h.Updater.Run(c.Request.Context(), report)
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

// GetLastLocation serves the most recent fix for a vehicle, cache tiers
// first, durable storage as fallback.
func (h *Handler) GetLastLocation(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	if e, ok := h.LastKnown.Lookup(c.Request.Context(), vehicleID); ok {
		c.JSON(http.StatusOK, e)
		return
	}

	rec, err := h.Repository.GetLastKnownLocation(vehicleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no location for vehicle"})
		return
	}

	h.LastKnown.Promote(c.Request.Context(), rec.EnrichedReport)
	c.JSON(http.StatusOK, rec.EnrichedReport)
}

// GetHistory serves one page of a vehicle's track, serving repeated queries
// from the page cache.
func (h *Handler) GetHistory(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	start, err := parseTimeParam(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start: %v", err)})
		return
	}
	end, err := parseTimeParam(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end: %v", err)})
		return
	}
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 100)

	key := fmt.Sprintf("history:%s:%d:%d:%d:%d", vehicleID, start.UnixMilli(), end.UnixMilli(), page, limit)
	if cached, ok := h.cachedPage(c.Request.Context(), key); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	result, err := h.Repository.GetLocationHistory(vehicleID, start, end, page, limit)
	if err != nil {
		log.Errorf("Failed to get location history for vehicle %s: %v", vehicleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.storePage(c.Request.Context(), key, result, historyCacheTTL)
	c.JSON(http.StatusOK, result)
}

// GetActiveVehicleCount serves the distinct count of vehicles reporting
// within the last N hours (default 1).
func (h *Handler) GetActiveVehicleCount(c *gin.Context) {
	hours := intQuery(c, "hours", 1)

	key := fmt.Sprintf("activeVehicles:%dh", hours)
	if h.Pages != nil {
		if raw, ok, err := h.Pages.Get(c.Request.Context(), key); err == nil && ok {
			var count int
			if json.Unmarshal(raw, &count) == nil {
				c.JSON(http.StatusOK, gin.H{"count": count})
				return
			}
		}
	}

	count, err := h.Repository.GetActiveVehicleCount(time.Now().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.Pages != nil {
		if raw, err := json.Marshal(count); err == nil {
			h.Pages.Set(c.Request.Context(), key, raw, activeCountCacheTTL)
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) cachedPage(ctx context.Context, key string) (repository.HistoryPage, bool) {
	if h.Pages == nil {
		return repository.HistoryPage{}, false
	}
	raw, ok, err := h.Pages.Get(ctx, key)
	if err != nil || !ok {
		return repository.HistoryPage{}, false
	}
	var page repository.HistoryPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return repository.HistoryPage{}, false
	}
	return page, true
}

func (h *Handler) storePage(ctx context.Context, key string, page repository.HistoryPage, ttl time.Duration) {
	if h.Pages == nil {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := h.Pages.Set(ctx, key, raw, ttl); err != nil {
		log.Debugf("Failed to cache %s: %v", key, err)
	}
}

// parseTimeParam accepts epoch milliseconds or RFC3339.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
