package agent

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blinky-mon/blinky/internal/localstore"
	"github.com/blinky-mon/blinky/internal/version"
)

// defaultLatestCount is what /metrics/latest returns without ?count.
const defaultLatestCount = 100

// API serves the local log over HTTP for pull and hybrid modes.
type API struct {
	store    *localstore.Store
	health   *Health
	hostname string
}

// NewAPI returns the pull API over store.
func NewAPI(store *localstore.Store, health *Health, hostname string) *API {
	return &API{store: store, health: health, hostname: hostname}
}

// RegisterRoutes wires up the pull API on the given engine.
//
//	GET /                      latest snapshot (or {})
//	GET /metrics               latest snapshot (or {})
//	GET /metrics/latest?count  newest N snapshots, most recent first
//	GET /metrics/range?start&end  snapshots with start <= timestamp <= end
//	GET /health
//	GET /stats
func (a *API) RegisterRoutes(r *gin.Engine) {
	r.GET("/", a.handleLatestOne)
	r.GET("/metrics", a.handleLatestOne)
	r.GET("/metrics/latest", a.handleLatest)
	r.GET("/metrics/range", a.handleRange)
	r.GET("/health", a.handleHealth)
	r.GET("/stats", a.handleStats)
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (a *API) handleLatestOne(c *gin.Context) {
	latest := a.store.GetLatest(1)
	if len(latest) == 0 {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, latest[0])
}

// handleLatest returns up to ?count snapshots (default 100).
func (a *API) handleLatest(c *gin.Context) {
	count := defaultLatestCount
	if s := c.Query("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
			return
		}
		count = n
	}
	c.JSON(http.StatusOK, a.store.GetLatest(count))
}

// handleRange returns snapshots in [start, end] (unix seconds). end
// defaults to now.
func (a *API) handleRange(c *gin.Context) {
	start, err := strconv.ParseUint(c.Query("start"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be a unix timestamp"})
		return
	}
	end := uint64(time.Now().Unix())
	if s := c.Query("end"); s != "" {
		if end, err = strconv.ParseUint(s, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be a unix timestamp"})
			return
		}
	}
	if end < start {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end before start"})
		return
	}
	c.JSON(http.StatusOK, a.store.GetRange(start, end))
}

func (a *API) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":   "ok",
		"hostname": a.hostname,
		"version":  version.Current().String(),
		"time":     time.Now().UTC(),
	}
	if a.health != nil {
		for k, v := range a.health.Snapshot() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (a *API) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_metrics": a.store.TotalCount(),
		"files":         a.store.FileCount(),
		"storage_path":  a.store.Path(),
	})
}
