// Package server is the Blinky collector: it accepts agent streams over
// WebSocket, folds them into the host store and serves the result over a
// Gin HTTP API.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/blinky-mon/blinky/internal/hoststore"
	"github.com/blinky-mon/blinky/internal/version"
)

// defaultHistoryLimit caps /history responses when no limit is given.
const defaultHistoryLimit = 100

// API serves the collector's read-only HTTP surface.
type API struct {
	store   *hoststore.Store
	ws      *WSServer
	archive *Archive // nil when archiving is disabled
	metrics *Metrics
}

func NewAPI(store *hoststore.Store, wsSrv *WSServer, archive *Archive, metrics *Metrics) *API {
	return &API{store: store, ws: wsSrv, archive: archive, metrics: metrics}
}

// hostView is one entry of GET /api/metrics.
type hostView struct {
	Hostname        string `json:"hostname"`
	Online          bool   `json:"online"`
	AgentVersion    string `json:"agent_version"`
	VersionMismatch bool   `json:"version_mismatch"`
	LastUpdate      uint64 `json:"last_update"`
	Metrics         any    `json:"metrics"`
	HistoryLen      *int   `json:"history_len,omitempty"`
}

func viewOf(rec hoststore.HostRecord) hostView {
	return hostView{
		Hostname:        rec.Hostname,
		Online:          rec.Online,
		AgentVersion:    rec.AgentVersion,
		VersionMismatch: rec.VersionMismatch,
		LastUpdate:      rec.LastUpdate,
		Metrics:         rec.Latest,
	}
}

// RegisterRoutes wires the collector API on r.
//
//	GET /api/metrics                      all hosts with their latest snapshot
//	GET /api/hosts/:hostname              one host
//	GET /api/hosts/:hostname/history      retained snapshots, oldest first
//	GET /api/clients                      connected agents
//	GET /api/archive                      archived host summaries
//	GET /api/archive/:hostname            last archived snapshot of one host
//	GET /healthz
//	GET /metrics                          Prometheus
func (a *API) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/metrics", a.handleMetrics)
		api.GET("/hosts/:hostname", a.handleHost)
		api.GET("/hosts/:hostname/history", a.handleHistory)
		api.GET("/clients", a.handleClients)
		api.GET("/archive", a.handleArchive)
		api.GET("/archive/:hostname", a.handleArchivedHost)
	}

	r.GET("/healthz", a.handleHealthz)
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{})))
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleMetrics returns every known host.
//
//	GET /api/metrics
//	→ { "hosts": [ { hostname, online, agent_version, version_mismatch, last_update, metrics } ] }
func (a *API) handleMetrics(c *gin.Context) {
	recs := a.store.GetAllHosts()
	hosts := make([]hostView, 0, len(recs))
	for _, rec := range recs {
		hosts = append(hosts, viewOf(rec))
	}
	c.JSON(http.StatusOK, gin.H{"hosts": hosts})
}

func (a *API) handleHost(c *gin.Context) {
	name := c.Param("hostname")
	rec, ok := a.store.GetHostMetrics(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown host"})
		return
	}
	v := viewOf(rec)
	n := len(rec.History)
	v.HistoryLen = &n
	c.JSON(http.StatusOK, v)
}

// handleHistory returns up to limit snapshots, newest last.
//
//	GET /api/hosts/:hostname/history?limit=N
func (a *API) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, hoststore.HistoryCap)
	}

	name := c.Param("hostname")
	hist, ok := a.store.GetHistory(name, limit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown host"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hostname": name, "count": len(hist), "history": hist})
}

func (a *API) handleClients(c *gin.Context) {
	clients := []Client{}
	if a.ws != nil {
		clients = append(clients, a.ws.Clients()...)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(clients), "clients": clients})
}

func (a *API) handleArchive(c *gin.Context) {
	if a.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive disabled"})
		return
	}
	rows, err := a.archive.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": rows})
}

// handleArchivedHost serves the snapshot last written to the archive, which
// outlives a collector restart while the live store does not.
func (a *API) handleArchivedHost(c *gin.Context) {
	if a.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive disabled"})
		return
	}
	snap, err := a.archive.Latest(c.Param("hostname"))
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown host"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, snap)
	}
}

func (a *API) handleHealthz(c *gin.Context) {
	total, online := a.store.Counts()
	clients := 0
	if a.ws != nil {
		clients = a.ws.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      version.Current().String(),
		"time":         time.Now().UTC(),
		"hosts":        total,
		"hosts_online": online,
		"clients":      clients,
	})
}
