package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/hoststore"
	"github.com/blinky-mon/blinky/internal/models"
	"github.com/blinky-mon/blinky/internal/protocol"
	"github.com/blinky-mon/blinky/internal/version"
)

// Collector ties the WebSocket ingest, the host store, the archive and the
// HTTP API together.
type Collector struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *hoststore.Store
	ws      *WSServer
	metrics *Metrics
	archive *Archive
	http    *http.Server
	engine  *gin.Engine
}

// New builds a collector from cfg. The archive is opened here so a bad
// db_path fails before any port is bound.
func New(cfg *config.Config, log *zap.Logger) (*Collector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Collector{
		cfg:     cfg,
		log:     log,
		store:   hoststore.New(version.Current().String()),
		metrics: NewMetrics(),
	}

	c.ws = NewWSServer(fmt.Sprintf(":%d", cfg.Server.WSPort), log.Named("ws"))
	c.ws.OnClientConnected = c.clientConnected
	c.ws.OnMessage = c.HandleMessage
	c.ws.OnClientDisconnected = c.clientDisconnected
	c.ws.OnFrameError = func(Client, error) { c.metrics.DecodeErrors.Inc() }

	if cfg.Server.DBPath != "" {
		a, err := OpenArchive(cfg.Server.DBPath, log.Named("archive"))
		if err != nil {
			return nil, err
		}
		c.archive = a
	}

	c.engine = gin.New()
	c.engine.Use(gin.Recovery())
	NewAPI(c.store, c.ws, c.archive, c.metrics).RegisterRoutes(c.engine)
	c.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           c.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return c, nil
}

// Run is a convenience wrapper around New and (*Collector).Run.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	c, err := New(cfg, log)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

func (c *Collector) Store() *hoststore.Store { return c.store }
func (c *Collector) WS() *WSServer           { return c.ws }
func (c *Collector) Handler() http.Handler   { return c.engine }

// Run serves until ctx is cancelled or a listener fails.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.ws.Start(); err != nil {
		c.closeArchive()
		return err
	}
	ln, err := net.Listen("tcp", c.http.Addr)
	if err != nil {
		c.ws.Stop()
		c.closeArchive()
		return fmt.Errorf("http listen %s: %w", c.http.Addr, err)
	}
	c.log.Info("collector started",
		zap.String("version", version.Current().String()),
		zap.String("ws", c.ws.Addr().String()),
		zap.String("http", ln.Addr().String()),
		zap.Bool("archive", c.archive != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.http.Shutdown(shutdownCtx)
		c.ws.Stop()
		return nil
	})
	g.Go(func() error {
		c.every(gctx, seconds(c.cfg.Server.CleanupInterval), c.cleanup)
		return nil
	})
	if c.archive != nil {
		g.Go(func() error {
			c.every(gctx, seconds(c.cfg.Server.ArchiveInterval), c.archiveOnce)
			return nil
		})
	}

	err = g.Wait()
	if c.archive != nil {
		c.archiveOnce()
		c.closeArchive()
	}
	c.log.Info("collector stopped")
	return err
}

// HandleMessage dispatches one frame payload from client.
func (c *Collector) HandleMessage(client Client, payload []byte) {
	c.metrics.FramesReceived.Inc()
	if !protocol.WellFormed(payload) {
		c.metrics.DecodeErrors.Inc()
		c.log.Debug("malformed envelope", zap.String("client", client.ID), zap.Int("bytes", len(payload)))
	}
	env := protocol.Deserialize(payload)
	c.metrics.Envelopes.WithLabelValues(env.Type.String()).Inc()

	switch env.Type {
	case protocol.Metrics:
		snap, err := models.FromJSON([]byte(env.Payload))
		if err != nil {
			c.metrics.DecodeErrors.Inc()
			c.log.Warn("dropping metrics", zap.String("host", env.Hostname), zap.Error(err))
			return
		}
		if env.Hostname != "" {
			snap.Hostname = env.Hostname
		}
		if env.Timestamp != 0 {
			snap.Timestamp = env.Timestamp
		}
		if c.store.HistoryLen(snap.Hostname) == 0 {
			c.checkAgentVersion(snap.Hostname, snap.AgentVersion)
		}
		c.store.StoreMetrics(snap, snap.AgentVersion)
		c.metrics.SetHosts(c.store.Counts())
		c.log.Debug("metrics stored", zap.String("host", snap.Hostname))

	case protocol.Heartbeat:
		if !c.store.Touch(env.Hostname, env.Timestamp) {
			c.log.Debug("heartbeat from unknown host", zap.String("host", env.Hostname))
		}

	default:
		c.log.Debug("ignoring envelope",
			zap.String("type", env.Type.String()),
			zap.String("host", env.Hostname),
		)
	}
}

// checkAgentVersion logs once per host when its agent runs a different
// major version, or a newer release, than this collector.
func (c *Collector) checkAgentVersion(host, agentVersion string) {
	if agentVersion == "" {
		return
	}
	agent, cur := version.Parse(agentVersion), version.Current()
	switch {
	case !cur.IsCompatible(agent):
		c.log.Warn("incompatible agent version",
			zap.String("host", host),
			zap.String("agent", agent.String()),
			zap.String("collector", cur.String()),
		)
	case agent.IsNewer(cur):
		c.log.Info("agent is newer than collector",
			zap.String("host", host),
			zap.String("agent", agent.String()),
			zap.String("collector", cur.String()),
		)
	}
}

func (c *Collector) clientConnected(Client) {
	c.metrics.ConnectedClients.Inc()
}

// clientDisconnected marks the client's host offline. Clients keep the
// hostname "unknown" for their lifetime, so in practice staleness is what
// takes a host offline.
func (c *Collector) clientDisconnected(client Client) {
	c.metrics.ConnectedClients.Dec()
	c.store.MarkHostOffline(client.Hostname)
}

func (c *Collector) cleanup() {
	removed := c.store.CleanupOldData(seconds(c.cfg.Server.MaxAge))
	total, online := c.store.Counts()
	c.metrics.SetHosts(total, online)
	if removed > 0 {
		c.log.Debug("cleanup", zap.Int("removed", removed), zap.Int("hosts_online", online))
	}
}

// closeArchive is safe to call when archiving is disabled.
func (c *Collector) closeArchive() {
	if c.archive == nil {
		return
	}
	if err := c.archive.Close(); err != nil {
		c.log.Warn("closing archive", zap.Error(err))
	}
}

func (c *Collector) archiveOnce() {
	n, err := c.archive.Snapshot(c.store)
	if err != nil {
		c.log.Warn("archive snapshot", zap.Int("written", n), zap.Error(err))
		return
	}
	c.log.Debug("archive snapshot", zap.Int("written", n))
}

// every calls fn each interval until ctx is done.
func (c *Collector) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
