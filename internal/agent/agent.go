package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blinky-mon/blinky/internal/config"
	"github.com/blinky-mon/blinky/internal/localstore"
	"github.com/blinky-mon/blinky/internal/models"
	"github.com/blinky-mon/blinky/internal/protocol"
	"github.com/blinky-mon/blinky/internal/ws"
)

// Sampler produces one snapshot per call. *Collector is the production one.
type Sampler interface {
	Collect(ctx context.Context) *models.Snapshot
}

// hostnamer is implemented by samplers that know the host they describe.
type hostnamer interface {
	Hostname(ctx context.Context) string
}

// Agent owns the collection loop and, depending on mode, the local log,
// the push client and the pull API.
type Agent struct {
	cfg      *config.Config
	log      *zap.Logger
	interval time.Duration
	sampler  Sampler
	now      func() time.Time

	store  *localstore.Store // nil unless storage is enabled
	client *Client           // nil unless push is enabled
	policy *ReconnectPolicy
	health *Health
	api    *http.Server // nil unless the pull API is enabled
}

// Option configures an Agent.
type Option func(*Agent)

// WithSampler replaces the gopsutil collector, for tests.
func WithSampler(s Sampler) Option {
	return func(a *Agent) { a.sampler = s }
}

// WithInterval overrides agent.interval, for tests.
func WithInterval(d time.Duration) Option {
	return func(a *Agent) { a.interval = d }
}

// New wires an agent from cfg. It does not touch the network.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Agent{
		cfg:      cfg,
		log:      log,
		interval: time.Duration(cfg.Agent.Interval) * time.Second,
		now:      time.Now,
		health:   NewHealth(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sampler == nil {
		a.sampler = NewCollector(cfg.Agent.Hostname, MonitorsFromConfig(cfg.Agent.Monitors), log.Named("monitor"))
	}

	if cfg.StorageEnabled() {
		a.store = localstore.New(cfg.Storage.Path, cfg.Storage.MaxFiles,
			int64(cfg.Storage.MaxFileSizeMB)<<20, localstore.WithLogger(log.Named("localstore")))
	}
	if cfg.PushEnabled() {
		a.client = NewClient(cfg.Collector.Host, cfg.Collector.Port, time.Duration(cfg.Collector.Timeout)*time.Second)
		a.client.OnError = func(err error) {
			a.health.SetStreamConnected(false)
			a.health.MarkPushFailure()
		}
		a.policy = NewReconnectPolicy(cfg.Collector.Reconnect)
	}
	if cfg.APIEnabled() && a.store != nil {
		engine := gin.New()
		engine.Use(gin.Recovery())
		NewAPI(a.store, a.health, a.hostname()).RegisterRoutes(engine)
		a.api = &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.API.Port)),
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a
}

// hostname resolves the name the pull API reports, matching the one the
// sampler stamps on snapshots.
func (a *Agent) hostname() string {
	if h, ok := a.sampler.(hostnamer); ok {
		if name := h.Hostname(context.Background()); name != "" {
			return name
		}
	}
	if a.cfg.Agent.Hostname != "" {
		return a.cfg.Agent.Hostname
	}
	name, _ := os.Hostname()
	return name
}

// Health exposes the live status.
func (a *Agent) Health() *Health { return a.health }

// Store returns the local log, or nil when storage is disabled.
func (a *Agent) Store() *localstore.Store { return a.store }

// Run samples every interval until ctx is cancelled, and serves the pull API
// alongside when enabled. Per-tick errors are logged, never returned.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting",
		zap.String("mode", a.cfg.Agent.Mode),
		zap.Duration("interval", a.interval),
		zap.Bool("storage", a.store != nil),
		zap.Bool("push", a.client != nil),
		zap.Bool("api", a.api != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runCollectLoop(gctx)
	})
	if a.api != nil {
		g.Go(func() error {
			return a.runAPI(gctx)
		})
	}

	err := g.Wait()
	if a.client != nil {
		_ = a.client.Disconnect()
		a.health.SetStreamConnected(false)
	}
	a.log.Info("agent stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runCollectLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) runAPI(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.api.Addr)
	if err != nil {
		return fmt.Errorf("agent api listen %s: %w", a.api.Addr, err)
	}
	a.log.Info("pull api listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.api.Shutdown(shutdownCtx)
	}()
	if err := a.api.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("agent api: %w", err)
	}
	return nil
}

// tick runs one collection cycle: sample, store locally, push.
func (a *Agent) tick(ctx context.Context) {
	snap := a.sampler.Collect(ctx)
	a.health.MarkSample(a.now())

	if a.store != nil && !a.store.Store(snap) {
		a.health.MarkStoreFailure()
		a.log.Warn("failed to store metrics locally", zap.String("path", a.store.Path()))
	}
	if a.client != nil {
		a.push(ctx, snap)
	}
}

// push sends snap if a connection exists or the reconnect policy allows a
// new attempt now. Failed sends drop the sample.
func (a *Agent) push(ctx context.Context, snap *models.Snapshot) {
	if a.policy.Exhausted() {
		return
	}
	now := a.now()
	if !a.client.Connected() {
		if !a.policy.Ready(now) {
			return
		}
		if err := a.client.Connect(ctx); err != nil {
			delay, ok := a.policy.Failed(now)
			if !ok {
				a.health.SetPushAbandoned()
				a.log.Error("giving up on collector after max attempts",
					zap.String("addr", a.client.Addr()), zap.Int("attempts", a.policy.Failures()), zap.Error(err))
				return
			}
			a.log.Warn("collector connect failed",
				zap.String("addr", a.client.Addr()), zap.Int("attempt", a.policy.Failures()),
				zap.Duration("retry_in", delay), zap.Error(err))
			return
		}
		a.policy.Succeeded()
		a.health.SetStreamConnected(true)
		a.log.Info("connected to collector", zap.String("addr", a.client.Addr()))
	}

	payload, err := snap.ToJSON()
	if err != nil {
		a.log.Error("encoding snapshot", zap.Error(err))
		return
	}
	env := protocol.Envelope{
		Type:      protocol.Metrics,
		Timestamp: snap.Timestamp,
		Hostname:  snap.Hostname,
		Payload:   string(payload),
	}
	if err := a.client.SendEnvelope(env); err != nil {
		lvl := a.log.Warn
		if ws.IsExpectedClose(err) {
			lvl = a.log.Debug
		}
		lvl("metrics push failed, sample dropped", zap.Error(err))
		return
	}
	a.health.MarkPush(now)
}
