package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/hydradns/internal/answercache"
	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/forwarder"
	"github.com/jroosing/hydradns/internal/negcache"
	"github.com/jroosing/hydradns/internal/queryengine"
	"github.com/jroosing/hydradns/internal/recursive"
	"github.com/jroosing/hydradns/internal/ttlalchemy"
)

// Runner orchestrates the DNS server startup, configuration, and shutdown.
type Runner struct {
	logger *slog.Logger
	stats  *DNSStats
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, stats: NewDNSStats()}
}

// DNSStats returns the runner's query statistics collector.
func (r *Runner) DNSStats() *DNSStats {
	return r.stats
}

// Run starts the DNS server with the given configuration.
//
// Server lifecycle:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Build the cache, recursion and forwarding stack
//  3. Wire the query engine and start UDP and optionally TCP servers
//  4. Wait for shutdown signal (SIGINT/SIGTERM)
//  5. Gracefully stop servers with timeout
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return r.RunWithContext(ctx, cfg)
}

// RunWithContext is like Run but takes an existing context, useful when the
// caller manages its own signal handling.
func (r *Runner) RunWithContext(ctx context.Context, cfg *config.Config) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	desiredProcs := r.configureRuntime(cfg)
	maxConc := r.calculateMaxConcurrency(cfg, desiredProcs)
	upPool := r.calculateUpstreamPoolSize(cfg, maxConc)

	engine, closeFn, err := r.buildEngine(ctx, cfg, upPool)
	if err != nil {
		return err
	}
	defer closeFn()

	h := &QueryHandler{Logger: r.logger, Engine: engine, Stats: r.stats, Timeout: 4 * time.Second}
	limiter := NewRateLimiterFromConfig(cfg.RateLimit)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, maxConc, upPool)

	udp := &UDPServer{Logger: r.logger, Handler: h, Limiter: limiter, WorkersPerSocket: maxConc}
	var tcp *TCPServer
	if cfg.Server.EnableTCP {
		tcp = &TCPServer{Logger: r.logger, Handler: h}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Run(ctx, addr) }()
	if tcp != nil {
		go func() { errCh <- tcp.Run(ctx, addr) }()
	}

	select {
	case <-ctx.Done():
	case runErr := <-errCh:
		if runErr != nil {
			cancelRun()
			return runErr
		}
	}

	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	if tcp != nil {
		_ = tcp.Stop(stopTimeout)
	}
	return nil
}

// buildEngine wires the answer cache, negative cache, recursive resolver
// and upstream forwarder into a queryengine.Engine per the loaded config.
func (r *Runner) buildEngine(ctx context.Context, cfg *config.Config, upPool int) (*queryengine.Engine, func(), error) {
	answers := answercache.New(answercache.Config{
		MaxEntries:  cfg.Cache.MaxEntries,
		StaleWindow: time.Duration(cfg.Cache.StaleWindowSec) * time.Second,
		Alchemy: ttlalchemy.Config{
			Enabled:          cfg.TTLAlchemy.Enabled,
			MinTTL:           cfg.TTLAlchemy.MinTTL,
			MaxTTL:           cfg.TTLAlchemy.MaxTTL,
			FrequencyWeight:  cfg.TTLAlchemy.FrequencyWeight,
			VolatilityWeight: cfg.TTLAlchemy.VolatilityWeight,
		},
	})
	negatives := negcache.New()

	var resolver *recursive.Resolver
	if cfg.Recursive.Enabled {
		roots, err := r.loadRootHints(cfg.Recursive.RootHintsPath)
		if err != nil {
			return nil, nil, err
		}
		baseTimeout, perr := time.ParseDuration(cfg.Recursive.BaseTimeout)
		if perr != nil || baseTimeout <= 0 {
			baseTimeout = recursive.DefaultConfig().BaseTimeout
		}
		resolver = recursive.New(roots, recursive.Config{
			MaxDepth:     cfg.Recursive.MaxDepth,
			BaseTimeout:  baseTimeout,
			ParallelRace: recursive.DefaultConfig().ParallelRace,
		})
	}

	fwdTimeout, ferr := time.ParseDuration(cfg.Upstream.Timeout)
	if ferr != nil || fwdTimeout <= 0 {
		fwdTimeout = forwarder.DefaultConfig().Timeout
	}
	fwd := forwarder.New(cfg.Upstream.Servers, forwarder.Config{
		RaceCount:     cfg.Upstream.RaceCount,
		Timeout:       fwdTimeout,
		MinTrustScore: cfg.Upstream.MinTrustScore,
	})
	trustCtx, stopTrust := context.WithCancel(ctx)
	fwd.StartTrustRecalc(trustCtx, 0)

	zones := make([]queryengine.LocalZone, 0, len(cfg.LocalZones))
	for _, z := range cfg.LocalZones {
		zones = append(zones, queryengine.LocalZone{Suffix: z.Suffix, Upstream: z.Upstream})
	}

	engine := queryengine.New(queryengine.Config{
		ChaosRate:           cfg.Chaos.Rate,
		LocalZones:          zones,
		NegativeSpeculative: cfg.Negative.SpeculativeEnabled,
	}, answers, negatives, resolver, fwd, r.logger)

	_ = upPool // socket pool sizing is handled internally by forwarder/recursive
	closeFn := func() {
		stopTrust()
		fwd.Close()
		if resolver != nil {
			resolver.Close()
		}
	}
	return engine, closeFn, nil
}

func (r *Runner) loadRootHints(path string) ([]recursive.RootServer, error) {
	if path == "" {
		return recursive.DefaultRootServers(), nil
	}
	roots, err := recursive.LoadRootHints(path)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to load root hints, falling back to built-in defaults", "path", path, "err", err)
		}
		return recursive.DefaultRootServers(), nil
	}
	return roots, nil
}

// configureRuntime sets GOMAXPROCS based on worker configuration.
// Workers can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
		if maxConc < 1 {
			maxConc = 1
		}
	}
	return maxConc
}

// calculateUpstreamPoolSize determines the UDP connection pool size for upstream queries.
func (r *Runner) calculateUpstreamPoolSize(cfg *config.Config, maxConc int) int {
	upPool := cfg.Server.UpstreamSocketPoolSize
	if upPool <= 0 {
		upPool = maxConc
		if upPool < 64 {
			upPool = 64
		}
		if upPool > 1024 {
			upPool = 1024
		}
	}
	return upPool
}

// logStartup logs server configuration at startup.
func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc, upPool int) {
	if r.logger != nil {
		r.logger.Info(
			"dns listening",
			"addr", addr,
			"udp", true,
			"tcp", cfg.Server.EnableTCP,
			"upstreams", cfg.Upstream.Servers,
			"recursive", cfg.Recursive.Enabled,
			"max_concurrency", maxConc,
			"upstream_pool", upPool,
		)
	}
}
