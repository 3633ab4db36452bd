package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-edge/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-edge/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-edge/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-edge/internal/prof"
	"github.com/keithlinneman/linnemanlabs-edge/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-edge/internal/sitehandler"
	"github.com/keithlinneman/linnemanlabs-edge/internal/sitehttp"
	v "github.com/keithlinneman/linnemanlabs-edge/internal/version"
	"github.com/keithlinneman/linnemanlabs-edge/internal/webassets"
)

const envPrefix = "EDGE_"

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// flags, then env, then the optional config file
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if conf.ConfigFile != "" {
		if err := cfg.ApplyFile(flag.CommandLine, conf.ConfigFile); err != nil {
			fmt.Fprintln(os.Stderr, "config file error:", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")

	ctx, cancel := context.WithCancel(log.WithContext(context.Background(), L))
	defer cancel()

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"public_dir", conf.PublicDir,
		"index_file", conf.IndexFile,
		"ratelimit_max", conf.RateLimitMax,
		"ratelimit_window", conf.RateLimitWindow.String(),
		"ratelimit_algorithm", conf.RateLimitAlgorithm,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Warn(ctx, "continuing without profiling")
	}
	defer stopProf()

	// collector runs on localhost, no TLS
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}

	// Rate limiter covers every public request
	algo, _ := ratelimit.ParseAlgorithm(conf.RateLimitAlgorithm)
	limiter := ratelimit.New(ctx,
		ratelimit.WithLimit(conf.RateLimitMax, conf.RateLimitWindow),
		ratelimit.WithAlgorithm(algo),
		ratelimit.WithMaxVisitors(conf.RateLimitMaxVisitors),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// logged once per episode, counted on every request
		ratelimit.WithOnFirstDenied(func(ip string) {
			m.IncRateLimitOffender()
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted",
				"max_visitors", conf.RateLimitMaxVisitors,
			)
		}),
	)
	m.RegisterRateLimitVisitors(limiter.Len)
	m.RegisterRateLimitConfig(limiter.Limit(), limiter.Window().Seconds())

	// Static assets and routes
	assets := webassets.PublicFS(conf.PublicDir)
	if !webassets.HasFile(assets, conf.IndexFile) {
		L.Warn(ctx, "index file missing, GET / will return 404 until it exists", "index_file", conf.IndexFile)
	}

	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger: L,
		FS:     assets,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}
	routes := sitehttp.New(siteHandler, sitehttp.DefaultRules(sitehttp.IndexHandler(assets, conf.IndexFile))...)

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.AssetProbe(assets, conf.IndexFile),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Routes:       routes.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// admin listener refuses public peers in middleware as well as at the network edge
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = siteHTTPStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	stop()

	L.Info(ctx, "shutdown signal received")

	// fail readiness so load balancers stop sending new requests
	gate.Set("draining")
	if conf.DrainPeriod > 0 {
		L.Info(ctx, "draining", "drain_period", conf.DrainPeriod.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainPeriod):
			L.Info(ctx, "drain period complete")
		case <-forceCh:
			L.Warn(ctx, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(ctx, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(ctx, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(ctx, err, "otel shutdown")
	}
	stopProf()
	// stops the limiter sweep
	cancel()

	L.Info(ctx, "shutdown complete")
}

// notifySystemd sends READY=1 when started by systemd with Type=notify.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
