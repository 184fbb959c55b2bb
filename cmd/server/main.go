package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/coursekit/admission/internal/admission"
	"github.com/coursekit/admission/internal/cfg"
	"github.com/coursekit/admission/internal/grpcserver"
	"github.com/coursekit/admission/internal/health"
	"github.com/coursekit/admission/internal/httpmw"
	"github.com/coursekit/admission/internal/httpserver"
	"github.com/coursekit/admission/internal/log"
	"github.com/coursekit/admission/internal/metrics"
	"github.com/coursekit/admission/internal/opshttp"
	"github.com/coursekit/admission/internal/otelx"
	"github.com/coursekit/admission/internal/policy"
	"github.com/coursekit/admission/internal/prof"
	"github.com/coursekit/admission/internal/ratelimit"
	"github.com/coursekit/admission/internal/relay"
	"github.com/coursekit/admission/internal/store"
	v "github.com/coursekit/admission/internal/version"
)

func main() {
	ctx, cancelSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelSignals()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix ADMISSION_ and validate
	cfg.FillFromEnv(flag.CommandLine, "ADMISSION_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"grpc_port", conf.GRPCPort,
		"store_backend", conf.StoreBackend,
		"fail_mode", conf.FailMode,
		"unidentified_policy", conf.UnidentifiedPolicy,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	// Metrics registry first so every later component can hang counters on it
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	// Continuous profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":     v.AppName,
			"version": vi.Version,
			"commit":  vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "profiler start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// Tracing. Insecure because the collector is a localhost sidecar.
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Window counter store
	var counters store.CounterStore
	var storePing health.Probe
	switch conf.StoreBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		rs, err := store.NewRedis(rdb)
		if err != nil {
			L.Error(ctx, err, "redis store init failed", "redis_addr", conf.RedisAddr)
			os.Exit(1)
		}
		defer rs.Close()
		counters = rs
		storePing = health.Func(rs.Ping)
		L.Info(ctx, "using redis counter store", "redis_addr", conf.RedisAddr)
	default:
		counters = store.NewMemory(ctx)
		L.Info(ctx, "using in-memory counter store")
	}
	counters = m.InstrumentStore(counters)

	// Rate-limit policy document (file, SSM, or built-in defaults)
	var ssmClient policy.SSMAPI
	if conf.PolicySSMParam != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		ssmClient = ssm.NewFromConfig(awsCfg)
	}
	policies, err := policy.Load(ctx, policy.LoaderOptions{
		Logger:   L,
		File:     conf.PolicyFile,
		SSMParam: conf.PolicySSMParam,
		SSM:      ssmClient,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load rate-limit policy")
		os.Exit(1)
	}

	failMode, err := ratelimit.ParseFailMode(conf.FailMode)
	if err != nil {
		L.Error(ctx, err, "invalid fail mode")
		os.Exit(1)
	}
	unidentified, err := ratelimit.ParseUnidentifiedPolicy(conf.UnidentifiedPolicy)
	if err != nil {
		L.Error(ctx, err, "invalid unidentified policy")
		os.Exit(1)
	}

	limiter := ratelimit.New(counters,
		ratelimit.WithFailMode(failMode),
		ratelimit.WithUnidentifiedPolicy(unidentified),
		ratelimit.WithStoreTimeout(conf.StoreTimeout),
		ratelimit.WithLogger(L),
		ratelimit.WithOnDenied(func(keyPrefix string) {
			L.Warn(ctx, "admission denied", "operation", keyPrefix)
		}),
		ratelimit.WithOnStoreError(func(keyPrefix string, err error) {
			m.IncStoreError(keyPrefix)
			if failMode == ratelimit.FailOpen {
				m.IncFailOpenAdmit()
			}
			L.Error(ctx, err, "counter store error", "operation", keyPrefix, "fail_mode", conf.FailMode)
		}),
	)

	apiCfg := operationConfig(policies, "api")
	relayCfg := operationConfig(policies, "relay")

	// Outbound webhook relay, if a target is configured
	var forwarder *relay.Forwarder
	if conf.RelayURL != "" {
		forwarder = relay.New(conf.RelayURL, conf.RelayTimeout,
			relay.WithLogger(L),
			relay.WithMetrics(m),
		)
	}

	// Shutdown gate flips readiness before the listeners stop
	var gate health.ShutdownGate
	readiness := health.Multi(gate.Probe(), storePing)

	apiRoutes := func(r chi.Router) {
		r.Route("/api/v1", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(admission.Middleware(limiter, apiCfg, m))
				r.Get("/quota", quotaHandler)
			})
			if forwarder != nil {
				r.Method(http.MethodPost, "/relay/{hook}",
					admission.Handler(limiter, relayCfg, m, forwarder.Handler()))
			}
		})
	}

	httpStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Static(true, ""),
		Readiness:    readiness,
		APIRoutes:    apiRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	// Admin listener for metrics, pprof and health. Security groups keep
	// this port internal.
	opsStop, err := opshttp.Start(ctx, &opshttp.Options{
		Logger:      L,
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start admin listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	// RPC listener with the admission interceptor, if enabled
	var grpcStop func(context.Context) error
	if conf.GRPCPort > 0 {
		grpcStop, err = grpcserver.Start(ctx, &grpcserver.Options{
			Logger: L,
			Port:   conf.GRPCPort,
			Interceptor: admission.UnaryServerInterceptor(limiter, admission.MethodConfigs{
				Fallback:       &apiCfg,
				ExemptServices: []string{"grpc.health.v1.Health"},
			}, m),
		})
		if err != nil {
			L.Error(ctx, err, "failed to start grpc listener")
			os.Exit(1)
		}
		defer func() { _ = grpcStop(context.Background()) }()
	}

	L.Info(ctx, "startup complete")

	// Block until ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// Fail readiness so load balancers drain before the listeners close
	gate.Set("draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if grpcStop != nil {
		if err := grpcStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "grpc server shutdown")
		}
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "admin server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// operationConfig resolves a named operation from the loaded policy,
// falling back to the built-in defaults when the document omits it.
func operationConfig(policies map[string]ratelimit.Config, name string) ratelimit.Config {
	if c, ok := policies[name]; ok {
		return c
	}
	defaults, _ := policy.Compile(policy.Defaults())
	return defaults[name]
}

// quotaHandler reports the caller's remaining budget for the window the
// admission middleware just charged.
func quotaHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := admission.DecisionFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if !ok {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"metered": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"metered":   !d.Unmetered,
		"limit":     d.Limit,
		"remaining": d.Remaining,
		"reset":     d.Reset.Unix(),
	})
}
