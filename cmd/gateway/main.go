// Command gateway is the composition root: it wires every package in
// internal/ together explicitly (no package-level globals) and starts the
// HTTP surface. Grounded on the teacher's main.go as "one function builds
// the whole dependency graph and registers it with a server," rebuilt
// around net/http + chi instead of gizmo/server since the federation
// engine has no AWS/xray surface to carry over.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/api"
	"github.com/cbsinteractive/ump-gateway/internal/config"
	"github.com/cbsinteractive/ump-gateway/internal/exceptions"
	"github.com/cbsinteractive/ump-gateway/internal/handlers"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/jobmanager"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/metrics"
	"github.com/cbsinteractive/ump-gateway/internal/observer"
	"github.com/cbsinteractive/ump-gateway/internal/process"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
	"github.com/cbsinteractive/ump-gateway/internal/retry"
	"github.com/cbsinteractive/ump-gateway/internal/verify"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	env, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	log.SetLevel(levelFor(env.Env))

	providerList, err := config.LoadProviders(env.ProvidersConfigPath)
	if err != nil {
		log.WithError(err).Fatal("loading provider catalog")
	}
	registry := providers.NewRegistry(providerList)

	reporter, err := buildReporter(env)
	if err != nil {
		log.WithError(err).Fatal("initializing exception reporter")
	}

	httpPort := httpclient.New(httpclient.WithRateLimit(10))
	pipeline := handlers.New(env.RewriteRemoteLinks, env.APIServerURL)

	processes := process.NewManager(registry, httpPort, pipeline, process.Config{
		CacheTTL:    env.ProcessCacheTTL(),
		ResolveMode: process.ResolveModeFirstMatch,
	})

	repo := buildRepository(env, log)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bus := observer.NewBus(log, m)
	bus.Register(observer.NewStatusHistoryObserver(repo, func() int64 { return time.Now().UnixNano() }, log))

	verifier := verify.New(httpPort)
	bus.Register(observer.NewResultsVerificationObserver(verifier, registry, repo, func() int64 { return time.Now().UnixNano() }, log, env.VerifyRemoteResults))

	jobs := jobmanager.New(jobmanager.Config{
		PollInterval: env.PollInterval(),
		PollTimeout:  env.PollTimeout(),
		ForwardRetry: retry.Policy{
			MaxAttempts: uint64(env.ForwardMaxRetries),
			BaseWait:    env.ForwardRetryBase(),
			MaxWait:     env.ForwardRetryMax(),
		},
		PollRetry:                retry.Policy{MaxAttempts: 1},
		VerifyImmediateResults:    env.VerifyImmediateResults,
		GracefulShutdownDeadline:  10 * time.Second,
		InlineInputsSizeLimit:     env.InlineInputsSizeLimit,
	}, repo, registry, processes, httpPort, bus, verifier, m, reporter, log, time.Now)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(processes, jobs, log))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := ":5000"
	if host, port, ok := splitServerURL(env.APIServerURL); ok {
		addr = host + ":" + port
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server encountered a fatal error")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("job manager shutdown did not complete cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
}

func buildReporter(env config.Env) (exceptions.Reporter, error) {
	if env.SentryDSN == "" {
		return &exceptions.NoopReporter{}, nil
	}
	return exceptions.NewSentryReporter(env.SentryDSN, env.Env)
}

func buildRepository(env config.Env, log *logrus.Logger) jobrepo.Repository {
	if env.RedisAddr == "" {
		return jobrepo.NewInMemory()
	}
	rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr, DB: env.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable at startup, falling back to in-memory job repository")
		return jobrepo.NewInMemory()
	}
	return jobrepo.NewRedis(rdb, "ump-gateway")
}

func levelFor(env string) logrus.Level {
	if env == "development" {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// splitServerURL pulls host:port out of a config URL like
// "http://localhost:5000"; used only to bind the listen address from the
// same variable that also seeds self-link rewriting.
func splitServerURL(u string) (host, port string, ok bool) {
	trimmed := u
	for _, prefix := range []string{"http://", "https://"} {
		if len(trimmed) > len(prefix) && trimmed[:len(prefix)] == prefix {
			trimmed = trimmed[len(prefix):]
		}
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == ':' {
			return trimmed[:i], trimmed[i+1:], true
		}
	}
	return "", "", false
}
