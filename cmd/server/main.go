package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"pollux-go/internal/config"
	"pollux-go/internal/constants"
	"pollux-go/internal/credential"
	"pollux-go/internal/events"
	"pollux-go/internal/logging"
	"pollux-go/internal/monitoring/tracing"
	"pollux-go/internal/oauth"
	"pollux-go/internal/runtime"
	srv "pollux-go/internal/server"
	"pollux-go/internal/storage"
	upstream "pollux-go/internal/upstream/gemini"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	logging.InstallStreamHook()

	log.WithField("version", constants.GetFullVersion()).Info("starting pollux")

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	defer func() {
		if err := traceShutdown(context.Background()); err != nil {
			log.WithError(err).Warn("failed to shut down tracing")
		}
	}()

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open credential store")
	}
	defer store.Close()

	refreshClient, err := oauth.NewHTTPClient(oauth.ClientOptions{
		Proxy:     cfg.Proxy,
		Multiplex: cfg.EnableMultiplexing,
		Timeout:   constants.RefreshRequestTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build refresh HTTP client")
	}
	upstreamClient, err := oauth.NewHTTPClient(oauth.ClientOptions{
		Proxy:     cfg.Proxy,
		Multiplex: cfg.EnableMultiplexing,
		Timeout:   constants.UpstreamStreamTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build upstream HTTP client")
	}

	refresher := oauth.NewRefresher(refreshClient,
		oauth.WithOAuthClient(cfg.OAuthClientID, cfg.OAuthClientSecret))
	onboarder := oauth.NewOnboarder(refreshClient, cfg.CodeAssistEndpoint)
	pipeline := oauth.NewPipeline(refresher, onboarder, cfg.RefreshConcurrency)

	hub := events.NewHub()
	coordinator := credential.NewCoordinator(store, pipeline, cfg.ModelList, nil,
		credential.WithEventPublisher(hub))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks := runtime.NewTaskManager(ctx)
	if err := tasks.Start("refresh-pipeline", "token refresh worker pool", pipeline.Run); err != nil {
		log.WithError(err).Fatal("failed to start refresh pipeline")
	}
	if err := tasks.Start("coordinator", "credential pool coordinator", coordinator.Run); err != nil {
		log.WithError(err).Fatal("failed to start coordinator")
	}

	if cfg.LoadCred && cfg.CredPath != "" {
		creds, err := credential.LoadDir(cfg.CredPath)
		if err != nil {
			log.WithError(err).Warn("failed to load credential directory")
		} else if len(creds) > 0 {
			log.WithField("count", len(creds)).Info("submitting credentials from disk")
			coordinator.SubmitCredentials(creds)
		}
	}
	if cfg.WatchCred && cfg.CredPath != "" {
		watcher := credential.NewWatcher(cfg.CredPath, coordinator)
		if err := tasks.Start("cred-watcher", "credential directory watcher", watcher.Run); err != nil {
			log.WithError(err).Warn("failed to start credential watcher")
		}
	}

	engine := srv.BuildEngine(cfg, srv.Dependencies{
		Coordinator: coordinator,
		Store:       store,
		Hub:         hub,
		Upstream:    upstream.New(upstreamClient, cfg.CodeAssistEndpoint, cfg.EnableMultiplexing),
		Flow:        oauth.NewFlow(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURL, refreshClient),
		LogStream:   logging.Stream(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.WithField("addr", addr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown incomplete")
	}
	time.Sleep(constants.ServerGracefulWait)

	// In-flight requests are gone; drain the engine tasks.
	tasks.StopAll()
	tasks.Wait()
	logging.Stream().Stop()
	log.Info("pollux stopped")
}
