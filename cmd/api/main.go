package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capledger.org/internal/app"
	"capledger.org/internal/config"
	"capledger.org/internal/httpapi"
	"capledger.org/internal/obs"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "0.1.0"
	commit    string
	buildDate string
)

func main() {
	cfg := config.MustLoad()
	obs.SetupLogger(obs.LogConfig{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	log := obs.Logger()

	obs.Init()
	build := obs.InitBuildInfo(obs.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate})

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}

	api := httpapi.New(a.Ledger, httpapi.Options{
		Ready:        a.ReadyProbe(),
		Build:        build,
		RatePerSec:   cfg.HTTP.RateLimitRPS,
		RateBurst:    cfg.HTTP.RateLimitBurst,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("version", build.Version).Str("commit", build.Commit).Str("addr", srv.Addr).Msg("starting capledger-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("close backends")
	}
	log.Info().Msg("stopped")
}
