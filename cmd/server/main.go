package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/variantlabs/decider/internal/api"
	"github.com/variantlabs/decider/internal/config"
	"github.com/variantlabs/decider/internal/datafile"
	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/profile"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/snapshot"
	"github.com/variantlabs/decider/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewZerolog(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	telemetry.Init()
	reporter := telemetry.ErrorCounter{}

	build := func(raw []byte) (*project.Config, error) {
		doc, err := datafile.Parse(raw)
		if err != nil {
			return nil, err
		}
		return project.Load(doc, logger, reporter)
	}

	// initial snapshot
	raw, err := os.ReadFile(cfg.DatafilePath)
	if err != nil {
		log.Fatalf("datafile: %v", err)
	}
	projectCfg, err := build(raw)
	if err != nil {
		log.Fatalf("datafile: %v", err)
	}
	holder := snapshot.NewHolder()
	holder.Update(projectCfg, snapshot.Fingerprint(raw))
	log.Printf("snapshot: revision=%s parsed=%t", projectCfg.Revision(), projectCfg.Parsed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profiles, err := profile.NewStore(ctx, cfg.ProfileStoreType, profile.Options{
		RedisAddr: cfg.RedisAddr,
		DBDSN:     cfg.DatabaseDSN,
	})
	if err != nil {
		log.Fatalf("profile store: %v", err)
	}
	defer profiles.Close()
	profiles = telemetry.InstrumentStore(profiles)

	if cfg.WatchDatafile {
		watcher := snapshot.NewWatcher(cfg.DatafilePath, holder, build, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("watcher: %v", err)
			}
		}()
	}

	// metrics on its own listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()

	srvAPI := api.NewServer(holder, profiles, logger, cfg.SDKKeyHash, cfg.RateLimitPerIP)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // SSE subscribers hold the connection open
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(ctxShut)
	log.Println("stopped")
}
