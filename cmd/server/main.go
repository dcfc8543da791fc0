package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsdesk/pamphletd/internal/api"
	"github.com/opsdesk/pamphletd/internal/config"
	"github.com/opsdesk/pamphletd/internal/extract"
	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Error("open data dir", "error", err)
		os.Exit(1)
	}

	usage := gigachat.NewUsageLedger()
	client, err := gigachat.NewClient(gigachat.Config{
		OAuthURL:          cfg.OAuthURL,
		CompletionsURL:    cfg.CompletionsURL,
		FilesURL:          cfg.FilesURL,
		AuthKey:           cfg.AuthKey,
		Scope:             cfg.Scope,
		ClientCert:        cfg.ClientCert,
		ClientKey:         cfg.ClientKey,
		CABundle:          cfg.CABundle,
		TLSVerify:         cfg.TLSVerify,
		ForceTokenAuth:    cfg.ForceTokenAuth,
		TextModel:         cfg.TextModel,
		VisionModel:       cfg.VisionModel,
		TextTemperature:   cfg.TextTemperature,
		VisionTemperature: cfg.VisionTemperature,
	}, usage)
	if err != nil {
		log.Error("init gigachat client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := pipeline.NewOrchestrator(st, client, usage, pipeline.Options{
		Workers:         cfg.WorkerCount,
		QueueSize:       cfg.MaxQueueSize,
		JobTTL:          cfg.JobTTL,
		FAQContextChars: cfg.FAQContextChars,
		FAQOutputTokens: cfg.FAQOutputTokens,
	}, log)
	orch.Start(ctx)

	extractor := extract.New(st, float64(cfg.RasterDPI), cfg.JPEGQuality, log)
	server := api.NewServer(&cfg, st, orch, client, usage, client.Stats(), extractor, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("server listening", "port", cfg.Port, "data_dir", cfg.DataDir)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server", "error", err)
		os.Exit(1)
	}
	orch.Wait()
	log.Info("server stopped")
}
