package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/strelka-im/realtime/internal/adapters/http"
	"github.com/strelka-im/realtime/internal/app"
	"github.com/strelka-im/realtime/internal/auth"
	"github.com/strelka-im/realtime/internal/config"
	"github.com/strelka-im/realtime/internal/core"
	"github.com/strelka-im/realtime/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var kv store.KV
	if cfg.RedisAddr != "" {
		redis := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redis.Close() }()
		kv = redis
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		mem := store.NewMemory()
		go mem.RunJanitor(ctx, cfg.SweepInterval)
		kv = mem
		log.Info().Msg("using in-memory store")
	}

	hub := core.NewHub()
	reg := app.NewRegistry(hub)
	fan := app.NewFanout(reg, hub)
	pres := app.NewPresence(kv, fan, cfg.PresenceTTL)
	typ := app.NewTyping(kv, fan, cfg.TypingTTL)
	relay := app.NewRelay(reg, fan)
	verifier := auth.NewTokenVerifier(cfg.Secret)

	orch := app.NewOrchestrator(reg, fan, pres, typ, relay, verifier, nil)

	go pres.RunSweeper(ctx, cfg.SweepInterval)

	r := router.SetupRouter(ctx, cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("realtime server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
