package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/adapters/auth"
	router "github.com/ormond/waypoint/internal/adapters/http"
	"github.com/ormond/waypoint/internal/adapters/store"
	"github.com/ormond/waypoint/internal/app"
	"github.com/ormond/waypoint/internal/config"
	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var (
		messages  core.MessageStore
		directory core.RoomDirectory
	)
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect postgres")
		}
		defer pg.Close()
		messages, directory = pg, pg
		log.Info().Msg("using postgres store")
	} else {
		mem := store.NewMemory()
		mem.Seed(domain.Room{ID: "global", Name: "Global", Type: domain.RoomGlobal})
		messages, directory = mem, mem
		log.Warn().Msg("no database_url configured, using in-memory store")
	}

	reg := core.NewRegistry(cfg.MaxConns)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	orch := app.NewOrchestrator(reg, verifier, directory, messages, cfg.MaxContentLen, cfg.HistoryLimit)

	r := router.SetupRouter(ctx, cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Waypoint server started")
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
	reg.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
