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

	router "github.com/dkeye/VoiceDesk/internal/adapters/http"
	sig "github.com/dkeye/VoiceDesk/internal/adapters/signal"
	"github.com/dkeye/VoiceDesk/internal/app/relay"
	"github.com/dkeye/VoiceDesk/internal/auth"
	"github.com/dkeye/VoiceDesk/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	verifier, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	if err != nil {
		log.Fatal().Err(err).Msg("auth setup")
	}

	var policy relay.Policy = relay.SimplePolicy{}
	if !cfg.Relay.DisconnectSlow {
		policy = relay.DropPolicy{}
	}
	hub := relay.NewHub(policy)
	limiter := sig.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateInterval, nil)
	ctl := sig.NewSignalWSController(hub, limiter, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.Relay.SendBuffer,
	})

	r := router.SetupRouter(ctx, cfg, ctl, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("VoiceDesk relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	for _, party := range hub.Parties() {
		hub.Disconnect(party)
	}
	log.Info().Msg("Server exited gracefully")
}
