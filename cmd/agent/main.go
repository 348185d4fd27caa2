package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/VoiceDesk/internal/adapters/http"
	"github.com/dkeye/VoiceDesk/internal/adapters/rtc"
	sig "github.com/dkeye/VoiceDesk/internal/adapters/signal"
	"github.com/dkeye/VoiceDesk/internal/app/call"
	"github.com/dkeye/VoiceDesk/internal/auth"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	party, err := domain.ParsePartyID(cfg.Agent.PartyID)
	if err != nil {
		log.Fatal().Err(err).Msg("agent.party_id")
	}
	token, err := agentToken(cfg, party)
	if err != nil {
		log.Fatal().Err(err).Msg("agent token")
	}

	media, err := newMediaFactory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("audio capturer")
	}

	client := sig.NewClient(cfg.Agent.RelayURL, party, token, cfg.Agent.ReconnectDelay)
	host := call.NewHost(client, media, call.Config{
		NegotiationTimeout:  cfg.Call.NegotiationTimeout,
		SendRetries:         cfg.Call.SendRetries,
		SendTimeout:         cfg.Call.SendTimeout,
		EarlyCandidateLimit: cfg.Call.EarlyCandidateLimit,
	})

	ctl := router.NewConsoleController(host, client)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Agent.ConsolePort)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupConsoleRouter(cfg, ctl),
	}

	// the client outlives the host so the final End can still go out
	clientCtx, stopClient := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(clientCtx)
	})
	g.Go(func() error {
		defer stopClient()
		return host.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("party", string(party)).Msg("VoiceDesk agent console started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
	log.Info().Msg("Agent exited gracefully")
}

func newMediaFactory(cfg *config.Config) (*rtc.Factory, error) {
	capturer, err := rtc.DefaultCapturer()
	if err != nil {
		return nil, err
	}
	return rtc.NewFactory(rtc.Config{
		ICEServers:          cfg.ICE.Servers,
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		KeepAliveInterval:   cfg.ICE.KeepAliveInterval,
	}, capturer), nil
}

// agentToken uses the configured token, or signs one with the shared
// secret when running next to a dev relay.
func agentToken(cfg *config.Config, party domain.PartyID) (string, error) {
	if cfg.Agent.Token != "" {
		return cfg.Agent.Token, nil
	}
	if cfg.Secret == "" {
		return "", errors.New("agent.token or secret is required")
	}
	v, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	if err != nil {
		return "", err
	}
	return v.Issue(domain.Party{ID: party, Name: cfg.Agent.Name}, cfg.TokenTTL)
}
