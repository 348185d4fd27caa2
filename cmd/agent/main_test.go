//go:build !mediadevices

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceDesk/internal/auth"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

func TestNewMediaFactoryCapturesAudio(t *testing.T) {
	f, err := newMediaFactory(&config.Config{})
	require.NoError(t, err)

	m, err := f.NewMedia(domain.NewSessionID())
	require.NoError(t, err)
	defer m.Close()
	stream, err := m.CaptureAudio(context.Background())
	require.NoError(t, err)
	stream.Stop()
}

func TestAgentToken(t *testing.T) {
	cfg := &config.Config{Agent: config.AgentConfig{Token: "preset"}}
	tok, err := agentToken(cfg, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "preset", tok)

	_, err = agentToken(&config.Config{}, "agent-1")
	assert.Error(t, err)

	cfg = &config.Config{Secret: "test-secret-test-secret", Issuer: "voicedesk", TokenTTL: time.Hour}
	cfg.Agent.Name = "Ann"
	tok, err = agentToken(cfg, "agent-1")
	require.NoError(t, err)
	v, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	require.NoError(t, err)
	party, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.PartyID("agent-1"), party.ID)
}
