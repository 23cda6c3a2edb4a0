package main

import (
	"testing"
	"time"

	"playloop/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionConfig_FollowsPlaybackSection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Playback.Bandwidth.Window = 20 * time.Second
	cfg.Playback.Health.StallThreshold = 3 * time.Second
	cfg.Playback.ABR.DecisionInterval = time.Second
	cfg.Playback.ABR.DowngradeMargin = 1.5
	cfg.Playback.Recovery.MaxRetries = 3

	sc := sessionConfig(cfg)
	assert.Equal(t, 20*time.Second, sc.Bandwidth.Window)
	assert.Equal(t, 2*time.Second, sc.Bandwidth.InstantWindow)
	assert.Equal(t, 3*time.Second, sc.Health.StallThreshold)
	assert.Equal(t, time.Second, sc.DecisionInterval)
	assert.Equal(t, 1.5, sc.ABR.DowngradeMargin)
	assert.Equal(t, uint32(3), sc.Recovery.MaxRetries)
	assert.Nil(t, sc.Recovery.Rand)
}

func TestHubAndGatewayConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.AllowedOrigins = []string{"https://player.example"}
	cfg.WebRTC.PortMin = 40000
	cfg.WebRTC.PortMax = 40100
	cfg.WebRTC.ICEServers = []config.ICEServerConfig{{
		URLs:       []string{"turn:turn.example:3478"},
		Username:   "user",
		Credential: "pass",
	}}

	hc := hubConfig(cfg)
	assert.Equal(t, cfg.Signal.RecoveryResultTimeout, hc.RecoveryResultTimeout)
	assert.Equal(t, []string{"https://player.example"}, hc.AllowedOrigins)

	gc := gatewayConfig(cfg)
	require.Len(t, gc.ICEServers, 1)
	assert.Equal(t, "user", gc.ICEServers[0].Username)
	assert.Equal(t, uint16(40000), gc.PortMin)
	assert.Equal(t, uint16(40100), gc.PortMax)
}
