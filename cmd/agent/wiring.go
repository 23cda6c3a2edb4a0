package main

import (
	"playloop/internal/core/services"
	"playloop/internal/infrastructure/distributed"
	"playloop/internal/infrastructure/signal"
	webrtcinfra "playloop/internal/infrastructure/webrtc"
	"playloop/pkg/config"
	"playloop/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

func sessionConfig(cfg *config.Config) services.SessionConfig {
	p := cfg.Playback

	sc := services.DefaultSessionConfig()
	sc.BandwidthTick = p.Bandwidth.TickInterval
	sc.HealthTick = p.Health.TickInterval
	sc.DecisionInterval = p.ABR.DecisionInterval

	sc.Bandwidth = services.BandwidthConfig{
		Window:             p.Bandwidth.Window,
		InstantWindow:      p.Bandwidth.InstantWindow,
		MinTrendSamples:    p.Bandwidth.MinTrendSamples,
		TrendIncreaseRatio: p.Bandwidth.TrendIncreaseRatio,
		TrendDecreaseRatio: p.Bandwidth.TrendDecreaseRatio,
	}
	sc.Health = services.HealthConfig{
		StallThreshold:      p.Health.StallThreshold,
		CriticalBufferLevel: p.Health.CriticalBufferLevel,
		WarningBufferLevel:  p.Health.WarningBufferLevel,
	}
	sc.ABR = services.ABRConfig{
		MinSwitchInterval:  p.ABR.MinSwitchInterval,
		SwitchThreshold:    p.ABR.SwitchThreshold,
		BufferTargetDown:   p.ABR.BufferTargetDown,
		BufferTargetUp:     p.ABR.BufferTargetUp,
		UpgradeStableTicks: p.ABR.UpgradeStableTicks,
		UpgradeMinHealth:   p.ABR.UpgradeMinHealth,
		LowHealthScore:     p.ABR.LowHealthScore,
		DowngradeMargin:    p.ABR.DowngradeMargin,
	}
	sc.Recovery = services.RecoveryConfig{
		MaxRetries:    p.Recovery.MaxRetries,
		BaseDelay:     p.Recovery.BaseDelay,
		MaxDelay:      p.Recovery.MaxDelay,
		GlobalTimeout: p.Recovery.GlobalTimeout,
		Jitter:        p.Recovery.Jitter,
	}
	return sc
}

func hubConfig(cfg *config.Config) signal.HubConfig {
	return signal.HubConfig{
		PingInterval:          cfg.Signal.PingInterval,
		PongTimeout:           cfg.Signal.PongTimeout,
		WriteTimeout:          cfg.Signal.WriteTimeout,
		RecoveryResultTimeout: cfg.Signal.RecoveryResultTimeout,
		AllowedOrigins:        cfg.Auth.AllowedOrigins,
	}
}

func gatewayConfig(cfg *config.Config) webrtcinfra.Config {
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtcinfra.Config{
		ICEServers: iceServers,
		PortMin:    cfg.WebRTC.PortMin,
		PortMax:    cfg.WebRTC.PortMax,
	}
}

func redisOptions(cfg *config.Config) distributed.RedisOptions {
	return distributed.RedisOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
}

func tracingConfig(cfg *config.Config) tracing.Config {
	return tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	}
}
