package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval          time.Duration `yaml:"ping_interval"`
		PongTimeout           time.Duration `yaml:"pong_timeout"`
		WriteTimeout          time.Duration `yaml:"write_timeout"`
		RecoveryResultTimeout time.Duration `yaml:"recovery_result_timeout"`
	} `yaml:"signal"`

	Playback struct {
		Bandwidth struct {
			TickInterval       time.Duration `yaml:"tick_interval"`
			Window             time.Duration `yaml:"window"`
			InstantWindow      time.Duration `yaml:"instant_window"`
			MinTrendSamples    int           `yaml:"min_trend_samples"`
			TrendIncreaseRatio float64       `yaml:"trend_increase_ratio"`
			TrendDecreaseRatio float64       `yaml:"trend_decrease_ratio"`
		} `yaml:"bandwidth"`

		Health struct {
			TickInterval        time.Duration `yaml:"tick_interval"`
			StallThreshold      time.Duration `yaml:"stall_threshold"`
			CriticalBufferLevel time.Duration `yaml:"critical_buffer_level"`
			WarningBufferLevel  time.Duration `yaml:"warning_buffer_level"`
		} `yaml:"health"`

		ABR struct {
			DecisionInterval   time.Duration `yaml:"decision_interval"`
			MinSwitchInterval  time.Duration `yaml:"min_switch_interval"`
			SwitchThreshold    time.Duration `yaml:"switch_threshold"`
			BufferTargetDown   time.Duration `yaml:"buffer_target_down"`
			BufferTargetUp     time.Duration `yaml:"buffer_target_up"`
			UpgradeStableTicks int           `yaml:"upgrade_stable_ticks"`
			UpgradeMinHealth   int           `yaml:"upgrade_min_health"`
			LowHealthScore     int           `yaml:"low_health_score"`
			DowngradeMargin    float64       `yaml:"downgrade_margin"`
		} `yaml:"abr"`

		Recovery struct {
			MaxRetries    uint32        `yaml:"max_retries"`
			BaseDelay     time.Duration `yaml:"base_delay"`
			MaxDelay      time.Duration `yaml:"max_delay"`
			GlobalTimeout time.Duration `yaml:"global_timeout"`
			Jitter        float64       `yaml:"jitter"`
		} `yaml:"recovery"`
	} `yaml:"playback"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled       bool   `yaml:"enabled"`
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		PoolSize      int    `yaml:"pool_size"`
		ChannelPrefix string `yaml:"channel_prefix"`

		SnapshotPrefix   string        `yaml:"snapshot_prefix"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		SnapshotTTL      time.Duration `yaml:"snapshot_ttl"`
	} `yaml:"redis"`

	WebRTC struct {
		Enabled    bool              `yaml:"enabled"`
		ICEServers []ICEServerConfig `yaml:"ice_servers"`
		PortMin    uint16            `yaml:"port_min"`
		PortMax    uint16            `yaml:"port_max"`
	} `yaml:"webrtc"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		SessionTokenTTL time.Duration `yaml:"session_token_ttl"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.RecoveryResultTimeout <= 0 {
		return fmt.Errorf("signal.recovery_result_timeout must be > 0")
	}

	// Bandwidth
	bw := c.Playback.Bandwidth
	if bw.TickInterval <= 0 {
		return fmt.Errorf("playback.bandwidth.tick_interval must be > 0")
	}
	if bw.Window <= 0 || bw.InstantWindow <= 0 {
		return fmt.Errorf("playback.bandwidth.window and instant_window must be > 0")
	}
	if bw.InstantWindow > bw.Window {
		return fmt.Errorf("playback.bandwidth.instant_window must be <= window")
	}
	if bw.MinTrendSamples < 2 {
		return fmt.Errorf("playback.bandwidth.min_trend_samples must be >= 2")
	}
	if bw.TrendIncreaseRatio <= 1 || bw.TrendDecreaseRatio <= 0 || bw.TrendDecreaseRatio >= 1 {
		return fmt.Errorf("playback.bandwidth trend ratios must satisfy 0 < decrease < 1 < increase")
	}

	// Health
	h := c.Playback.Health
	if h.TickInterval <= 0 {
		return fmt.Errorf("playback.health.tick_interval must be > 0")
	}
	if h.StallThreshold <= 0 {
		return fmt.Errorf("playback.health.stall_threshold must be > 0")
	}
	if h.CriticalBufferLevel <= 0 || h.WarningBufferLevel <= h.CriticalBufferLevel {
		return fmt.Errorf("playback.health buffer levels must satisfy 0 < critical < warning")
	}

	// ABR
	a := c.Playback.ABR
	if a.DecisionInterval <= 0 {
		return fmt.Errorf("playback.abr.decision_interval must be > 0")
	}
	if a.MinSwitchInterval < 0 || a.SwitchThreshold < 0 {
		return fmt.Errorf("playback.abr.min_switch_interval and switch_threshold must be >= 0")
	}
	if a.BufferTargetDown <= 0 || a.BufferTargetUp <= a.BufferTargetDown {
		return fmt.Errorf("playback.abr buffer targets must satisfy 0 < down < up")
	}
	if a.UpgradeStableTicks < 0 {
		return fmt.Errorf("playback.abr.upgrade_stable_ticks must be >= 0")
	}
	if a.DowngradeMargin < 1 {
		return fmt.Errorf("playback.abr.downgrade_margin must be >= 1")
	}

	// Recovery
	r := c.Playback.Recovery
	if r.MaxRetries == 0 {
		return fmt.Errorf("playback.recovery.max_retries must be > 0")
	}
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("playback.recovery delays must satisfy 0 < base_delay <= max_delay")
	}
	if r.GlobalTimeout <= 0 {
		return fmt.Errorf("playback.recovery.global_timeout must be > 0")
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return fmt.Errorf("playback.recovery.jitter must be in [0, 1)")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.SnapshotInterval < 0 {
			return fmt.Errorf("redis.snapshot_interval must be >= 0")
		}
		if c.Redis.SnapshotInterval > 0 && c.Redis.SnapshotTTL <= c.Redis.SnapshotInterval {
			return fmt.Errorf("redis.snapshot_ttl must be > redis.snapshot_interval")
		}
	}

	// WebRTC
	if c.WebRTC.PortMin > c.WebRTC.PortMax {
		return fmt.Errorf("webrtc.port_min must be <= webrtc.port_max")
	}
	if (c.WebRTC.PortMin == 0) != (c.WebRTC.PortMax == 0) {
		return fmt.Errorf("webrtc.port_min and webrtc.port_max must be set together")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.SessionTokenTTL <= 0 {
		return fmt.Errorf("auth.session_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.RecoveryResultTimeout = 15 * time.Second

	cfg.Playback.Bandwidth.TickInterval = time.Second
	cfg.Playback.Bandwidth.Window = 30 * time.Second
	cfg.Playback.Bandwidth.InstantWindow = 2 * time.Second
	cfg.Playback.Bandwidth.MinTrendSamples = 10
	cfg.Playback.Bandwidth.TrendIncreaseRatio = 1.3
	cfg.Playback.Bandwidth.TrendDecreaseRatio = 0.7

	cfg.Playback.Health.TickInterval = time.Second
	cfg.Playback.Health.StallThreshold = 2 * time.Second
	cfg.Playback.Health.CriticalBufferLevel = time.Second
	cfg.Playback.Health.WarningBufferLevel = 3 * time.Second

	cfg.Playback.ABR.DecisionInterval = 2 * time.Second
	cfg.Playback.ABR.MinSwitchInterval = 10 * time.Second
	cfg.Playback.ABR.SwitchThreshold = 3 * time.Second
	cfg.Playback.ABR.BufferTargetDown = 2 * time.Second
	cfg.Playback.ABR.BufferTargetUp = 8 * time.Second
	cfg.Playback.ABR.UpgradeStableTicks = 2
	cfg.Playback.ABR.UpgradeMinHealth = 70
	cfg.Playback.ABR.LowHealthScore = 50
	cfg.Playback.ABR.DowngradeMargin = 1.2

	cfg.Playback.Recovery.MaxRetries = 5
	cfg.Playback.Recovery.BaseDelay = 500 * time.Millisecond
	cfg.Playback.Recovery.MaxDelay = 10 * time.Second
	cfg.Playback.Recovery.GlobalTimeout = 30 * time.Second
	cfg.Playback.Recovery.Jitter = 0.25

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ChannelPrefix = "playloop:commands"
	cfg.Redis.SnapshotPrefix = "playloop"
	cfg.Redis.SnapshotInterval = 5 * time.Second
	cfg.Redis.SnapshotTTL = 30 * time.Second

	cfg.WebRTC.Enabled = true
	cfg.WebRTC.ICEServers = []ICEServerConfig{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.SessionTokenTTL = 12 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "playloop"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PLAYLOOP_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("PLAYLOOP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PLAYLOOP_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("PLAYLOOP_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if v := os.Getenv("PLAYLOOP_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Playback.Recovery.MaxRetries = uint32(n)
		}
	}
}
