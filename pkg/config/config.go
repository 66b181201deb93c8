package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AuthEnabled     bool          `yaml:"auth_enabled"`
		RateLimit       struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`

	Signaling struct {
		URL              string        `yaml:"url"`
		AuthSecret       string        `yaml:"auth_secret"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait"`
		SendRate         float64       `yaml:"send_rate"`  // messages per second, 0 = unlimited
		SendBurst        int           `yaml:"send_burst"` // limiter burst when send_rate > 0
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Session struct {
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		MaxRetries     int           `yaml:"max_retries"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
	} `yaml:"session"`

	Media struct {
		DetectionMode   string        `yaml:"detection_mode"` // voice_activity or push_to_talk
		Sensitivity     int           `yaml:"sensitivity"`    // 0-100
		HoldTime        time.Duration `yaml:"hold_time"`
		Cooldown        time.Duration `yaml:"cooldown"`
		PushToTalkKey   string        `yaml:"push_to_talk_key"`
		PushToTalkMods  []string      `yaml:"push_to_talk_mods"`
		Suppression     string        `yaml:"suppression"` // gate, spectral or none
		SuppressionGain float64       `yaml:"suppression_gain"`
	} `yaml:"media"`

	Quality struct {
		SampleInterval  time.Duration `yaml:"sample_interval"`
		StepUpHold      time.Duration `yaml:"step_up_hold"`
		BadSampleCount  int           `yaml:"bad_sample_count"`
		WarningCapacity int           `yaml:"warning_capacity"`
	} `yaml:"quality"`

	Devices struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		NotifyThrottle   time.Duration `yaml:"notify_throttle"`
		PermissionPrompt bool          `yaml:"permission_prompt"`
	} `yaml:"devices"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be > 0 when enabled")
	}

	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url must not be empty")
	}
	if c.Signaling.DialTimeout <= 0 {
		return fmt.Errorf("signaling.dial_timeout must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.SendRate < 0 {
		return fmt.Errorf("signaling.send_rate must be >= 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be > 0")
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must be >= 0")
	}
	if c.Session.RetryBackoff <= 0 {
		return fmt.Errorf("session.retry_backoff must be > 0")
	}

	switch c.Media.DetectionMode {
	case "voice_activity", "push_to_talk":
	default:
		return fmt.Errorf("media.detection_mode must be voice_activity or push_to_talk")
	}
	if c.Media.Sensitivity < 0 || c.Media.Sensitivity > 100 {
		return fmt.Errorf("media.sensitivity must be in 0..100")
	}

	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if c.Quality.StepUpHold <= 0 {
		return fmt.Errorf("quality.step_up_hold must be > 0")
	}
	if c.Quality.BadSampleCount <= 0 {
		return fmt.Errorf("quality.bad_sample_count must be > 0")
	}

	if c.Devices.PollInterval <= 0 {
		return fmt.Errorf("devices.poll_interval must be > 0")
	}
	if c.Devices.NotifyThrottle <= 0 {
		return fmt.Errorf("devices.notify_throttle must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
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
		return cfg, nil
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

	cfg.API.Address = "127.0.0.1:8740"
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.ShutdownTimeout = 10 * time.Second
	cfg.API.AuthEnabled = false
	cfg.API.RateLimit.Enabled = true
	cfg.API.RateLimit.RequestsPerSecond = 50
	cfg.API.RateLimit.Burst = 100
	cfg.API.RateLimit.MaxConcurrent = 256

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.AuthSecret = "change-me-in-production"
	cfg.Signaling.DialTimeout = 10 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.ReconnectMaxWait = 30 * time.Second
	cfg.Signaling.SendRate = 0
	cfg.Signaling.SendBurst = 20

	cfg.Session.ConnectTimeout = 30 * time.Second
	cfg.Session.MaxRetries = 3
	cfg.Session.RetryBackoff = 2000 * time.Millisecond

	cfg.Media.DetectionMode = "voice_activity"
	cfg.Media.Sensitivity = 50
	cfg.Media.HoldTime = 600 * time.Millisecond
	cfg.Media.Cooldown = 150 * time.Millisecond
	cfg.Media.Suppression = "gate"
	cfg.Media.SuppressionGain = 0.7

	cfg.Quality.SampleInterval = 5 * time.Second
	cfg.Quality.StepUpHold = 30 * time.Second
	cfg.Quality.BadSampleCount = 3
	cfg.Quality.WarningCapacity = 32

	cfg.Devices.PollInterval = 2 * time.Second
	cfg.Devices.NotifyThrottle = time.Second
	cfg.Devices.PermissionPrompt = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "voicelink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("VOICELINK_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if secret := os.Getenv("VOICELINK_AUTH_SECRET"); secret != "" {
		c.Signaling.AuthSecret = secret
	}
	if addr := os.Getenv("VOICELINK_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if level := os.Getenv("VOICELINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("VOICELINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
