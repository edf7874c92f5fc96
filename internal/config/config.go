package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full server configuration, parsed from the environment.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Live LiveConfig `envPrefix:"LIVE_"`
}

// LiveConfig holds the live room policy knobs. Defaults are the reference
// policy; every value can be overridden per deployment.
type LiveConfig struct {
	// Inbound frame limits.
	MaxMessageBytes  int64   `env:"MAX_MESSAGE_BYTES" envDefault:"4096"`
	MessageRate      float64 `env:"MESSAGE_RATE" envDefault:"10"`
	MessageBurst     int     `env:"MESSAGE_BURST" envDefault:"10"`
	RateLimitStrikes int     `env:"RATE_LIMIT_STRIKES" envDefault:"3"`

	// Liveness sweep. A zero grace means twice the interval.
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"30s"`
	KeepaliveGrace    time.Duration `env:"KEEPALIVE_GRACE" envDefault:"0"`

	// Room policy.
	MaxClientsPerRoom int  `env:"MAX_CLIENTS_PER_ROOM" envDefault:"100"`
	EchoSender        bool `env:"ECHO_SENDER" envDefault:"true"`

	// Per-connection write pump.
	SendBuffer    int           `env:"SEND_BUFFER" envDefault:"16"`
	WriteDeadline time.Duration `env:"WRITE_DEADLINE" envDefault:"5s"`

	// Admission defense at the upgrade endpoint.
	MaxConnections      int64   `env:"MAX_CONNECTIONS" envDefault:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" envDefault:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" envDefault:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.Live.MaxMessageBytes <= 0 {
		return nil, fmt.Errorf("LIVE_MAX_MESSAGE_BYTES must be positive")
	}
	if cfg.Live.MessageRate <= 0 || cfg.Live.MessageBurst <= 0 {
		return nil, fmt.Errorf("LIVE_MESSAGE_RATE and LIVE_MESSAGE_BURST must be positive")
	}
	if cfg.Live.RateLimitStrikes <= 0 {
		return nil, fmt.Errorf("LIVE_RATE_LIMIT_STRIKES must be positive")
	}
	if cfg.Live.KeepaliveInterval <= 0 {
		return nil, fmt.Errorf("LIVE_KEEPALIVE_INTERVAL must be positive")
	}
	if cfg.Live.KeepaliveGrace == 0 {
		cfg.Live.KeepaliveGrace = 2 * cfg.Live.KeepaliveInterval
	}
	if cfg.Live.KeepaliveGrace < cfg.Live.KeepaliveInterval {
		return nil, fmt.Errorf("LIVE_KEEPALIVE_GRACE must be at least LIVE_KEEPALIVE_INTERVAL")
	}
	if cfg.Live.MaxClientsPerRoom <= 0 {
		return nil, fmt.Errorf("LIVE_MAX_CLIENTS_PER_ROOM must be positive")
	}
	if cfg.Live.SendBuffer <= 0 {
		return nil, fmt.Errorf("LIVE_SEND_BUFFER must be positive")
	}
	if cfg.Live.WriteDeadline <= 0 {
		return nil, fmt.Errorf("LIVE_WRITE_DEADLINE must be positive")
	}

	return cfg, nil
}
