// Package config loads client settings from a YAML file, .env files and
// BAZAAR_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/bazaar/go/internal/auction/channel"
	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/snapshot"
)

// Transport names for Channel.Transport.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
	TransportNone      = "none"
)

type Config struct {
	API struct {
		BaseURL        string        `yaml:"base_url"`
		Token          string        `yaml:"token"`
		UserID         string        `yaml:"user_id"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"api"`

	Channel struct {
		Transport            string        `yaml:"transport"`
		WebSocketURL         string        `yaml:"websocket_url"`
		NATSURL              string        `yaml:"nats_url"`
		SubjectPrefix        string        `yaml:"subject_prefix"`
		AckTimeout           time.Duration `yaml:"ack_timeout"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	} `yaml:"channel"`

	Sync struct {
		ResyncInterval   time.Duration `yaml:"resync_interval"`
		FailureThreshold int           `yaml:"failure_threshold"`
		TickInterval     time.Duration `yaml:"tick_interval"`
		BidTTL           time.Duration `yaml:"bid_ttl"`
	} `yaml:"sync"`

	Hub struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"hub"`

	Logging struct {
		Level      string `yaml:"level"`
		JSON       bool   `yaml:"json"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Default returns the built-in settings.
func Default() Config {
	var c Config
	c.API.BaseURL = "http://localhost:8080"
	c.API.RequestTimeout = 5 * time.Second

	c.Channel.Transport = TransportWebSocket
	c.Channel.WebSocketURL = "ws://localhost:8080/ws/auction"
	c.Channel.NATSURL = "nats://localhost:4222"
	c.Channel.SubjectPrefix = "auction"
	c.Channel.AckTimeout = 8 * time.Second
	c.Channel.ReconnectDelay = 2 * time.Second
	c.Channel.MaxReconnectAttempts = 5

	c.Sync.ResyncInterval = 10 * time.Second
	c.Sync.FailureThreshold = 3
	c.Sync.TickInterval = time.Second
	c.Sync.BidTTL = 8 * time.Second

	c.Hub.Addr = ":8090"
	c.Hub.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 50
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 14
	return c
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the settings can start a client.
func (c *Config) Validate() error {
	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}

	switch c.Channel.Transport {
	case TransportWebSocket:
		if err := checkURL(c.Channel.WebSocketURL, "ws", "wss"); err != nil {
			return fmt.Errorf("channel.websocket_url: %w", err)
		}
	case TransportNATS:
		if err := checkURL(c.Channel.NATSURL, "nats", "tls"); err != nil {
			return fmt.Errorf("channel.nats_url: %w", err)
		}
		if c.Channel.SubjectPrefix == "" {
			return errors.New("channel.subject_prefix is required for nats")
		}
	case TransportNone:
	default:
		return fmt.Errorf("channel.transport: unknown transport %q", c.Channel.Transport)
	}

	durations := map[string]time.Duration{
		"api.request_timeout":     c.API.RequestTimeout,
		"channel.ack_timeout":     c.Channel.AckTimeout,
		"channel.reconnect_delay": c.Channel.ReconnectDelay,
		"sync.resync_interval":    c.Sync.ResyncInterval,
		"sync.tick_interval":      c.Sync.TickInterval,
		"sync.bid_ttl":            c.Sync.BidTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		return errors.New("channel.max_reconnect_attempts must not be negative")
	}
	if c.Sync.FailureThreshold <= 0 {
		return errors.New("sync.failure_threshold must be positive")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// SnapshotConfig returns the fetcher settings.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		ResyncInterval:   c.Sync.ResyncInterval,
		RequestTimeout:   c.API.RequestTimeout,
		FailureThreshold: c.Sync.FailureThreshold,
	}
}

// ChannelConfig returns the live channel policy.
func (c *Config) ChannelConfig() channel.Config {
	return channel.Config{
		AckTimeout:           c.Channel.AckTimeout,
		ReconnectDelay:       c.Channel.ReconnectDelay,
		MaxReconnectAttempts: c.Channel.MaxReconnectAttempts,
	}
}

// Credentials returns the gateway identity.
func (c *Config) Credentials() channel.Credentials {
	return channel.Credentials{UserID: c.API.UserID, Token: c.API.Token}
}

// Dialer builds the configured live-channel transport, nil for "none".
func (c *Config) Dialer() channel.Dialer {
	switch c.Channel.Transport {
	case TransportWebSocket:
		return channel.NewWebSocketDialer(channel.DefaultWebSocketConfig(c.Channel.WebSocketURL))
	case TransportNATS:
		nc := channel.DefaultNATSConfig(c.Channel.NATSURL)
		nc.SubjectPrefix = c.Channel.SubjectPrefix
		return channel.NewNATSDialer(nc)
	default:
		return nil
	}
}

// RoomDeps assembles what rooms share, given the snapshot source.
func (c *Config) RoomDeps(snapshots room.Snapshots) room.Deps {
	return room.Deps{
		Snapshots:      snapshots,
		Dialer:         c.Dialer(),
		Credentials:    c.Credentials(),
		Channel:        c.ChannelConfig(),
		ResyncInterval: c.Sync.ResyncInterval,
		TickInterval:   c.Sync.TickInterval,
		BidTTL:         c.Sync.BidTTL,
		RequestTimeout: c.API.RequestTimeout,
	}
}

func overrideWithEnv(cfg *Config) {
	cfg.API.BaseURL = getEnv("BAZAAR_API_URL", cfg.API.BaseURL)
	cfg.API.Token = getEnv("BAZAAR_TOKEN", cfg.API.Token)
	cfg.API.UserID = getEnv("BAZAAR_USER_ID", cfg.API.UserID)
	cfg.API.RequestTimeout = getEnvAsDuration("BAZAAR_REQUEST_TIMEOUT", cfg.API.RequestTimeout)

	cfg.Channel.Transport = strings.ToLower(getEnv("BAZAAR_TRANSPORT", cfg.Channel.Transport))
	cfg.Channel.WebSocketURL = getEnv("BAZAAR_WS_URL", cfg.Channel.WebSocketURL)
	cfg.Channel.NATSURL = getEnv("BAZAAR_NATS_URL", cfg.Channel.NATSURL)
	cfg.Channel.AckTimeout = getEnvAsDuration("BAZAAR_ACK_TIMEOUT", cfg.Channel.AckTimeout)
	cfg.Channel.MaxReconnectAttempts = getEnvAsInt("BAZAAR_MAX_RECONNECT_ATTEMPTS", cfg.Channel.MaxReconnectAttempts)

	cfg.Sync.ResyncInterval = getEnvAsDuration("BAZAAR_RESYNC_INTERVAL", cfg.Sync.ResyncInterval)

	cfg.Hub.Addr = getEnv("BAZAAR_HUB_ADDR", cfg.Hub.Addr)
	if origins := os.Getenv("BAZAAR_ALLOWED_ORIGINS"); origins != "" {
		cfg.Hub.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.Logging.Level = getEnv("BAZAAR_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("BAZAAR_LOG_FILE", cfg.Logging.File)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %v", raw, schemes)
}
