package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Hub   HubConfig   `yaml:"hub"`
	Agent AgentConfig `yaml:"agent"`
}

// HubConfig configures the presence hub server.
type HubConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	AuthToken         string        `yaml:"auth_token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	DemoUsers         []string      `yaml:"demo_users"`
	DemoInterval      time.Duration `yaml:"demo_interval"`
}

// AgentConfig configures the workstation presence agent.
type AgentConfig struct {
	HubURL       string `yaml:"hub_url"`
	SocketURL    string `yaml:"socket_url"` // derived from hub_url when empty
	StateDir     string `yaml:"state_dir"`  // default: XDG state dir
	ActivityFile string `yaml:"activity_file"`
	CompanionPID int32  `yaml:"companion_pid"` // 0 disables the watchdog

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WarnSeconds   int           `yaml:"warn_seconds"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	AttachRetry   time.Duration `yaml:"attach_retry"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			DemoInterval:      3 * time.Second,
		},
		Agent: AgentConfig{
			HubURL:        "http://localhost:8080",
			IdleTimeout:   10 * time.Minute,
			WarnSeconds:   60,
			Heartbeat:     5 * time.Second,
			AttachRetry:   time.Second,
			WatchInterval: 2 * time.Second,
			FlushTimeout:  3 * time.Second,
		},
	}
}

// WSURL returns the agent's websocket endpoint: socket_url when set,
// otherwise hub_url with the scheme switched to ws/wss and the path
// replaced by /ws.
func (a AgentConfig) WSURL() (string, error) {
	if a.SocketURL != "" {
		return a.SocketURL, nil
	}
	u, err := url.Parse(a.HubURL)
	if err != nil {
		return "", fmt.Errorf("parsing hub_url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}
