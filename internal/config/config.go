// Package config holds the runtime configuration for both roles.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Role represents the process role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Config stores all parameters gathered from the YAML file and CLI flags.
type Config struct {
	Role Role

	// ListenAddr is the UDP address the server binds (host:port).
	ListenAddr string

	// ServerAddr is the UDP address the client dials (host:port).
	ServerAddr string

	// TickInterval drives retransmission and timeout checks. Must stay
	// between 10ms and 100ms for the retransmit timing to hold.
	TickInterval time.Duration

	// RetransmitInterval is how long an unacked reliable chunk waits
	// before being resent.
	RetransmitInterval time.Duration

	// IdleTimeout closes a session after this long without inbound
	// traffic.
	IdleTimeout time.Duration

	// CompletedRetention is how long delivered sequences are remembered
	// to suppress duplicates.
	CompletedRetention time.Duration

	// SnapshotInterval is how often the server broadcasts world
	// snapshots.
	SnapshotInterval time.Duration

	// PacketLoss drops this fraction of inbound datagrams on purpose,
	// for exercising the reliability layer. 0 disables it.
	PacketLoss float64
}

// rawConfig is the YAML shape; durations are Go duration strings
// ("100ms", "15s").
type rawConfig struct {
	ListenAddr         string  `yaml:"listen_addr"`
	ServerAddr         string  `yaml:"server_addr"`
	TickInterval       string  `yaml:"tick_interval"`
	RetransmitInterval string  `yaml:"retransmit_interval"`
	IdleTimeout        string  `yaml:"idle_timeout"`
	CompletedRetention string  `yaml:"completed_retention"`
	SnapshotInterval   string  `yaml:"snapshot_interval"`
	PacketLoss         float64 `yaml:"packet_loss"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		ListenAddr:         ":29086",
		ServerAddr:         "127.0.0.1:29086",
		TickInterval:       50 * time.Millisecond,
		RetransmitInterval: 100 * time.Millisecond,
		IdleTimeout:        15 * time.Second,
		CompletedRetention: 30 * time.Second,
		SnapshotInterval:   100 * time.Millisecond,
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if raw.ListenAddr != "" {
		cfg.ListenAddr = raw.ListenAddr
	}
	if raw.ServerAddr != "" {
		cfg.ServerAddr = raw.ServerAddr
	}
	cfg.PacketLoss = raw.PacketLoss

	durations := []struct {
		value string
		field *time.Duration
	}{
		{raw.TickInterval, &cfg.TickInterval},
		{raw.RetransmitInterval, &cfg.RetransmitInterval},
		{raw.IdleTimeout, &cfg.IdleTimeout},
		{raw.CompletedRetention, &cfg.CompletedRetention},
		{raw.SnapshotInterval, &cfg.SnapshotInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, fmt.Errorf("invalid duration %q in %s: %w", d.value, path, err)
		}
		*d.field = parsed
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.TickInterval < 10*time.Millisecond || c.TickInterval > 100*time.Millisecond {
		return fmt.Errorf("tick_interval %v out of range (10ms ~ 100ms)", c.TickInterval)
	}
	if c.PacketLoss < 0 || c.PacketLoss >= 1 {
		return fmt.Errorf("packet_loss %v out of range (0 ~ 1)", c.PacketLoss)
	}
	return nil
}
