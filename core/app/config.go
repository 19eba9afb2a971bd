package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreNATS   = "nats"
)

var (
	ErrNoNodeID       = errors.New("app: node id is required")
	ErrUnknownNode    = errors.New("app: node id is not part of node ids")
	ErrUnknownBackend = errors.New("app: unknown store backend")
)

type Config struct {
	NodeID string `yaml:"node_id"`
	// NodeIDs lists every compute node; shards are spread over them.
	NodeIDs   []string `yaml:"node_ids"`
	NumShards uint32   `yaml:"num_shards"`
	Seed      string   `yaml:"seed"`
	// NatsURL selects the NATS transport and membership feed. Empty keeps
	// everything in process.
	NatsURL string `yaml:"nats_url"`

	Topic          string        `yaml:"topic"`
	WorkersPerNode int           `yaml:"workers_per_node"`
	EvictInterval  time.Duration `yaml:"evict_interval"`
	// Timeout is the deadline of one aggregation.
	Timeout time.Duration `yaml:"timeout"`

	Client  ClientConfig  `yaml:"client"`
	Devices DevicesConfig `yaml:"devices"`
	Store   StoreConfig   `yaml:"store"`
}

type ClientConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Words       int           `yaml:"words"`
	MaxRequests int           `yaml:"max_requests"`
}

type DevicesConfig struct {
	Groups          int           `yaml:"groups"`
	DevicesPerGroup int           `yaml:"devices_per_group"`
	ReportInterval  time.Duration `yaml:"report_interval"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path of the sqlite database file.
	Path string `yaml:"path"`
	// Addr of the redis server, host:port or a redis:// URL.
	Addr string `yaml:"addr"`
	// Bucket of the JetStream key/value store.
	Bucket string `yaml:"bucket"`
}

// DefaultConfig runs a single node with in-process transport and storage.
func DefaultConfig() Config {
	return Config{
		NodeID:         "node-0",
		NumShards:      64,
		Seed:           "fanout",
		Topic:          "stats-workers",
		WorkersPerNode: 4,
		EvictInterval:  30 * time.Second,
		Timeout:        3 * time.Second,
		Client: ClientConfig{
			Interval: 2 * time.Second,
			Words:    6,
		},
		Devices: DevicesConfig{
			Groups:          2,
			DevicesPerGroup: 3,
			ReportInterval:  time.Second,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Path:    "fanout.db",
			Addr:    "localhost:6379",
			Bucket:  "fanout",
		},
	}
}

// LoadConfig reads path on top of the defaults. An empty path returns the
// defaults. NATS_URL, if set, overrides nats_url.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if u := os.Getenv("NATS_URL"); u != "" {
		cfg.NatsURL = u
	}
	return cfg, nil
}

// Validate fills derived defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrNoNodeID
	}
	if len(c.NodeIDs) == 0 {
		c.NodeIDs = []string{c.NodeID}
	}
	known := false
	for _, id := range c.NodeIDs {
		known = known || id == c.NodeID
	}
	if !known {
		return fmt.Errorf("%w: %s not in %v", ErrUnknownNode, c.NodeID, c.NodeIDs)
	}
	if c.NumShards == 0 {
		return errors.New("app: num_shards must be positive")
	}
	if c.WorkersPerNode < 0 {
		return errors.New("app: workers_per_node must not be negative")
	}
	switch c.Store.Backend {
	case "":
		c.Store.Backend = StoreMemory
	case StoreMemory, StoreSQLite, StoreRedis:
	case StoreNATS:
		if c.NatsURL == "" {
			return errors.New("app: the nats store needs nats_url")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}
	return nil
}
