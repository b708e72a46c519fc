// Package config defines the recognized settings record of spec.md §6
// and the validation rules the rest of aerolithdb relies on having
// already been checked once, at the boundary.
//
// Grounded on pkg/manager.Config (NodeID/BindAddr/DataDir, a small
// struct passed straight to a constructor) generalized to the full
// settings record, and on cmd/warren/main.go's apply.go for the
// gopkg.in/yaml.v3 loading idiom. Loading itself — a file watcher, a
// flag parser, environment overlays — is out of scope (§1 Non-goals):
// this package only defines the struct, its YAML shape, and Validate.
package config

import (
	"fmt"
	"time"

	"github.com/cuemby/aerolithdb/pkg/sharding"
)

// Duration wraps time.Duration so YAML values can be written the
// readable way ("5s", "500ms") instead of raw nanosecond integers;
// yaml.v3 has no built-in support for time.Duration scalars.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("500ms") or a bare
// integer (interpreted as nanoseconds, matching time.Duration's own
// underlying representation).
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("unsupported duration value: %v", raw)
	}
	return nil
}

// Config is the settings record of spec.md §6: every option a
// configuration loader (out of scope) is expected to supply.
type Config struct {
	NodeID             string           `yaml:"node_id"`
	BindAddress        string           `yaml:"bind_address"`
	Port               int              `yaml:"port"`
	ExternalAddress    string           `yaml:"external_address,omitempty"`
	DataDir            string           `yaml:"data_dir"`
	BootstrapPeers     []string          `yaml:"bootstrap_peers"`
	MaxConnections     int               `yaml:"max_connections"`
	ConnectionTimeout  Duration          `yaml:"connection_timeout"`
	HeartbeatInterval  Duration          `yaml:"heartbeat_interval"`
	ShardingStrategy   sharding.Strategy `yaml:"sharding_strategy"`
	ReplicationFactor  int               `yaml:"replication_factor"`
	ConsensusAlgorithm string            `yaml:"consensus_algorithm"`
	ByzantineTolerance float64           `yaml:"byzantine_tolerance"`
	ConsensusTimeout   Duration          `yaml:"consensus_timeout"`
	ConsensusMaxBatch  int               `yaml:"consensus_max_batch_size"`
	EncryptionAtRest   bool              `yaml:"encryption_at_rest"`
}

// Default returns a Config populated with the same sort of
// LAN/edge-tuned defaults as consensus.NewRaftBinding's hardcoded
// timeouts, suitable for a single-node bootstrap or a test fixture.
func Default() Config {
	return Config{
		BindAddress:        "0.0.0.0",
		Port:               7420,
		DataDir:            "./data",
		MaxConnections:     256,
		ConnectionTimeout:  Duration(5 * time.Second),
		HeartbeatInterval:  Duration(500 * time.Millisecond),
		ShardingStrategy:   sharding.ConsistentHash,
		ReplicationFactor:  3,
		ConsensusAlgorithm: "raft",
		ByzantineTolerance: 0.33,
		ConsensusTimeout:   Duration(5 * time.Second),
		ConsensusMaxBatch:  64,
		EncryptionAtRest:   false,
	}
}

// Validate enforces the recognized-value constraints spec.md §6 names:
// sharding_strategy is one of the three known strategies,
// replication_factor is at least 1, and byzantine_tolerance lies in
// [0, 0.5].
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.ShardingStrategy {
	case sharding.ConsistentHash, sharding.Range, sharding.Modulo:
	default:
		return fmt.Errorf("sharding_strategy: unrecognized value %q", c.ShardingStrategy)
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("replication_factor must be >= 1, got %d", c.ReplicationFactor)
	}
	if c.ByzantineTolerance < 0 || c.ByzantineTolerance > 0.5 {
		return fmt.Errorf("byzantine_tolerance must be in [0, 0.5], got %f", c.ByzantineTolerance)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}
