package raft

import (
	"flag"
	"time"
)

// Config holds the tunables recognized by the engine (spec §6). Validate
// must be called once at startup; NewEngine does not validate the config
// it is given.
type Config struct {
	// ElectionTimeoutMin is the lower bound, in milliseconds, of the
	// randomized election timeout.
	ElectionTimeoutMin int
	// ElectionTimeoutMax is the upper bound, in milliseconds.
	ElectionTimeoutMax int
	// HeartbeatIntervalMs is the leader heartbeat period, in milliseconds.
	HeartbeatIntervalMs int

	// EnableTick gates all timers (election + heartbeat).
	EnableTick bool
	// EnableHeartbeat gates leader heartbeats specifically.
	EnableHeartbeat bool
	// EnableElect gates the election timer specifically.
	EnableElect bool

	// Seed seeds the per-node RNG used for randomized election timeouts.
	// Zero means "derive a seed from crypto/rand at construction time",
	// which is the right default in production; tests set this explicitly
	// for reproducibility.
	Seed int64
}

// DefaultConfig returns the configuration defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin:  150,
		ElectionTimeoutMax:  300,
		HeartbeatIntervalMs: 50,
		EnableTick:          true,
		EnableHeartbeat:     true,
		EnableElect:         true,
	}
}

// Validate checks the two config invariants named in spec §5/§7.
func (c Config) Validate() error {
	if c.ElectionTimeoutMin > c.ElectionTimeoutMax {
		return &ConfigError{
			Kind: ElectionTimeoutKind,
			Min:  c.ElectionTimeoutMin,
			Max:  c.ElectionTimeoutMax,
		}
	}
	if c.HeartbeatIntervalMs >= c.ElectionTimeoutMin {
		return &ConfigError{
			Kind:               ElectionTimeoutLTHeartBeatKind,
			ElectionTimeoutMin: c.ElectionTimeoutMin,
			HeartbeatInterval:  c.HeartbeatIntervalMs,
		}
	}
	return nil
}

func (c Config) electionTimeoutMin() time.Duration {
	return time.Duration(c.ElectionTimeoutMin) * time.Millisecond
}

func (c Config) electionTimeoutMax() time.Duration {
	return time.Duration(c.ElectionTimeoutMax) * time.Millisecond
}

func (c Config) heartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// ConfigFromArgs builds a Config starting from DefaultConfig and applying
// CLI flags. Boolean flags accept the three forms spec §6 names: bare
// ("--enable-tick"), "--enable-tick=true", and "--enable-tick=false" — the
// standard flag package already parses all three for *bool flags, so no
// hand-rolled parser is needed here.
func ConfigFromArgs(args []string) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("raftnode", flag.ContinueOnError)
	fs.IntVar(&cfg.ElectionTimeoutMin, "election-timeout-min", cfg.ElectionTimeoutMin, "lower bound of randomized election timeout, ms")
	fs.IntVar(&cfg.ElectionTimeoutMax, "election-timeout-max", cfg.ElectionTimeoutMax, "upper bound of randomized election timeout, ms")
	fs.IntVar(&cfg.HeartbeatIntervalMs, "heartbeat-interval", cfg.HeartbeatIntervalMs, "leader heartbeat period, ms")
	fs.BoolVar(&cfg.EnableTick, "enable-tick", cfg.EnableTick, "enable all timers")
	fs.BoolVar(&cfg.EnableHeartbeat, "enable-heartbeat", cfg.EnableHeartbeat, "enable leader heartbeats")
	fs.BoolVar(&cfg.EnableElect, "enable-elect", cfg.EnableElect, "enable the election timer")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for the per-node election-timeout RNG (0 derives one)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
