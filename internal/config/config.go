package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/room"
)

type Config struct {
	Addr        string
	DatabaseURL string
	Dev         bool

	Rules engine.Rules
	Room  room.Config

	OptimisticTTL   time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		Rules:           engine.DefaultRules(),
		Room:            room.DefaultConfig(),
		OptimisticTTL:   5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load resolves the configuration: defaults, then envFile (missing is fine),
// then the process environment, then flags that were set explicitly.
func Load(args []string, envFile string) (Config, error) {
	cfg := Default()

	fileEnv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", envFile, err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := cfg.fromEnv(lookup); err != nil {
		return cfg, err
	}
	if err := cfg.fromFlags(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) fromEnv(lookup func(string) (string, bool)) error {
	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			errs = multierr.Append(errs, wrap(key, err))
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			errs = multierr.Append(errs, wrap(key, err))
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			errs = multierr.Append(errs, wrap(key, err))
			*dst = d
		}
	}

	str("ADDR", &c.Addr)
	str("DATABASE_URL", &c.DatabaseURL)
	boolean("DEV", &c.Dev)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}

	integer("MAX_REJECTIONS", &c.Rules.MaxRejections)
	duration("ROLE_REVEAL_TIMEOUT", &c.Rules.RoleRevealTimeout)
	duration("PROPOSAL_TIMEOUT", &c.Rules.ProposalTimeout)
	duration("VOTE_TIMEOUT", &c.Rules.VoteTimeout)
	duration("MISSION_TIMEOUT", &c.Rules.MissionTimeout)
	duration("ELIMINATION_TIMEOUT", &c.Rules.EliminationTimeout)
	duration("RECONNECT_GRACE", &c.Rules.ReconnectGrace)

	duration("ROOM_IDLE_TIMEOUT", &c.Room.IdleTimeout)
	integer("SNAPSHOT_THRESHOLD", &c.Room.SnapshotThreshold)
	integer("DELTA_LOG_SIZE", &c.Room.LogSize)
	integer("CONN_QUEUE_DEPTH", &c.Room.QueueDepth)
	integer("COMMIT_ATTEMPTS", &c.Room.CommitAttempts)

	duration("OPTIMISTIC_TTL", &c.OptimisticTTL)
	duration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	return errs
}

func (c *Config) fromFlags(args []string) error {
	set := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := set.String("addr", c.Addr, "listen address")
	db := set.String("database-url", c.DatabaseURL, "postgres URL or sqlite DSN; empty keeps rooms in memory")
	dev := set.Bool("dev", c.Dev, "development logging")
	if err := set.Parse(args); err != nil {
		return err
	}
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			c.Addr = *addr
		case "database-url":
			c.DatabaseURL = *db
		case "dev":
			c.Dev = *dev
		}
	})
	return nil
}

func (c Config) Validate() error {
	var errs error
	check := func(ok bool, msg string) {
		if !ok {
			errs = multierr.Append(errs, errors.New(msg))
		}
	}
	check(c.Addr != "", "ADDR is empty")
	check(c.Rules.MaxRejections > 0, "MAX_REJECTIONS must be positive")
	check(c.Rules.ReconnectGrace > 0, "RECONNECT_GRACE must be positive")
	for name, d := range map[string]time.Duration{
		"ROLE_REVEAL_TIMEOUT": c.Rules.RoleRevealTimeout,
		"PROPOSAL_TIMEOUT":    c.Rules.ProposalTimeout,
		"VOTE_TIMEOUT":        c.Rules.VoteTimeout,
		"MISSION_TIMEOUT":     c.Rules.MissionTimeout,
		"ELIMINATION_TIMEOUT": c.Rules.EliminationTimeout,
	} {
		check(d >= 0, name+" must not be negative")
	}
	check(c.Room.IdleTimeout > 0, "ROOM_IDLE_TIMEOUT must be positive")
	check(c.Room.SnapshotThreshold > 0, "SNAPSHOT_THRESHOLD must be positive")
	check(c.Room.LogSize >= c.Room.SnapshotThreshold, "DELTA_LOG_SIZE must be at least SNAPSHOT_THRESHOLD")
	check(c.Room.QueueDepth >= 2, "CONN_QUEUE_DEPTH must be at least 2")
	// A catch-up sequence of deltas has to fit in one connection queue.
	check(c.Room.QueueDepth > c.Room.SnapshotThreshold, "CONN_QUEUE_DEPTH must exceed SNAPSHOT_THRESHOLD")
	check(c.Room.CommitAttempts > 0, "COMMIT_ATTEMPTS must be positive")
	return errs
}

func wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}
