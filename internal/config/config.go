// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/game"
	"github.com/jason-s-yu/bingo/internal/historian"
)

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Postgres holds the connection parameters shared by the ledger and the historian.
type Postgres struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

// DSN renders the parameters as a postgres:// URL.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

// Enabled reports whether a host was configured at all.
func (p Postgres) Enabled() bool {
	return p.Host != ""
}

type Config struct {
	Rules   game.Rules
	Account uuid.UUID

	Port     string
	LogLevel string

	LedgerBackend string
	Postgres      Postgres
	// AllowDeposits exposes the self-service deposit endpoint. It defaults to on
	// only for the memory backend, where balances are play money.
	AllowDeposits bool

	RedisAddr  string
	RedisDB    int
	QueueName  string
	BatchSize  int
	FlushEvery time.Duration
	Inactivity time.Duration

	TokenExpire time.Duration
}

func Default() Config {
	return Config{
		Rules:         game.DefaultRules(),
		Account:       game.DefaultAccount,
		Port:          "8080",
		LogLevel:      "debug",
		LedgerBackend: LedgerMemory,
		Postgres: Postgres{
			Port:     "5432",
			Database: "bingo",
		},
		QueueName:  cache.DefaultQueueName,
		BatchSize:  100,
		FlushEvery: 5 * time.Second,
		Inactivity: historian.DefaultInactivity,
	}
}

// Load starts from Default and applies every variable that is set. Malformed
// values are reported rather than silently ignored, since they change game rules.
func Load() (Config, error) {
	cfg := Default()
	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	if raw := os.Getenv("BINGO_JOIN_DURATION"); raw != "" {
		if d, err := time.ParseDuration(raw); err != nil {
			fail("BINGO_JOIN_DURATION", err)
		} else {
			cfg.Rules.JoinDuration = d
		}
	}
	if raw := os.Getenv("BINGO_TURN_DURATION"); raw != "" {
		if d, err := time.ParseDuration(raw); err != nil {
			fail("BINGO_TURN_DURATION", err)
		} else {
			cfg.Rules.TurnDuration = d
		}
	}
	if raw := os.Getenv("BINGO_JOIN_FEE"); raw != "" {
		if fee, err := uint256.FromDecimal(raw); err != nil {
			fail("BINGO_JOIN_FEE", err)
		} else {
			cfg.Rules.JoinFee = *fee
		}
	}
	if raw := os.Getenv("BINGO_JOIN_TOKEN"); raw != "" {
		cfg.Rules.JoinToken = raw
	}
	if raw := os.Getenv("BINGO_DRAW_RETRIES"); raw != "" {
		if n, err := strconv.Atoi(raw); err != nil {
			fail("BINGO_DRAW_RETRIES", err)
		} else {
			cfg.Rules.DrawRetries = n
		}
	}
	if raw := os.Getenv("BINGO_ACCOUNT"); raw != "" {
		if id, err := uuid.Parse(raw); err != nil {
			fail("BINGO_ACCOUNT", err)
		} else {
			cfg.Account = id
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.LedgerBackend = strings.ToLower(getEnv("LEDGER_BACKEND", cfg.LedgerBackend))
	if cfg.LedgerBackend != LedgerMemory && cfg.LedgerBackend != LedgerPostgres {
		fail("LEDGER_BACKEND", fmt.Errorf("unknown backend %q", cfg.LedgerBackend))
	}
	cfg.AllowDeposits = cfg.LedgerBackend == LedgerMemory
	if raw := os.Getenv("LEDGER_ALLOW_DEPOSITS"); raw != "" {
		if allow, err := strconv.ParseBool(raw); err != nil {
			fail("LEDGER_ALLOW_DEPOSITS", err)
		} else {
			cfg.AllowDeposits = allow
		}
	}
	cfg.Postgres = Postgres{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Host:     os.Getenv("PG_HOST"),
		Port:     getEnv("PG_PORT", cfg.Postgres.Port),
		Database: getEnv("PG_DATABASE", cfg.Postgres.Database),
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.QueueName = getEnv("HISTORIAN_QUEUE_NAME", cfg.QueueName)
	cfg.BatchSize = getEnvInt("HISTORIAN_BATCH_SIZE", cfg.BatchSize)
	if raw := os.Getenv("HISTORIAN_FLUSH_INTERVAL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.FlushEvery = time.Duration(ms) * time.Millisecond
		}
	}
	if sec := getEnvInt("GAME_INACTIVITY_TIMEOUT_SEC", 0); sec > 0 {
		cfg.Inactivity = time.Duration(sec) * time.Second
	}

	if raw := os.Getenv("TOKEN_EXPIRE_TIME"); raw != "" && raw != "never" && raw != "0" {
		if d, err := time.ParseDuration(raw); err != nil {
			fail("TOKEN_EXPIRE_TIME", err)
		} else {
			cfg.TokenExpire = d
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Rules.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
