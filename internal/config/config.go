package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable, e.g. SUARAWARGA_HTTP_ADDR.
const EnvPrefix = "suarawarga"

type HTTPConfig struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

type DatabaseConfig struct {
	DSN string `envconfig:"DSN" default:"host=localhost user=user password=password dbname=suarawarga port=5432 sslmode=disable"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type LLMConfig struct {
	APIKey            string        `envconfig:"API_KEY"`
	Model             string        `envconfig:"MODEL" default:"claude-3-5-haiku-latest"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"15s"`
	RequestsPerMinute int           `envconfig:"RPM" default:"60"`
}

type LedgerConfig struct {
	Enabled         bool          `envconfig:"ENABLED" default:"false"`
	RPCURL          string        `envconfig:"RPC_URL"`
	ChainID         int64         `envconfig:"CHAIN_ID" default:"11155111"`
	PrivateKey      string        `envconfig:"PRIVATE_KEY"`
	ContractAddress string        `envconfig:"CONTRACT_ADDRESS"`
	SubmitTimeout   time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"30s"`
	ConfirmTimeout  time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"3m"`
	RetryInterval   time.Duration `envconfig:"RETRY_INTERVAL" default:"1m"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"5"`

	// Simulated anchors into an in-process ledger, for local development.
	Simulated bool `envconfig:"SIMULATED" default:"false"`
}

type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEVELOPMENT" default:"false"`
}

// Config is the runtime configuration of the server and the admin CLI.
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig `envconfig:"DB"`
	Redis    RedisConfig
	LLM      LLMConfig
	Ledger   LedgerConfig
	Log      LogConfig

	JWTSecret     string `envconfig:"JWT_SECRET"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	// StrictRegionWindow restricts scoring candidates to the same region.
	StrictRegionWindow bool `envconfig:"STRICT_REGION_WINDOW" default:"false"`
}

// Load reads an optional .env file (ENV_FILE overrides the path) and then
// the process environment.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("SUARAWARGA_JWT_SECRET is required")
	}
	if c.Ledger.Enabled && !c.Ledger.Simulated {
		if c.Ledger.RPCURL == "" {
			return errors.New("ledger enabled but SUARAWARGA_LEDGER_RPC_URL is empty")
		}
		if c.Ledger.PrivateKey == "" {
			return errors.New("ledger enabled but SUARAWARGA_LEDGER_PRIVATE_KEY is empty")
		}
	}
	if c.Ledger.MaxAttempts <= 0 {
		c.Ledger.MaxAttempts = DefaultMaxAnchorAttempts
	}
	return nil
}
