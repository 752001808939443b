// Package config loads cipherbid settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/cipherbid/validation"
)

const envPrefix = "CIPHERBID_"

// Co-processor modes.
const (
	ModeMemory = "memory"
	ModeVsock  = "vsock"
)

// Config is the full service configuration.
type Config struct {
	Owner         string `yaml:"owner"`
	DurationHours int64  `yaml:"duration_hours"`
	SecurityZone  int32  `yaml:"security_zone"`
	ChainID       uint64 `yaml:"chain_id"`
	Prize         string `yaml:"prize"`

	ListenAddr  string `yaml:"listen_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	HistoryPath string `yaml:"history_path"` // empty keeps history in memory

	Coprocessor Coprocessor `yaml:"coprocessor"`
}

// Coprocessor selects and tunes the encryption co-processor.
type Coprocessor struct {
	Mode           string              `yaml:"mode"`
	CID            uint32              `yaml:"cid"`
	Port           uint32              `yaml:"port"`
	MaxWorkers     int                 `yaml:"max_workers"`
	TimeoutSeconds int                 `yaml:"timeout_seconds"`
	SigningKeyPath string              `yaml:"signing_key_path"`
	AutoResolve    bool                `yaml:"auto_resolve"`
	PCRFile        string              `yaml:"pcr_file"`
	PCRSets        []validation.PCRSet `yaml:"pcr_sets"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		DurationHours: 24,
		ChainID:       11155111,
		Prize:         "0",
		ListenAddr:    ":8080",
		LogLevel:      "info",
		LogFormat:     "json",
		Coprocessor: Coprocessor{
			Mode:           ModeMemory,
			CID:            16,
			Port:           5000,
			MaxWorkers:     16,
			TimeoutSeconds: 10,
		},
	}
}

// Load reads path over the defaults, applies CIPHERBID_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Coprocessor.PCRFile != "" {
		sets, err := validation.LoadPCRsFromFile(cfg.Coprocessor.PCRFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load PCR sets: %w", err)
		}
		cfg.Coprocessor.PCRSets = append(cfg.Coprocessor.PCRSets, sets...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, bits int, set func(int64)) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, bits)
		if err != nil {
			return fmt.Errorf("invalid value for %s%s: %s (must be a valid integer)", envPrefix, key, v)
		}
		set(n)
		return nil
	}
	unum := func(key string, bits int, set func(uint64)) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return fmt.Errorf("invalid value for %s%s: %s (must be a valid unsigned integer)", envPrefix, key, v)
		}
		set(n)
		return nil
	}

	str("OWNER", &c.Owner)
	str("PRIZE", &c.Prize)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("HISTORY_PATH", &c.HistoryPath)
	str("COPROCESSOR_MODE", &c.Coprocessor.Mode)
	str("SIGNING_KEY_PATH", &c.Coprocessor.SigningKeyPath)
	str("PCR_FILE", &c.Coprocessor.PCRFile)

	return errors.Join(
		num("DURATION_HOURS", 64, func(n int64) { c.DurationHours = n }),
		num("SECURITY_ZONE", 32, func(n int64) { c.SecurityZone = int32(n) }),
		num("MAX_WORKERS", 32, func(n int64) { c.Coprocessor.MaxWorkers = int(n) }),
		num("TIMEOUT_SECONDS", 32, func(n int64) { c.Coprocessor.TimeoutSeconds = int(n) }),
		unum("CHAIN_ID", 64, func(n uint64) { c.ChainID = n }),
		unum("VSOCK_CID", 32, func(n uint64) { c.Coprocessor.CID = uint32(n) }),
		unum("VSOCK_PORT", 32, func(n uint64) { c.Coprocessor.Port = uint32(n) }),
	)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.Owner) {
		errs = append(errs, fmt.Errorf("owner must be a hex address, got %q", c.Owner))
	}
	if c.DurationHours <= 0 {
		errs = append(errs, fmt.Errorf("duration_hours must be positive"))
	}
	if c.ChainID == 0 {
		errs = append(errs, fmt.Errorf("chain_id must be set"))
	}
	if prize, err := decimal.NewFromString(c.Prize); err != nil {
		errs = append(errs, fmt.Errorf("prize must be a decimal: %w", err))
	} else if prize.IsNegative() {
		errs = append(errs, fmt.Errorf("prize must not be negative"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr must be set"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}

	errs = append(errs, c.Coprocessor.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Coprocessor) validate() []error {
	var errs []error
	switch c.Mode {
	case ModeMemory:
	case ModeVsock:
		if c.Port == 0 {
			errs = append(errs, fmt.Errorf("coprocessor.port must be set in vsock mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("coprocessor.mode must be memory or vsock, got %q", c.Mode))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("coprocessor.max_workers must be positive"))
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("coprocessor.timeout_seconds must be positive"))
	}
	return errs
}

// Validate checks only the co-processor settings, for processes that do not
// run an auction.
func (c *Coprocessor) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("invalid coprocessor config: %w", errors.Join(errs...))
	}
	return nil
}

// FromEnv returns the defaults with CIPHERBID_* overrides applied, unvalidated.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OwnerAddress returns the parsed owner. Call after Validate.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}

// PrizeAmount returns the parsed prize. Call after Validate.
func (c *Config) PrizeAmount() decimal.Decimal {
	return decimal.RequireFromString(c.Prize)
}

// Timeout is the co-processor round-trip timeout.
func (c *Coprocessor) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Logger builds the root logger writing to w.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "cipherbid").Logger()
}
