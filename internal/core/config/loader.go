package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/perpkeeper/internal/funding"
	"github.com/vietddude/perpkeeper/internal/indexing/ingest"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding ${ENV} references and applying
// defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}

	fd := funding.DefaultConfig()
	if c.Funding.RoundPeriod == 0 {
		c.Funding.RoundPeriod = fd.RoundPeriod
	}
	if c.Funding.MaxRestarts == 0 {
		c.Funding.MaxRestarts = fd.MaxRestarts
	}
	if c.Funding.QuietPeriod == 0 {
		c.Funding.QuietPeriod = fd.QuietPeriod
	}

	id := ingest.DefaultConfig()
	if c.Ingest.Backfill.StartBlock == 0 {
		c.Ingest.Backfill.StartBlock = id.Backfill.StartBlock
	}
	if c.Ingest.Backfill.Window == 0 {
		c.Ingest.Backfill.Window = id.Backfill.Window
	}
	if c.Ingest.MaxRestarts == 0 {
		c.Ingest.MaxRestarts = id.MaxRestarts
	}
	if c.Ingest.QuietPeriod == 0 {
		c.Ingest.QuietPeriod = id.QuietPeriod
	}
}

// Validate checks the settings the keeper cannot start without.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Chain.HTTPURL == "" {
		errs = append(errs, errors.New("chain.http_url is required"))
	}
	if c.Chain.WSURL == "" {
		errs = append(errs, errors.New("chain.ws_url is required"))
	}
	if _, err := c.Chain.Address(); err != nil {
		errs = append(errs, fmt.Errorf("chain.contract_address: %w", err))
	}
	if _, err := c.Chain.Key(); err != nil {
		errs = append(errs, fmt.Errorf("chain.private_key: %w", err))
	}
	if c.UseDatabase() && c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("database.driver %q must be pgx or postgres", c.Database.Driver))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Server.GRPCPort != 0 && c.Server.Port == c.Server.GRPCPort {
		errs = append(errs, errors.New("server.port and server.grpc_port must differ"))
	}

	return errors.Join(errs...)
}
