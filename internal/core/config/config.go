package config

import (
	"github.com/vietddude/perpkeeper/internal/funding"
	"github.com/vietddude/perpkeeper/internal/indexing/ingest"
	"github.com/vietddude/perpkeeper/internal/infra/chain/evm"
	"github.com/vietddude/perpkeeper/internal/infra/notify"
	redisclient "github.com/vietddude/perpkeeper/internal/infra/redis"
	"github.com/vietddude/perpkeeper/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Chain    evm.Config         `yaml:"chain"`
	Funding  funding.Config     `yaml:"funding"`
	Ingest   ingest.Config      `yaml:"ingest"`
	Notify   notify.Config      `yaml:"notify"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// UseDatabase reports whether a Postgres store is configured. Without one
// the keeper keeps prices in memory.
func (c *AppConfig) UseDatabase() bool {
	return c.Database.URL != ""
}

// UseRedis reports whether the latest price cache is configured.
func (c *AppConfig) UseRedis() bool {
	return c.Redis.URL != ""
}
