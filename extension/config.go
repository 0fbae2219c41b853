package extension

import (
	"fmt"

	"github.com/xraph/courier"
)

// Driver names the persistence backend the extension builds.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverMongo    Driver = "mongo"
	DriverRedis    Driver = "redis"
)

// Config holds configuration for the Courier extension.
// Fields can be set programmatically via ExtOption functions or loaded from
// YAML configuration files (under "extensions.courier" or "courier" keys).
type Config struct {
	// Config embeds the core courier configuration.
	courier.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for all courier routes (default: "/webhooks").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// Driver selects the store. Empty means postgres when a grove database is
	// supplied, redis when only a KV store is, and memory otherwise.
	Driver Driver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// KeyPrefix namespaces the shared breaker and rate limit keys in the KV
	// store (default: "courier:state:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`

	// DisableRoutes disables automatic route registration.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// DisableMigrate disables automatic store migration on Start.
	DisableMigrate bool `json:"disable_migrate" yaml:"disable_migrate" mapstructure:"disable_migrate"`

	// DisableEngine keeps the delivery engine stopped on Start. Scans then
	// only happen through POST /worker/tick.
	DisableEngine bool `json:"disable_engine" yaml:"disable_engine" mapstructure:"disable_engine"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:    courier.DefaultConfig(),
		BasePath:  "/webhooks",
		KeyPrefix: "courier:state:",
	}
}

func (c Config) validate() error {
	switch c.Driver {
	case "", DriverMemory, DriverPostgres, DriverSQLite, DriverMongo, DriverRedis:
	default:
		return fmt.Errorf("%w: unknown store driver %q", courier.ErrInvalidConfig, c.Driver)
	}
	return nil
}
