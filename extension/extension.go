package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/grove/kv"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/sharedstate"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/mongo"
	"github.com/xraph/courier/store/postgres"
	courierredis "github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/store/sqlite"
)

var (
	// ErrNoDatabase is returned when a SQL or document driver is selected
	// without a grove database.
	ErrNoDatabase = errors.New("courier: grove database is required for this driver")

	// ErrNoKV is returned when the redis driver is selected without a grove
	// KV store.
	ErrNoKV = errors.New("courier: grove kv store is required for the redis driver")
)

// Extension mounts a Courier in a host application.
type Extension struct {
	config  Config
	db      *grove.DB
	kv      *kv.Store
	store   store.Store
	opts    []courier.Option
	logger  *slog.Logger
	courier *courier.Courier
}

// ExtOption configures the Courier extension.
type ExtOption func(*Extension)

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) { e.config = cfg }
}

// WithBasePath sets the URL prefix for all courier routes.
func WithBasePath(prefix string) ExtOption {
	return func(e *Extension) { e.config.BasePath = prefix }
}

// WithDriver selects the store driver.
func WithDriver(d Driver) ExtOption {
	return func(e *Extension) { e.config.Driver = d }
}

// WithGroveDatabase supplies the database the postgres, sqlite and mongo
// drivers run on.
func WithGroveDatabase(db *grove.DB) ExtOption {
	return func(e *Extension) { e.db = db }
}

// WithGroveKV supplies the KV store used by the redis driver and for shared
// breaker state.
func WithGroveKV(store *kv.Store) ExtOption {
	return func(e *Extension) { e.kv = store }
}

// WithStore bypasses driver selection with a ready store.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) { e.store = s }
}

// WithLogger sets the logger for the extension and the Courier it builds.
func WithLogger(logger *slog.Logger) ExtOption {
	return func(e *Extension) { e.logger = logger }
}

// WithCourierOption appends a raw courier.Option, applied after the config.
func WithCourierOption(opt courier.Option) ExtOption {
	return func(e *Extension) { e.opts = append(e.opts, opt) }
}

// WithDisableRoutes disables automatic route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate disables store migration on Start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// New builds the store and the Courier described by the options.
func New(opts ...ExtOption) (*Extension, error) {
	e := &Extension{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.validate(); err != nil {
		return nil, err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return nil, err
		}
		e.store = s
	}

	copts := []courier.Option{
		courier.WithConfig(e.config.Config),
		courier.WithStore(e.store),
		courier.WithLogger(e.logger),
	}
	if e.kv != nil {
		copts = append(copts, courier.WithSharedState(sharedstate.NewRedisFromKV(e.kv, e.config.KeyPrefix)))
	}

	c, err := courier.New(append(copts, e.opts...)...)
	if err != nil {
		return nil, err
	}
	e.courier = c
	return e, nil
}

func (e *Extension) driver() Driver {
	switch {
	case e.config.Driver != "":
		return e.config.Driver
	case e.db != nil:
		return DriverPostgres
	case e.kv != nil:
		return DriverRedis
	default:
		return DriverMemory
	}
}

func (e *Extension) buildStore() (store.Store, error) {
	switch d := e.driver(); d {
	case DriverMemory:
		return memory.New(), nil
	case DriverPostgres, DriverSQLite, DriverMongo:
		if e.db == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoDatabase, d)
		}
		switch d {
		case DriverSQLite:
			return sqlite.New(e.db), nil
		case DriverMongo:
			return mongo.New(e.db), nil
		default:
			return postgres.New(e.db), nil
		}
	case DriverRedis:
		if e.kv == nil {
			return nil, ErrNoKV
		}
		return courierredis.New(e.kv), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", courier.ErrInvalidConfig, d)
	}
}

// Courier returns the underlying Courier instance.
func (e *Extension) Courier() *courier.Courier { return e.courier }

// Store returns the store the Courier runs on.
func (e *Extension) Store() store.Store { return e.store }

// Config returns the extension configuration.
func (e *Extension) Config() Config { return e.config }

// Driver returns the store driver in use.
func (e *Extension) Driver() Driver { return e.driver() }

// BasePath returns the configured URL prefix without a trailing slash.
func (e *Extension) BasePath() string { return strings.TrimSuffix(e.config.BasePath, "/") }

// Handler returns the admin API mounted under the base path. It can be used
// without Forge. With DisableRoutes it returns nil.
func (e *Extension) Handler() http.Handler {
	if e.config.DisableRoutes {
		return nil
	}
	h := api.NewHandler(e.courier, e.logger)
	base := e.BasePath()
	if base == "" {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(base+"/", http.StripPrefix(base, h))
	return mux
}

// RegisterRoutes registers the admin API on a Forge router under the base
// path.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) {
	if e.config.DisableRoutes {
		return
	}
	api.NewForgeAPI(e.courier, log).WithBasePath(e.BasePath()).RegisterRoutes(router)
}

// Start migrates the store and starts the delivery engine.
func (e *Extension) Start(ctx context.Context) error {
	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", courier.ErrMigrationFailed, err)
		}
	}
	if e.config.DisableEngine {
		e.logger.Info("courier extension started", slog.String("driver", string(e.driver())), slog.Bool("engine", false))
		return nil
	}
	if err := e.courier.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("courier extension started", slog.String("driver", string(e.driver())), slog.Bool("engine", true))
	return nil
}

// Stop drains the delivery engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.config.DisableEngine {
		return nil
	}
	return e.courier.Stop(ctx)
}

// Health reports store connectivity.
func (e *Extension) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}
