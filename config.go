package courier

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment names the deployment environment. Production enforces the
// master key requirement.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// SenderMode selects how deliveries leave the process.
type SenderMode string

const (
	// SenderHTTP posts deliveries over net/http.
	SenderHTTP SenderMode = "http"

	// SenderNoop logs deliveries and reports success without sending.
	SenderNoop SenderMode = "noop"
)

// Config holds the configuration for a Courier instance.
type Config struct {
	// Environment is development, test or production.
	Environment Environment `json:"environment" yaml:"environment" mapstructure:"environment"`

	// MasterKey seals endpoint signing secrets. Required in production and at
	// least 32 bytes long when set.
	MasterKey string `json:"-" yaml:"-" mapstructure:"master_key"`

	// MasterKeyID labels MasterKey inside ciphertexts.
	MasterKeyID string `json:"master_key_id" yaml:"master_key_id" mapstructure:"master_key_id"`

	// RetiredMasterKeys maps key IDs to master keys that may only decrypt.
	RetiredMasterKeys map[string]string `json:"-" yaml:"-" mapstructure:"retired_master_keys"`

	// SecretCacheTTL is how long decrypted secrets stay cached.
	SecretCacheTTL time.Duration `json:"secret_cache_ttl" yaml:"secret_cache_ttl" mapstructure:"secret_cache_ttl"`

	// Concurrency is the number of attempts in flight per process.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// PollInterval is how often the delivery engine scans for due deliveries.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// ScanSchedule is a cron expression that replaces PollInterval when set.
	ScanSchedule string `json:"scan_schedule" yaml:"scan_schedule" mapstructure:"scan_schedule"`

	// BatchSize is the maximum number of deliveries claimed per scan.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// LeaseDuration bounds how long a claimed delivery belongs to one worker.
	LeaseDuration time.Duration `json:"lease_duration" yaml:"lease_duration" mapstructure:"lease_duration"`

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// MaxAttempts is the number of attempts before a delivery is dead-lettered.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BackoffBase, BackoffMultiplier, BackoffMax and BackoffJitter shape the
	// retry delay: min(base*multiplier^(n-1), max) plus up to jitter*delay.
	BackoffBase       time.Duration `json:"backoff_base" yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `json:"backoff_max" yaml:"backoff_max" mapstructure:"backoff_max"`
	BackoffJitter     float64       `json:"backoff_jitter" yaml:"backoff_jitter" mapstructure:"backoff_jitter"`

	// FailureThreshold is the number of consecutive failures that opens an
	// endpoint's circuit breaker.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// OpenDuration is the first open window; OpenDurationMultiplier grows it
	// on each re-open up to MaxOpenDuration.
	OpenDuration           time.Duration `json:"open_duration" yaml:"open_duration" mapstructure:"open_duration"`
	OpenDurationMultiplier float64       `json:"open_duration_multiplier" yaml:"open_duration_multiplier" mapstructure:"open_duration_multiplier"`
	MaxOpenDuration        time.Duration `json:"max_open_duration" yaml:"max_open_duration" mapstructure:"max_open_duration"`

	// ProbeTimeout bounds how long a half-open probe owns an endpoint.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// BreakerStateTTL expires idle breaker state.
	BreakerStateTTL time.Duration `json:"breaker_state_ttl" yaml:"breaker_state_ttl" mapstructure:"breaker_state_ttl"`

	// SignatureTolerance is the timestamp skew accepted by VerifySignature.
	SignatureTolerance time.Duration `json:"signature_tolerance" yaml:"signature_tolerance" mapstructure:"signature_tolerance"`

	// SenderMode is http or noop.
	SenderMode SenderMode `json:"sender_mode" yaml:"sender_mode" mapstructure:"sender_mode"`

	// AllowPrivateNetworks disables the private address checks on endpoint
	// URLs. Local development and tests only.
	AllowPrivateNetworks bool `json:"allow_private_networks" yaml:"allow_private_networks" mapstructure:"allow_private_networks"`

	// StrictEventTypes rejects events whose type is not in the catalog.
	StrictEventTypes bool `json:"strict_event_types" yaml:"strict_event_types" mapstructure:"strict_event_types"`

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment:            EnvDevelopment,
		MasterKeyID:            "k1",
		SecretCacheTTL:         5 * time.Minute,
		Concurrency:            10,
		PollInterval:           time.Second,
		BatchSize:              50,
		LeaseDuration:          time.Minute,
		RequestTimeout:         10 * time.Second,
		MaxAttempts:            5,
		BackoffBase:            30 * time.Second,
		BackoffMultiplier:      2,
		BackoffMax:             time.Hour,
		BackoffJitter:          0.2,
		FailureThreshold:       5,
		OpenDuration:           5 * time.Minute,
		OpenDurationMultiplier: 2,
		MaxOpenDuration:        time.Hour,
		ProbeTimeout:           time.Minute,
		BreakerStateTTL:        24 * time.Hour,
		SignatureTolerance:     5 * time.Minute,
		SenderMode:             SenderHTTP,
		ShutdownTimeout:        30 * time.Second,
	}
}

// Production reports whether the production rules apply.
func (c Config) Production() bool { return c.Environment == EnvProduction }

// Validate checks ranges. It does not check the master key; ValidateStartup
// does that.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		problems = append(problems, fmt.Sprintf("unknown environment %q", c.Environment))
	}
	switch c.SenderMode {
	case SenderHTTP, SenderNoop:
	default:
		problems = append(problems, fmt.Sprintf("unknown sender mode %q", c.SenderMode))
	}

	check(c.Concurrency > 0, "concurrency must be positive")
	check(c.BatchSize > 0, "batch size must be positive")
	check(c.PollInterval > 0 || c.ScanSchedule != "", "poll interval must be positive")
	check(c.LeaseDuration > 0, "lease duration must be positive")
	check(c.RequestTimeout > 0, "request timeout must be positive")
	check(c.LeaseDuration > c.RequestTimeout, "lease duration must exceed request timeout")
	check(c.MaxAttempts > 0, "max attempts must be positive")
	check(c.BackoffBase > 0, "backoff base must be positive")
	check(c.BackoffMultiplier >= 1, "backoff multiplier must be at least 1")
	check(c.BackoffMax >= c.BackoffBase, "backoff max must be at least backoff base")
	check(c.BackoffJitter >= 0 && c.BackoffJitter <= 1, "backoff jitter must be within [0, 1]")
	check(c.FailureThreshold > 0, "failure threshold must be positive")
	check(c.OpenDuration > 0, "open duration must be positive")
	check(c.OpenDurationMultiplier >= 1, "open duration multiplier must be at least 1")
	check(c.MaxOpenDuration >= c.OpenDuration, "max open duration must be at least open duration")
	check(c.ProbeTimeout > 0, "probe timeout must be positive")
	check(c.SignatureTolerance >= 0, "signature tolerance must not be negative")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LoadConfigFromEnv returns DefaultConfig overridden by COURIER_* environment
// variables. Malformed values are reported rather than ignored.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	l := envLoader{getenv: getenv}

	if v := getenv("COURIER_ENV"); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	l.strVar("COURIER_MASTER_KEY", &cfg.MasterKey)
	l.strVar("COURIER_MASTER_KEY_ID", &cfg.MasterKeyID)
	if v := getenv("COURIER_RETIRED_MASTER_KEYS"); v != "" {
		cfg.RetiredMasterKeys = make(map[string]string)
		for pair := range strings.SplitSeq(v, ",") {
			kid, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || kid == "" || key == "" {
				l.fail("COURIER_RETIRED_MASTER_KEYS", "expected id=key pairs")
				break
			}
			cfg.RetiredMasterKeys[kid] = key
		}
	}
	l.durationVar("COURIER_SECRET_CACHE_TTL", &cfg.SecretCacheTTL)
	l.intVar("COURIER_CONCURRENCY", &cfg.Concurrency)
	l.durationVar("COURIER_POLL_INTERVAL", &cfg.PollInterval)
	l.strVar("COURIER_SCAN_SCHEDULE", &cfg.ScanSchedule)
	l.intVar("COURIER_BATCH_SIZE", &cfg.BatchSize)
	l.durationVar("COURIER_LEASE_DURATION", &cfg.LeaseDuration)
	l.durationVar("COURIER_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	l.intVar("COURIER_MAX_ATTEMPTS", &cfg.MaxAttempts)
	l.durationVar("COURIER_BACKOFF_BASE", &cfg.BackoffBase)
	l.floatVar("COURIER_BACKOFF_MULTIPLIER", &cfg.BackoffMultiplier)
	l.durationVar("COURIER_BACKOFF_MAX", &cfg.BackoffMax)
	l.floatVar("COURIER_BACKOFF_JITTER", &cfg.BackoffJitter)
	l.intVar("COURIER_FAILURE_THRESHOLD", &cfg.FailureThreshold)
	l.durationVar("COURIER_OPEN_DURATION", &cfg.OpenDuration)
	l.floatVar("COURIER_OPEN_DURATION_MULTIPLIER", &cfg.OpenDurationMultiplier)
	l.durationVar("COURIER_MAX_OPEN_DURATION", &cfg.MaxOpenDuration)
	l.durationVar("COURIER_PROBE_TIMEOUT", &cfg.ProbeTimeout)
	l.durationVar("COURIER_BREAKER_STATE_TTL", &cfg.BreakerStateTTL)
	l.durationVar("COURIER_SIGNATURE_TOLERANCE", &cfg.SignatureTolerance)
	if v := getenv("COURIER_SENDER_MODE"); v != "" {
		cfg.SenderMode = SenderMode(strings.ToLower(v))
	}
	l.boolVar("COURIER_ALLOW_PRIVATE_NETWORKS", &cfg.AllowPrivateNetworks)
	l.boolVar("COURIER_STRICT_EVENT_TYPES", &cfg.StrictEventTypes)
	l.durationVar("COURIER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if len(l.errs) > 0 {
		return cfg, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(l.errs, "; "))
	}
	return cfg, nil
}

type envLoader struct {
	getenv func(string) string
	errs   []string
}

func (l *envLoader) fail(key, msg string) {
	l.errs = append(l.errs, key+": "+msg)
}

func (l *envLoader) strVar(key string, dst *string) {
	if v := l.getenv(key); v != "" {
		*dst = v
	}
}

func (l *envLoader) intVar(key string, dst *int) {
	if v := l.getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(key, "not an integer")
			return
		}
		*dst = n
	}
}

func (l *envLoader) floatVar(key string, dst *float64) {
	if v := l.getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			l.fail(key, "not a number")
			return
		}
		*dst = f
	}
}

func (l *envLoader) boolVar(key string, dst *bool) {
	if v := l.getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.fail(key, "not a boolean")
			return
		}
		*dst = b
	}
}

func (l *envLoader) durationVar(key string, dst *time.Duration) {
	if v := l.getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			l.fail(key, "not a duration")
			return
		}
		*dst = d
	}
}
