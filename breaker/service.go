// Package breaker implements a per-endpoint circuit breaker whose state lives
// in a sharedstate.Store, so every worker observing an endpoint agrees on its
// health.
//
// Closed counts consecutive failures and opens at FailureThreshold. Open
// denies attempts until NextProbeAt, then the first caller moves the breaker
// to half-open and becomes the only probe. The probe's outcome closes the
// breaker or re-opens it for a longer window.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/sharedstate"
)

// ErrContention is returned when a state update lost the compare-and-swap
// race MaxCASRetries times in a row.
var ErrContention = errors.New("courier: circuit breaker state contention")

// Config tunes the breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// OpenDuration is the first open window.
	OpenDuration time.Duration

	// OpenDurationMultiplier grows the window on every re-open from half-open.
	OpenDurationMultiplier float64

	// MaxOpenDuration caps the open window.
	MaxOpenDuration time.Duration

	// ProbeTimeout bounds how long a half-open probe owns the endpoint.
	ProbeTimeout time.Duration

	// StateTTL is refreshed on every write. Zero keeps state forever.
	StateTTL time.Duration

	// MaxCASRetries bounds the read-modify-write loop.
	MaxCASRetries int
}

// DefaultConfig returns the default breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       5,
		OpenDuration:           5 * time.Minute,
		OpenDurationMultiplier: 2,
		MaxOpenDuration:        time.Hour,
		ProbeTimeout:           time.Minute,
		StateTTL:               24 * time.Hour,
		MaxCASRetries:          16,
	}
}

// TransitionFunc observes state changes.
type TransitionFunc func(ctx context.Context, endpointID string, from, to State)

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTransitionHook registers fn to run after each committed state change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *Service) { s.onTransition = fn }
}

// Service is the circuit breaker.
type Service struct {
	store        sharedstate.Store
	cfg          Config
	now          func() time.Time
	logger       *slog.Logger
	onTransition TransitionFunc
}

// New returns a Service over store. Zero Config fields take their defaults.
func New(store sharedstate.Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	if cfg.OpenDurationMultiplier == 0 {
		cfg.OpenDurationMultiplier = def.OpenDurationMultiplier
	}
	if cfg.MaxOpenDuration == 0 {
		cfg.MaxOpenDuration = def.MaxOpenDuration
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = def.MaxCASRetries
	}

	s := &Service{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

func stateKey(endpointID string) string { return "breaker:" + endpointID }

// Allow decides whether an attempt to endpointID may proceed. When the
// breaker is due for a probe, the caller that wins the transition to
// half-open gets Allowed with Probe set; everyone else is denied until the
// probe reports or its lease lapses.
func (s *Service) Allow(ctx context.Context, endpointID string) (Decision, error) {
	var d Decision
	err := s.update(ctx, endpointID, func(snap *Snapshot, now time.Time) bool {
		switch snap.State {
		case StateOpen:
			if now.Before(snap.NextProbeAt) {
				d = Decision{State: StateOpen, RetryAt: snap.NextProbeAt}
				return false
			}
			snap.State = StateHalfOpen
			snap.ProbeLeaseUntil = now.Add(s.cfg.ProbeTimeout)
			d = Decision{Allowed: true, Probe: true, State: StateHalfOpen}
			return true
		case StateHalfOpen:
			if now.Before(snap.ProbeLeaseUntil) {
				d = Decision{State: StateHalfOpen, RetryAt: snap.ProbeLeaseUntil}
				return false
			}
			snap.ProbeLeaseUntil = now.Add(s.cfg.ProbeTimeout)
			d = Decision{Allowed: true, Probe: true, State: StateHalfOpen}
			return true
		default:
			d = Decision{Allowed: true, State: StateClosed}
			return false
		}
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// CanAttempt reports whether an attempt may proceed. See Allow.
func (s *Service) CanAttempt(ctx context.Context, endpointID string) (bool, error) {
	d, err := s.Allow(ctx, endpointID)
	return d.Allowed, err
}

// RecordSuccess closes a half-open breaker and clears the failure count. A
// success reported while open came from an attempt started before the trip
// and is ignored.
func (s *Service) RecordSuccess(ctx context.Context, endpointID string) error {
	return s.update(ctx, endpointID, func(snap *Snapshot, _ time.Time) bool {
		switch snap.State {
		case StateOpen:
			return false
		case StateHalfOpen:
			*snap = closedSnapshot(endpointID)
			return true
		default:
			if snap.ConsecutiveFailures == 0 {
				return false
			}
			snap.ConsecutiveFailures = 0
			return true
		}
	})
}

// RecordFailure counts a failed attempt, opening the breaker at the
// threshold and re-opening it with a longer window after a failed probe.
func (s *Service) RecordFailure(ctx context.Context, endpointID string) error {
	return s.update(ctx, endpointID, func(snap *Snapshot, now time.Time) bool {
		snap.ConsecutiveFailures++
		switch snap.State {
		case StateOpen:
		case StateHalfOpen:
			s.trip(snap, now)
		default:
			if snap.ConsecutiveFailures >= s.cfg.FailureThreshold {
				s.trip(snap, now)
			}
		}
		return true
	})
}

func (s *Service) trip(snap *Snapshot, now time.Time) {
	snap.State = StateOpen
	snap.OpenCount++
	snap.OpenedAt = now
	snap.NextProbeAt = now.Add(s.cfg.openWindow(snap.OpenCount))
	snap.ProbeLeaseUntil = time.Time{}
}

// State returns the current snapshot. Endpoints without state are closed.
func (s *Service) State(ctx context.Context, endpointID string) (Snapshot, error) {
	snap, _, err := s.load(ctx, endpointID)
	return snap, err
}

// Reset forces the breaker closed.
func (s *Service) Reset(ctx context.Context, endpointID string) error {
	return s.update(ctx, endpointID, func(snap *Snapshot, _ time.Time) bool {
		if snap.State == StateClosed && snap.ConsecutiveFailures == 0 && snap.OpenCount == 0 {
			return false
		}
		*snap = closedSnapshot(endpointID)
		return true
	})
}

func (s *Service) load(ctx context.Context, endpointID string) (Snapshot, []byte, error) {
	raw, err := s.store.Get(ctx, stateKey(endpointID))
	if errors.Is(err, sharedstate.ErrNotFound) {
		return closedSnapshot(endpointID), nil, nil
	}
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("courier/breaker: load %s: %w", endpointID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable breaker state",
			"endpoint_id", endpointID,
			"error", err,
		)
		return closedSnapshot(endpointID), raw, nil
	}
	if snap.State == "" {
		snap.State = StateClosed
	}
	snap.EndpointID = endpointID
	return snap, raw, nil
}

// update runs mutate in a compare-and-swap loop. mutate reports whether it
// changed the snapshot; unchanged snapshots are not written.
func (s *Service) update(ctx context.Context, endpointID string, mutate func(*Snapshot, time.Time) bool) error {
	for range s.cfg.MaxCASRetries {
		snap, raw, err := s.load(ctx, endpointID)
		if err != nil {
			return err
		}
		from := snap.State
		now := s.now()
		if !mutate(&snap, now) {
			return nil
		}
		snap.UpdatedAt = now

		next, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("courier/breaker: encode %s: %w", endpointID, err)
		}
		ok, err := s.store.CompareAndSwap(ctx, stateKey(endpointID), raw, next, s.cfg.StateTTL)
		if err != nil {
			return fmt.Errorf("courier/breaker: swap %s: %w", endpointID, err)
		}
		if !ok {
			continue
		}
		if from != snap.State {
			s.logger.InfoContext(ctx, "circuit breaker transition",
				"endpoint_id", endpointID,
				"from", string(from),
				"to", string(snap.State),
				"consecutive_failures", snap.ConsecutiveFailures,
			)
			if s.onTransition != nil {
				s.onTransition(ctx, endpointID, from, snap.State)
			}
		}
		return nil
	}
	return fmt.Errorf("courier/breaker: %s: %w", endpointID, ErrContention)
}
