package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/xraph/courier/observability"
)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	BatchSize     int
	LeaseDuration time.Duration

	// ScanSchedule is a cron expression (seconds field optional). When set it
	// replaces the PollInterval ticker.
	ScanSchedule string

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// ScanReport summarizes one scan pass.
type ScanReport struct {
	Due       int             `json:"due"`
	Claimed   int             `json:"claimed"`
	Conflicts int             `json:"conflicts"`
	Errors    int             `json:"errors"`
	Outcomes  map[Outcome]int `json:"outcomes"`
}

// Engine is the delivery worker pool: it scans for due deliveries, claims
// them and hands claims to the Executor under bounded concurrency.
type Engine struct {
	store  Store
	exec   *Executor
	config EngineConfig
	logger *slog.Logger
	sem    chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	cron    *cron.Cron
	running bool
	wg      sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store Store, exec *Executor, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:  store,
		exec:   exec,
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.Concurrency),
	}
}

// ScanOnce runs one scan pass and waits for the attempts it dispatched.
// Cancelling ctx stops further claims; attempts already claimed finish.
func (e *Engine) ScanOnce(ctx context.Context) (ScanReport, error) {
	report := ScanReport{Outcomes: make(map[Outcome]int)}
	start := time.Now()

	ctx, span := e.config.Tracer.StartScanSpan(ctx)
	defer func() {
		e.config.Tracer.EndScanSpan(span, report.Due, report.Claimed, report.Conflicts)
		e.config.Metrics.RecordScan(time.Since(start).Seconds())
	}()

	now := e.config.Now().UTC()
	due, err := e.store.ListDue(ctx, now, e.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("courier/delivery: list due: %w", err)
	}
	report.Due = len(due)

	var (
		mu   sync.Mutex
		pass sync.WaitGroup
	)
	record := func(res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Errors++
			return
		}
		report.Outcomes[res.Outcome]++
	}

	// Claimed attempts run to completion even when ctx is cancelled; each
	// send is bounded by the request timeout.
	attemptCtx := context.WithoutCancel(ctx)

	for _, d := range due {
		select {
		case <-ctx.Done():
			pass.Wait()
			return report, ctx.Err()
		case e.sem <- struct{}{}:
		}

		claimed, err := e.claim(ctx, d)
		if errors.Is(err, ErrClaimConflict) {
			<-e.sem
			report.Conflicts++
			e.config.Metrics.RecordClaimConflict()
			continue
		}
		if err != nil {
			<-e.sem
			report.Errors++
			e.logger.ErrorContext(ctx, "claim failed", "delivery_id", d.ID.String(), "error", err)
			continue
		}
		report.Claimed++

		pass.Add(1)
		go func(del *Delivery) {
			defer pass.Done()
			defer func() { <-e.sem }()
			record(e.exec.Execute(attemptCtx, del))
		}(claimed)
	}

	pass.Wait()
	return report, nil
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a scan schedule: a cron expression with an optional
// leading seconds field, or a descriptor such as "@every 5s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("courier/delivery: scan schedule %q: %w", expr, err)
	}
	return sched, nil
}

func (e *Engine) claim(ctx context.Context, d *Delivery) (*Delivery, error) {
	now := e.config.Now().UTC()
	return e.store.Claim(ctx, d.ID, uuid.NewString(), now, now.Add(e.config.LeaseDuration))
}

// Start begins scanning in the background on the configured ticker or cron
// schedule.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	if e.config.ScanSchedule != "" {
		sched, err := ParseSchedule(e.config.ScanSchedule)
		if err != nil {
			cancel()
			return err
		}
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		c.Schedule(sched, cron.FuncJob(func() { e.scan(ctx) }))
		c.Start()
		e.cron = c
	} else {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.pollLoop(ctx)
		}()
	}

	e.cancel = cancel
	e.running = true
	return nil
}

// Stop stops claiming new deliveries and waits for in-flight attempts to
// complete or for ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, c := e.cancel, e.cron
	e.cron = nil
	e.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollLoop periodically scans for due deliveries.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scan(ctx)
		}
	}
}

func (e *Engine) scan(ctx context.Context) {
	report, err := e.ScanOnce(ctx)
	if err != nil && ctx.Err() == nil {
		e.logger.ErrorContext(ctx, "scan failed", "error", err)
		return
	}
	if report.Claimed > 0 || report.Conflicts > 0 {
		e.logger.DebugContext(ctx, "scan complete",
			"due", report.Due,
			"claimed", report.Claimed,
			"conflicts", report.Conflicts,
			"errors", report.Errors,
		)
	}
}
