package delivery_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

func newEngine(env *testEnv, concurrency int) *delivery.Engine {
	return delivery.NewEngine(env.store, env.exec, delivery.EngineConfig{
		Concurrency:  concurrency,
		BatchSize:    50,
		PollInterval: 20 * time.Millisecond,
		Now:          env.clock.Now,
	}, nil)
}

func waitForStatus(t *testing.T, env *testEnv, delID id.ID, want delivery.Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		got, err := env.store.GetDelivery(ctx(), delID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s, status is %s", want, got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScanOnceDeliversDueRecords(t *testing.T) {
	sender := statusSender(http.StatusOK)
	env := newEnv(t, sender, "https://receiver.example/hook")

	due := []*delivery.Delivery{env.enqueue(t, 5), env.enqueue(t, 5), env.enqueue(t, 5)}

	future := env.enqueue(t, 5)
	future.NextAttemptAt = env.clock.Now().Add(time.Hour)
	_ = env.store.EnqueueBatch(ctx(), []*delivery.Delivery{future})

	report, err := newEngine(env, 2).ScanOnce(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if report.Due != 3 || report.Claimed != 3 || report.Conflicts != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Outcomes[delivery.OutcomeDelivered] != 3 {
		t.Fatalf("outcomes = %v", report.Outcomes)
	}

	for _, d := range due {
		got, _ := env.store.GetDelivery(ctx(), d.ID)
		if got.Status != delivery.StatusDelivered {
			t.Fatalf("delivery %s status = %s", d.ID, got.Status)
		}
	}
	got, _ := env.store.GetDelivery(ctx(), future.ID)
	if got.Status != delivery.StatusPending || got.AttemptCount != 0 {
		t.Fatalf("future delivery touched: %+v", got)
	}
}

func TestScanOnceBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	sender := &scriptedSender{respond: func(int) (*delivery.Response, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &delivery.Response{StatusCode: http.StatusOK}, nil
	}}
	env := newEnv(t, sender, "https://receiver.example/hook")
	for range 8 {
		env.enqueue(t, 5)
	}

	report, err := newEngine(env, 2).ScanOnce(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if report.Claimed != 8 {
		t.Fatalf("claimed = %d, want 8", report.Claimed)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestConcurrentScannersDeliverEachRecordOnce(t *testing.T) {
	sender := statusSender(http.StatusOK)
	env := newEnv(t, sender, "https://receiver.example/hook")

	const n = 40
	for range n {
		env.enqueue(t, 5)
	}

	engines := []*delivery.Engine{newEngine(env, 4), newEngine(env, 4), newEngine(env, 4)}
	reports := make([]delivery.ScanReport, len(engines))

	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.ScanOnce(ctx())
			if err != nil {
				t.Error(err)
			}
			reports[i] = r
		}()
	}
	wg.Wait()

	claimed := 0
	for _, r := range reports {
		claimed += r.Claimed
	}
	if claimed != n {
		t.Fatalf("total claimed = %d, want %d", claimed, n)
	}

	sends := make(map[string]int)
	sender.mu.Lock()
	for _, req := range sender.reqs {
		sends[req.Headers.Get(delivery.HeaderID)]++
	}
	sender.mu.Unlock()
	if len(sends) != n {
		t.Fatalf("distinct deliveries sent = %d, want %d", len(sends), n)
	}
	for delID, c := range sends {
		if c != 1 {
			t.Fatalf("delivery %s sent %d times", delID, c)
		}
	}
}

func TestEngineStartStopWithTicker(t *testing.T) {
	env := newEnv(t, statusSender(http.StatusOK), "https://receiver.example/hook")
	d := env.enqueue(t, 5)

	engine := newEngine(env, 2)
	if err := engine.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env, d.ID, delivery.StatusDelivered)

	stopCtx, cancel := context.WithTimeout(ctx(), time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := engine.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestEngineStartWithCronSchedule(t *testing.T) {
	env := newEnv(t, statusSender(http.StatusOK), "https://receiver.example/hook")
	d := env.enqueue(t, 5)

	engine := delivery.NewEngine(env.store, env.exec, delivery.EngineConfig{
		ScanSchedule: "* * * * * *",
		Now:          env.clock.Now,
	}, nil)
	if err := engine.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = engine.Stop(ctx()) }()

	waitForStatus(t, env, d.ID, delivery.StatusDelivered)
}

func TestEngineRejectsInvalidSchedule(t *testing.T) {
	env := newEnv(t, statusSender(http.StatusOK), "https://receiver.example/hook")
	engine := delivery.NewEngine(env.store, env.exec, delivery.EngineConfig{ScanSchedule: "not a schedule"}, nil)
	if err := engine.Start(ctx()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

// slowSender answers 200 after delay unless ctx ends first.
type slowSender struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func newSlowSender(delay time.Duration) *slowSender {
	return &slowSender{delay: delay, started: make(chan struct{})}
}

func (s *slowSender) Send(ctx context.Context, _ *delivery.Request) (*delivery.Response, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-time.After(s.delay):
		return &delivery.Response{StatusCode: http.StatusOK, Latency: s.delay}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowSender) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(3 * time.Second):
		t.Fatal("attempt never started")
	}
}

func TestEngineStopLetsInFlightAttemptFinish(t *testing.T) {
	sender := newSlowSender(300 * time.Millisecond)
	env := newEnv(t, sender, "https://receiver.example/hook")
	d := env.enqueue(t, 5)

	engine := newEngine(env, 2)
	if err := engine.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	sender.waitStarted(t)

	stopCtx, cancel := context.WithTimeout(ctx(), 5*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := env.store.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusDelivered {
		t.Fatalf("status = %s (attempts=%d, last error %q), want delivered", got.Status, got.AttemptCount, got.LastError)
	}
	snap, err := env.breaker.State(ctx(), env.ep.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("breaker failures = %d, want 0", snap.ConsecutiveFailures)
	}
}

func TestScanOnceCallerCancelDoesNotChargeAttempt(t *testing.T) {
	sender := newSlowSender(200 * time.Millisecond)
	env := newEnv(t, sender, "https://receiver.example/hook")
	d := env.enqueue(t, 5)

	scanCtx, cancel := context.WithCancel(ctx())
	defer cancel()
	go func() {
		select {
		case <-sender.started:
		case <-time.After(3 * time.Second):
		}
		cancel()
	}()

	report, err := newEngine(env, 1).ScanOnce(scanCtx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if report.Outcomes[delivery.OutcomeDelivered] != 1 {
		t.Fatalf("report = %+v", report)
	}

	got, err := env.store.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusDelivered || got.LastError != "" {
		t.Fatalf("status = %s, last error %q", got.Status, got.LastError)
	}
}
