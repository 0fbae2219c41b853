package delivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/sharedstate"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/vault"
)

const testSecret = "whsec_test_secret_1234567890abcdef1234567890abcdef"

func ctx() context.Context { return context.Background() }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

// scriptedSender answers with respond(n) for the nth call, starting at 1.
type scriptedSender struct {
	mu      sync.Mutex
	reqs    []*delivery.Request
	respond func(n int) (*delivery.Response, error)
}

func statusSender(code int) *scriptedSender {
	return &scriptedSender{respond: func(int) (*delivery.Response, error) {
		return &delivery.Response{StatusCode: code, Latency: 5 * time.Millisecond}, nil
	}}
}

func (s *scriptedSender) Send(_ context.Context, req *delivery.Request) (*delivery.Response, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	n := len(s.reqs)
	respond := s.respond
	s.mu.Unlock()
	return respond(n)
}

func (s *scriptedSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *scriptedSender) SetRespond(fn func(n int) (*delivery.Response, error)) {
	s.mu.Lock()
	s.respond = fn
	s.mu.Unlock()
}

type testEnv struct {
	clock   *clock
	store   *memory.Store
	vault   *vault.Vault
	breaker *breaker.Service
	sender  delivery.Sender
	exec    *delivery.Executor
	ep      *endpoint.Endpoint
}

type envOption func(*delivery.Deps, *delivery.ExecutorConfig, *breaker.Config)

func newEnv(t *testing.T, sender delivery.Sender, url string, opts ...envOption) *testEnv {
	t.Helper()
	c := newClock()

	v, err := vault.New(vault.Config{MasterKey: "delivery-test-master-key-0123456789abcdef", Now: c.Now}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := v.EncryptSecretForStorage(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	store := memory.New()
	ep := &endpoint.Endpoint{
		Entity:           entity.At(c.Now()),
		ID:               id.NewEndpointID(),
		TenantID:         "tenant-1",
		URL:              url,
		SecretCiphertext: ct,
		EventTypes:       []string{"invoice.*"},
		Headers:          map[string]string{"X-Custom": "custom-value"},
		Status:           endpoint.StatusActive,
	}
	if err := store.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}

	bcfg := breaker.Config{
		FailureThreshold:       5,
		OpenDuration:           5 * time.Minute,
		OpenDurationMultiplier: 2,
		MaxOpenDuration:        time.Hour,
		ProbeTimeout:           time.Minute,
		StateTTL:               24 * time.Hour,
	}
	deps := delivery.Deps{
		Store:     store,
		Endpoints: store,
		Secrets:   v,
		Sender:    sender,
	}
	cfg := delivery.ExecutorConfig{
		RequestTimeout: time.Second,
		Backoff: delivery.Backoff{
			Base:       30 * time.Second,
			Multiplier: 2,
			Max:        time.Hour,
		},
		Now: c.Now,
	}
	for _, opt := range opts {
		opt(&deps, &cfg, &bcfg)
	}

	br := breaker.New(sharedstate.NewLocal(c.Now), bcfg, breaker.WithClock(c.Now))
	deps.Breaker = br

	return &testEnv{
		clock:   c,
		store:   store,
		vault:   v,
		breaker: br,
		sender:  sender,
		exec:    delivery.NewExecutor(deps, cfg, nil),
		ep:      ep,
	}
}

// enqueue stores a pending delivery due now.
func (e *testEnv) enqueue(t *testing.T, maxAttempts int) *delivery.Delivery {
	t.Helper()
	d := &delivery.Delivery{
		Entity:        entity.At(e.clock.Now()),
		ID:            id.NewDeliveryID(),
		EventID:       id.NewEventID(),
		EndpointID:    e.ep.ID,
		TenantID:      e.ep.TenantID,
		EventType:     "invoice.paid",
		Payload:       json.RawMessage(`{"invoice_id":"inv_1","amount":9900}`),
		Status:        delivery.StatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: e.clock.Now(),
	}
	if err := e.store.EnqueueBatch(ctx(), []*delivery.Delivery{d}); err != nil {
		t.Fatal(err)
	}
	return d
}

// claim takes the lease on delID at the current clock.
func (e *testEnv) claim(t *testing.T, delID id.ID, token string) *delivery.Delivery {
	t.Helper()
	now := e.clock.Now()
	d, err := e.store.Claim(ctx(), delID, token, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return d
}

// attempt claims and executes delID once.
func (e *testEnv) attempt(t *testing.T, delID id.ID) (delivery.Result, *delivery.Delivery) {
	t.Helper()
	res, err := e.exec.Execute(ctx(), e.claim(t, delID, "tok-"+e.clock.Now().Format(time.RFC3339Nano)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, err := e.store.GetDelivery(ctx(), delID)
	if err != nil {
		t.Fatal(err)
	}
	return res, got
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
