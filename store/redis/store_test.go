package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

func ctx() context.Context { return context.Background() }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPing(t *testing.T) {
	s := newStore(t)
	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func newEndpoint(tenantID string, eventTypes []string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		TenantID:   tenantID,
		URL:        "https://example.com/hook",
		EventTypes: eventTypes,
		Status:     endpoint.StatusActive,
	}
}

func TestEndpointCRUD(t *testing.T) {
	s := newStore(t)
	ep := newEndpoint("t1", []string{"invoice.*"})
	ep.SecretCiphertext = "v1:k1:abc"

	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEndpoint(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != ep.URL || got.SecretCiphertext != "v1:k1:abc" {
		t.Fatalf("got %+v", got)
	}

	got.URL = "https://example.com/other"
	if err := s.UpdateEndpoint(ctx(), got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetEndpoint(ctx(), ep.ID)
	if got.URL != "https://example.com/other" {
		t.Fatalf("update not persisted: %q", got.URL)
	}

	if err := s.DeleteEndpoint(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEndpoint(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteEndpoint(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.UpdateEndpoint(ctx(), ep); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestEndpointResolve(t *testing.T) {
	s := newStore(t)

	match := newEndpoint("t1", []string{"invoice.*"})
	other := newEndpoint("t1", []string{"user.created"})
	foreign := newEndpoint("t2", []string{"*"})
	disabled := newEndpoint("t1", []string{"invoice.paid"})
	disabled.Status = endpoint.StatusDisabled

	for _, ep := range []*endpoint.Endpoint{match, other, foreign, disabled} {
		if err := s.CreateEndpoint(ctx(), ep); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Resolve(ctx(), "t1", "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != match.ID.String() {
		t.Fatalf("Resolve() = %v, want only %s", got, match.ID)
	}
}

func TestEndpointSetStatusAndListFilter(t *testing.T) {
	s := newStore(t)
	a := newEndpoint("t1", []string{"*"})
	b := newEndpoint("t1", []string{"*"})
	_ = s.CreateEndpoint(ctx(), a)
	_ = s.CreateEndpoint(ctx(), b)

	if err := s.SetStatus(ctx(), a.ID, endpoint.StatusDisabled); err != nil {
		t.Fatal(err)
	}

	active, _ := s.ListEndpoints(ctx(), "t1", endpoint.ListOpts{Status: endpoint.StatusActive})
	if len(active) != 1 || active[0].ID.String() != b.ID.String() {
		t.Fatalf("active = %v", active)
	}
	all, _ := s.ListEndpoints(ctx(), "t1", endpoint.ListOpts{})
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
	if resolved, _ := s.Resolve(ctx(), "t1", "x"); len(resolved) != 1 {
		t.Fatalf("disabled endpoint still resolved: %v", resolved)
	}
	if err := s.SetStatus(ctx(), id.NewEndpointID(), endpoint.StatusActive); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func newDelivery(epID id.ID, next time.Time) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.At(t0),
		ID:            id.NewDeliveryID(),
		EventID:       id.NewEventID(),
		EndpointID:    epID,
		TenantID:      "t1",
		EventType:     "invoice.paid",
		Payload:       json.RawMessage(`{"amount": 100,  "currency":"EUR"}`),
		Status:        delivery.StatusPending,
		MaxAttempts:   5,
		NextAttemptAt: next,
	}
}

func TestPayloadBytesPreserved(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d})

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != string(d.Payload) {
		t.Fatalf("payload = %s, want %s", got.Payload, d.Payload)
	}
	if _, err := s.GetDelivery(ctx(), id.NewDeliveryID()); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDueOrderAndLimit(t *testing.T) {
	s := newStore(t)
	epID := id.NewEndpointID()

	late := newDelivery(epID, t0.Add(-time.Second))
	early := newDelivery(epID, t0.Add(-time.Minute))
	future := newDelivery(epID, t0.Add(time.Minute))
	if err := s.EnqueueBatch(ctx(), []*delivery.Delivery{late, early, future}); err != nil {
		t.Fatal(err)
	}

	due, err := s.ListDue(ctx(), t0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID.String() != early.ID.String() {
		t.Fatalf("ListDue() = %v", due)
	}

	due, _ = s.ListDue(ctx(), t0, 1)
	if len(due) != 1 {
		t.Fatalf("limit not applied: %d", len(due))
	}
}

func TestClaimAndComplete(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d})

	claimed, err := s.Claim(ctx(), d.ID, "tok-a", t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != delivery.StatusInFlight || claimed.LeaseToken != "tok-a" {
		t.Fatalf("claimed = %+v", claimed)
	}

	if _, err := s.Claim(ctx(), d.ID, "tok-b", t0, t0.Add(time.Minute)); !errors.Is(err, delivery.ErrClaimConflict) {
		t.Fatalf("second claim: expected ErrClaimConflict, got %v", err)
	}

	claimed.Status = delivery.StatusDelivered
	claimed.AttemptCount = 1
	done := t0
	claimed.CompletedAt = &done
	if err := s.CompleteAttempt(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusDelivered || got.LeaseExpiresAt != nil || got.LeaseToken != "" {
		t.Fatalf("after complete: %+v", got)
	}
	if due, _ := s.ListDue(ctx(), t0.Add(time.Hour), 10); len(due) != 0 {
		t.Fatalf("delivered delivery still due: %v", due)
	}
}

func TestExpiredLeaseIsReclaimedAndOldOwnerLoses(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d})

	first, _ := s.Claim(ctx(), d.ID, "tok-a", t0, t0.Add(time.Minute))

	if due, _ := s.ListDue(ctx(), t0.Add(30*time.Second), 10); len(due) != 0 {
		t.Fatalf("leased delivery listed as due: %v", due)
	}

	later := t0.Add(2 * time.Minute)
	if due, _ := s.ListDue(ctx(), later, 10); len(due) != 1 {
		t.Fatalf("expired lease not listed as due: %v", due)
	}

	second, err := s.Claim(ctx(), d.ID, "tok-b", later, later.Add(time.Minute))
	if err != nil {
		t.Fatalf("reclaim after lease expiry: %v", err)
	}

	first.Status = delivery.StatusDelivered
	if err := s.CompleteAttempt(ctx(), first); !errors.Is(err, delivery.ErrLeaseLost) {
		t.Fatalf("stale owner: expected ErrLeaseLost, got %v", err)
	}

	second.Status = delivery.StatusDelivered
	if err := s.CompleteAttempt(ctx(), second); err != nil {
		t.Fatalf("new owner: %v", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d})

	var (
		wins      atomic.Int32
		conflicts atomic.Int32
		wg        sync.WaitGroup
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim(ctx(), d.ID, "tok-"+string(rune('a'+i)), t0, t0.Add(time.Minute))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, delivery.ErrClaimConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 15 {
		t.Fatalf("wins=%d conflicts=%d, want 1/15", wins.Load(), conflicts.Load())
	}
}

func TestRetryReschedulesInDueIndex(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d})

	claimed, _ := s.Claim(ctx(), d.ID, "tok", t0, t0.Add(time.Minute))
	claimed.Status = delivery.StatusPending
	claimed.AttemptCount = 1
	claimed.NextAttemptAt = t0.Add(10 * time.Minute)
	if err := s.CompleteAttempt(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	if due, _ := s.ListDue(ctx(), t0.Add(5*time.Minute), 10); len(due) != 0 {
		t.Fatalf("retry due before backoff: %v", due)
	}
	due, _ := s.ListDue(ctx(), t0.Add(10*time.Minute), 10)
	if len(due) != 1 || due[0].AttemptCount != 1 {
		t.Fatalf("retry not due after backoff: %v", due)
	}
}

func TestRequeue(t *testing.T) {
	s := newStore(t)
	d := newDelivery(id.NewEndpointID(), t0)
	d.Status = delivery.StatusDeadLettered
	d.AttemptCount = 5
	done := t0
	d.CompletedAt = &done
	pending := newDelivery(id.NewEndpointID(), t0)
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{d, pending})

	later := t0.Add(time.Hour)
	got, err := s.Requeue(ctx(), d.ID, later)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending || got.AttemptCount != 0 || !got.NextAttemptAt.Equal(later) || got.CompletedAt != nil {
		t.Fatalf("requeued = %+v", got)
	}
	if got.ID.String() != d.ID.String() {
		t.Fatalf("requeue changed ID: %s", got.ID)
	}

	counts, _ := s.CountByStatus(ctx())
	if counts[delivery.StatusDeadLettered] != 0 || counts[delivery.StatusPending] != 2 {
		t.Fatalf("CountByStatus() after requeue = %v", counts)
	}

	if _, err := s.Requeue(ctx(), pending.ID, later); !errors.Is(err, delivery.ErrNotRequeueable) {
		t.Fatalf("expected ErrNotRequeueable, got %v", err)
	}
	if _, err := s.Requeue(ctx(), id.NewDeliveryID(), later); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListingsAndCounts(t *testing.T) {
	s := newStore(t)
	epA, epB := id.NewEndpointID(), id.NewEndpointID()

	a1 := newDelivery(epA, t0)
	a2 := newDelivery(epA, t0)
	a2.CreatedAt = t0.Add(time.Second)
	a2.Status = delivery.StatusDeadLettered
	b1 := newDelivery(epB, t0)
	b1.EventID = a1.EventID
	b1.TenantID = "t2"
	b1.Status = delivery.StatusDeadLettered
	_ = s.EnqueueBatch(ctx(), []*delivery.Delivery{a1, a2, b1})

	byEp, _ := s.ListByEndpoint(ctx(), epA, delivery.ListOpts{})
	if len(byEp) != 2 || byEp[0].ID.String() != a2.ID.String() {
		t.Fatalf("ListByEndpoint() not newest first: %v", byEp)
	}

	byEvt, _ := s.ListByEvent(ctx(), a1.EventID)
	if len(byEvt) != 2 {
		t.Fatalf("ListByEvent() = %d, want 2", len(byEvt))
	}

	dead, _ := s.ListByStatus(ctx(), delivery.StatusDeadLettered, delivery.ListOpts{TenantID: "t1"})
	if len(dead) != 1 || dead[0].ID.String() != a2.ID.String() {
		t.Fatalf("ListByStatus() = %v", dead)
	}

	counts, _ := s.CountByStatus(ctx())
	if counts[delivery.StatusPending] != 1 || counts[delivery.StatusDeadLettered] != 2 {
		t.Fatalf("CountByStatus() = %v", counts)
	}
}
