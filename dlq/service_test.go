package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() (*dlq.Service, *memory.Store) {
	store := memory.New()
	return dlq.NewService(store, nil, nil), store
}

func seed(t *testing.T, store *memory.Store, tenant string, status delivery.Status, failedAt time.Time) *delivery.Delivery {
	t.Helper()
	d := &delivery.Delivery{
		Entity:           entity.At(failedAt),
		ID:               id.NewDeliveryID(),
		EventID:          id.NewEventID(),
		EndpointID:       id.NewEndpointID(),
		TenantID:         tenant,
		EventType:        "invoice.created",
		Payload:          json.RawMessage(`{"amount":100}`),
		Status:           status,
		AttemptCount:     5,
		MaxAttempts:      5,
		LastResponseCode: 500,
		LastError:        "receiver responded 500",
		NextAttemptAt:    failedAt,
	}
	if status.Terminal() {
		d.CompletedAt = &failedAt
	}
	if err := store.EnqueueBatch(ctx(), []*delivery.Delivery{d}); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestListRendersEntries(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	d := seed(t, store, "tenant-1", delivery.StatusDeadLettered, now)
	seed(t, store, "tenant-1", delivery.StatusPending, now)

	entries, err := svc.List(ctx(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.DeliveryID.String() != d.ID.String() || e.EventID.String() != d.EventID.String() {
		t.Fatalf("IDs mismatch: %+v", e)
	}
	if e.EventType != "invoice.created" || e.TenantID != "tenant-1" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Error != "receiver responded 500" || e.AttemptCount != 5 || e.LastStatusCode != 500 {
		t.Fatalf("failure details = %+v", e)
	}
	if !e.FailedAt.Equal(now) {
		t.Fatalf("failed at = %s, want %s", e.FailedAt, now)
	}
}

func TestListFiltersTenantAndStatus(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	seed(t, store, "t1", delivery.StatusDeadLettered, now)
	seed(t, store, "t2", delivery.StatusDeadLettered, now)
	failed := seed(t, store, "t1", delivery.StatusFailed, now)

	entries, _ := svc.List(ctx(), dlq.ListOpts{TenantID: "t1"})
	if len(entries) != 1 || entries[0].Status != delivery.StatusDeadLettered {
		t.Fatalf("tenant filter = %+v", entries)
	}

	entries, _ = svc.List(ctx(), dlq.ListOpts{Status: delivery.StatusFailed})
	if len(entries) != 1 || entries[0].DeliveryID.String() != failed.ID.String() {
		t.Fatalf("failed filter = %+v", entries)
	}
}

func TestGet(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	dead := seed(t, store, "t1", delivery.StatusDeadLettered, now)
	pending := seed(t, store, "t1", delivery.StatusPending, now)

	got, err := svc.Get(ctx(), dead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveryID.String() != dead.ID.String() {
		t.Fatal("ID mismatch on Get")
	}

	if _, err := svc.Get(ctx(), pending.ID); !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("pending delivery: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx(), id.NewDeliveryID()); !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("unknown delivery: expected ErrNotFound, got %v", err)
	}
}

func TestCount(t *testing.T) {
	svc, store := newService()

	count, err := svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}

	now := time.Now().UTC()
	for range 5 {
		seed(t, store, "t1", delivery.StatusDeadLettered, now)
	}
	seed(t, store, "t1", delivery.StatusFailed, now)

	count, _ = svc.Count(ctx())
	if count != 5 {
		t.Fatalf("expected 5, got %d", count)
	}
}

func TestReplay(t *testing.T) {
	svc, store := newService()
	d := seed(t, store, "t1", delivery.StatusDeadLettered, time.Now().UTC().Add(-time.Hour))

	replayed, err := svc.Replay(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if replayed.ID.String() != d.ID.String() {
		t.Fatal("replay must keep the delivery ID")
	}
	if replayed.Status != delivery.StatusPending || replayed.AttemptCount != 0 || replayed.CompletedAt != nil {
		t.Fatalf("replayed = %+v", replayed)
	}
	if string(replayed.Payload) != `{"amount":100}` {
		t.Fatalf("payload changed: %s", replayed.Payload)
	}

	if count, _ := svc.Count(ctx()); count != 0 {
		t.Fatalf("count after replay = %d", count)
	}

	if _, err := svc.Replay(ctx(), d.ID); !errors.Is(err, delivery.ErrNotRequeueable) {
		t.Fatalf("second replay: expected ErrNotRequeueable, got %v", err)
	}
}

func TestReplayBulkWindow(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	old := seed(t, store, "t1", delivery.StatusDeadLettered, now.Add(-48*time.Hour))
	recent1 := seed(t, store, "t1", delivery.StatusDeadLettered, now.Add(-time.Hour))
	recent2 := seed(t, store, "t1", delivery.StatusDeadLettered, now.Add(-30*time.Minute))

	from := now.Add(-2 * time.Hour)
	n, err := svc.ReplayBulk(ctx(), dlq.ListOpts{From: &from})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("replayed %d, want 2", n)
	}

	for _, d := range []*delivery.Delivery{recent1, recent2} {
		got, _ := store.GetDelivery(ctx(), d.ID)
		if got.Status != delivery.StatusPending {
			t.Fatalf("delivery %s status = %s", d.ID, got.Status)
		}
	}
	got, _ := store.GetDelivery(ctx(), old.ID)
	if got.Status != delivery.StatusDeadLettered {
		t.Fatalf("out-of-window delivery replayed: %s", got.Status)
	}
}
