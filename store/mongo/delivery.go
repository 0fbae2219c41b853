package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// dueFilter matches deliveries claimable at t.
func dueFilter(t time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{
			"status":          string(delivery.StatusPending),
			"next_attempt_at": bson.M{"$lte": t},
		},
		bson.M{
			"status": string(delivery.StatusInFlight),
			"$or": bson.A{
				bson.M{"lease_expires_at": nil},
				bson.M{"lease_expires_at": bson.M{"$lte": t}},
			},
		},
	}}
}

// EnqueueBatch creates the deliveries of one emission with a single insert.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: enqueue batch: %w", err)
	}

	return nil
}

// ListDue returns claimable deliveries, oldest next_attempt_at first.
func (s *Store) ListDue(ctx context.Context, t time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	q := s.mdb.NewFind(&models).
		Filter(dueFilter(t.UTC())).
		Sort(bson.D{{Key: "next_attempt_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list due: %w", err)
	}

	return fromDeliveryModels(models)
}

// Claim leases a due delivery with a single conditional update.
func (s *Store) Claim(ctx context.Context, delID id.ID, token string, t, leaseUntil time.Time) (*delivery.Delivery, error) {
	filter := dueFilter(t.UTC())
	filter["_id"] = delID.String()

	update := bson.M{"$set": bson.M{
		"status":           string(delivery.StatusInFlight),
		"lease_token":      token,
		"lease_expires_at": leaseUntil.UTC(),
		"updated_at":       t.UTC(),
	}}

	var m deliveryModel
	if err := s.findOneAndUpdate(ctx, filter, update, &m); err != nil {
		if !isNoDocuments(err) {
			return nil, fmt.Errorf("courier/mongo: claim: %w", err)
		}

		if _, err := s.GetDelivery(ctx, delID); err != nil {
			return nil, err
		}

		return nil, delivery.ErrClaimConflict
	}

	return fromDeliveryModel(&m)
}

// CompleteAttempt records an attempt outcome if d.LeaseToken still owns the
// delivery.
func (s *Store) CompleteAttempt(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.mdb.NewUpdate((*deliveryModel)(nil)).
		Filter(bson.M{
			"_id":         d.ID.String(),
			"status":      string(delivery.StatusInFlight),
			"lease_token": d.LeaseToken,
		}).
		Set("status", string(d.Status)).
		Set("attempt_count", d.AttemptCount).
		Set("next_attempt_at", d.NextAttemptAt.UTC()).
		Set("last_response_code", d.LastResponseCode).
		Set("last_error", d.LastError).
		Set("last_response", d.LastResponse).
		Set("last_latency_ms", d.LastLatencyMs).
		Set("completed_at", d.CompletedAt).
		Set("updated_at", d.UpdatedAt.UTC()).
		Set("lease_token", "").
		Set("lease_expires_at", nil).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: complete attempt: %w", err)
	}

	if res.MatchedCount() == 0 {
		if _, err := s.GetDelivery(ctx, d.ID); err != nil {
			return err
		}

		return delivery.ErrLeaseLost
	}

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": delID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrNotFound
		}

		return nil, fmt.Errorf("courier/mongo: get delivery: %w", err)
	}

	return fromDeliveryModel(&m)
}

// ListByEndpoint returns delivery history for an endpoint, newest first.
func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	filter := bson.M{"endpoint_id": epID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	return s.listDeliveries(ctx, filter, opts, "list by endpoint")
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"event_id": evtID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list by event: %w", err)
	}

	return fromDeliveryModels(models)
}

// ListByStatus returns deliveries in one status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	filter := bson.M{"status": string(status)}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}

	return s.listDeliveries(ctx, filter, opts, "list by status")
}

func (s *Store) listDeliveries(ctx context.Context, filter bson.M, opts delivery.ListOpts, op string) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: %s: %w", op, err)
	}

	return fromDeliveryModels(models)
}

// CountByStatus returns the number of deliveries per status.
func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64, len(delivery.Statuses))

	for _, st := range delivery.Statuses {
		n, err := s.mdb.NewFind((*deliveryModel)(nil)).
			Filter(bson.M{"status": string(st)}).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("courier/mongo: count %s: %w", st, err)
		}

		counts[st] = n
	}

	return counts, nil
}

// Requeue returns a failed or dead-lettered delivery to pending.
func (s *Store) Requeue(ctx context.Context, delID id.ID, t time.Time) (*delivery.Delivery, error) {
	filter := bson.M{
		"_id": delID.String(),
		"status": bson.M{"$in": bson.A{
			string(delivery.StatusFailed),
			string(delivery.StatusDeadLettered),
		}},
	}

	update := bson.M{
		"$set": bson.M{
			"status":           string(delivery.StatusPending),
			"attempt_count":    0,
			"next_attempt_at":  t.UTC(),
			"lease_token":      "",
			"lease_expires_at": nil,
			"updated_at":       t.UTC(),
		},
		"$unset": bson.M{"completed_at": ""},
	}

	var m deliveryModel
	if err := s.findOneAndUpdate(ctx, filter, update, &m); err != nil {
		if !isNoDocuments(err) {
			return nil, fmt.Errorf("courier/mongo: requeue: %w", err)
		}

		if _, err := s.GetDelivery(ctx, delID); err != nil {
			return nil, err
		}

		return nil, delivery.ErrNotRequeueable
	}

	return fromDeliveryModel(&m)
}
