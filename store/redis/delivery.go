package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// casRetries bounds how often a completion or requeue re-reads a document
// that changed under it.
const casRetries = 3

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID               string     `json:"id"`
	EventID          string     `json:"event_id"`
	EndpointID       string     `json:"endpoint_id"`
	TenantID         string     `json:"tenant_id"`
	EventType        string     `json:"event_type"`
	Payload          string     `json:"payload"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attempt_count"`
	MaxAttempts      int        `json:"max_attempts"`
	NextAttemptAt    time.Time  `json:"next_attempt_at"`
	LeaseToken       string     `json:"lease_token,omitempty"`
	LeaseExpiresAt   *time.Time `json:"lease_expires_at,omitempty"`
	LastResponseCode int        `json:"last_response_code"`
	LastError        string     `json:"last_error"`
	LastResponse     string     `json:"last_response"`
	LastLatencyMs    int        `json:"last_latency_ms"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:               d.ID.String(),
		EventID:          d.EventID.String(),
		EndpointID:       d.EndpointID.String(),
		TenantID:         d.TenantID,
		EventType:        d.EventType,
		Payload:          string(d.Payload),
		Status:           string(d.Status),
		AttemptCount:     d.AttemptCount,
		MaxAttempts:      d.MaxAttempts,
		NextAttemptAt:    d.NextAttemptAt,
		LeaseToken:       d.LeaseToken,
		LeaseExpiresAt:   d.LeaseExpiresAt,
		LastResponseCode: d.LastResponseCode,
		LastError:        d.LastError,
		LastResponse:     d.LastResponse,
		LastLatencyMs:    d.LastLatencyMs,
		CompletedAt:      d.CompletedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               delID,
		EventID:          evtID,
		EndpointID:       epID,
		TenantID:         m.TenantID,
		EventType:        m.EventType,
		Payload:          json.RawMessage(m.Payload),
		Status:           delivery.Status(m.Status),
		AttemptCount:     m.AttemptCount,
		MaxAttempts:      m.MaxAttempts,
		NextAttemptAt:    m.NextAttemptAt,
		LeaseToken:       m.LeaseToken,
		LeaseExpiresAt:   m.LeaseExpiresAt,
		LastResponseCode: m.LastResponseCode,
		LastError:        m.LastError,
		LastResponse:     m.LastResponse,
		LastLatencyMs:    m.LastLatencyMs,
		CompletedAt:      m.CompletedAt,
	}, nil
}

func fromDeliveryModels(models []*deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, 0, len(models))
	for _, m := range models {
		d, err := fromDeliveryModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// dueScore is the time m becomes claimable. ok is false for terminal
// deliveries, which never do.
func dueScore(m *deliveryModel) (score float64, ok bool) {
	switch delivery.Status(m.Status) {
	case delivery.StatusPending:
		return scoreFromTime(m.NextAttemptAt), true
	case delivery.StatusInFlight:
		if m.LeaseExpiresAt == nil {
			return 0, true
		}
		return scoreFromTime(*m.LeaseExpiresAt), true
	}
	return 0, false
}

// casScript replaces a delivery document only if it still holds the expected
// bytes, and moves the due and status indexes along with it.
// KEYS[1] = delivery document
// KEYS[2] = due sorted set
// KEYS[3] = status set the delivery leaves
// KEYS[4] = status set the delivery enters
// ARGV[1] = expected document
// ARGV[2] = new document
// ARGV[3] = delivery ID
// ARGV[4] = due score, or '' to drop from the due set
// ARGV[5] = created_at score
// Returns 1 on success, 0 on mismatch, -1 when the document is gone.
var casScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
if ARGV[4] == '' then
    redis.call('ZREM', KEYS[2], ARGV[3])
else
    redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
end
if KEYS[3] ~= KEYS[4] then
    redis.call('ZREM', KEYS[3], ARGV[3])
    redis.call('ZADD', KEYS[4], ARGV[5], ARGV[3])
end
return 1
`)

type casResult int64

const (
	casGone     casResult = -1
	casMismatch casResult = 0
	casOK       casResult = 1
)

// swap writes next in place of the document raw, which held prev.
func (s *Store) swap(ctx context.Context, raw string, prev, next *deliveryModel) (casResult, error) {
	encoded, err := json.Marshal(next)
	if err != nil {
		return casMismatch, fmt.Errorf("marshal delivery: %w", err)
	}

	due := ""
	if score, ok := dueScore(next); ok {
		due = formatScore(score)
	}

	keys := []string{
		entityKey(prefixDelivery, next.ID),
		zDeliveryDue,
		statusSetKey(prev.Status),
		statusSetKey(next.Status),
	}
	res, err := casScript.Run(ctx, s.rdb, keys,
		raw, string(encoded), next.ID, due, formatScore(scoreFromTime(next.CreatedAt)),
	).Int64()
	if err != nil {
		return casMismatch, err
	}
	return casResult(res), nil
}

// load returns the raw and decoded document of a delivery.
func (s *Store) load(ctx context.Context, delID string) (string, *deliveryModel, error) {
	raw, err := s.rdb.Get(ctx, entityKey(prefixDelivery, delID)).Result()
	if err != nil {
		if isRedisNil(err) {
			return "", nil, delivery.ErrNotFound
		}
		return "", nil, err
	}

	var m deliveryModel
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", nil, fmt.Errorf("decode delivery %s: %w", delID, err)
	}
	return raw, &m, nil
}

// EnqueueBatch creates the deliveries of one emission in a single MULTI/EXEC.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, d := range ds {
			m := toDeliveryModel(d)

			raw, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal delivery: %w", err)
			}

			created := scoreFromTime(m.CreatedAt)
			pipe.Set(ctx, entityKey(prefixDelivery, m.ID), raw, 0)
			pipe.ZAdd(ctx, zDeliveryEP+m.EndpointID, goredis.Z{Score: created, Member: m.ID})
			pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: created, Member: m.ID})
			pipe.ZAdd(ctx, statusSetKey(m.Status), goredis.Z{Score: created, Member: m.ID})
			if score, ok := dueScore(m); ok {
				pipe.ZAdd(ctx, zDeliveryDue, goredis.Z{Score: score, Member: m.ID})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("courier/redis: enqueue batch: %w", err)
	}
	return nil
}

// ListDue returns claimable deliveries. The due index may run ahead of a
// concurrent claim, so each document is checked again.
func (s *Store) ListDue(ctx context.Context, t time.Time, limit int) ([]*delivery.Delivery, error) {
	by := &goredis.ZRangeBy{Min: "-inf", Max: formatScore(scoreFromTime(t))}
	if limit > 0 {
		by.Count = int64(limit)
	}

	ids, err := s.rdb.ZRangeByScore(ctx, zDeliveryDue, by).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list due: %w", err)
	}

	models, err := mgetEntities[deliveryModel](ctx, s.rdb, prefixDelivery, ids)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list due: %w", err)
	}

	all, err := fromDeliveryModels(models)
	if err != nil {
		return nil, err
	}

	due := all[:0]
	for _, d := range all {
		if d.Due(t) {
			due = append(due, d)
		}
	}

	slices.SortStableFunc(due, func(a, b *delivery.Delivery) int {
		return a.NextAttemptAt.Compare(b.NextAttemptAt)
	})
	return due, nil
}

// Claim leases a due delivery. Exactly one of several concurrent claimers
// wins the swap.
func (s *Store) Claim(ctx context.Context, delID id.ID, token string, t, leaseUntil time.Time) (*delivery.Delivery, error) {
	raw, cur, err := s.load(ctx, delID.String())
	if err != nil {
		return nil, err
	}

	d, err := fromDeliveryModel(cur)
	if err != nil {
		return nil, err
	}
	if !d.Due(t) {
		return nil, delivery.ErrClaimConflict
	}

	next := *cur
	lease := leaseUntil.UTC()
	next.Status = string(delivery.StatusInFlight)
	next.LeaseToken = token
	next.LeaseExpiresAt = &lease
	next.UpdatedAt = t.UTC()

	res, err := s.swap(ctx, raw, cur, &next)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: claim: %w", err)
	}

	switch res {
	case casOK:
		return fromDeliveryModel(&next)
	case casGone:
		return nil, delivery.ErrNotFound
	default:
		return nil, delivery.ErrClaimConflict
	}
}

// CompleteAttempt writes an attempt outcome if d.LeaseToken still owns the
// delivery, releasing the lease.
func (s *Store) CompleteAttempt(ctx context.Context, d *delivery.Delivery) error {
	for range casRetries {
		raw, cur, err := s.load(ctx, d.ID.String())
		if err != nil {
			return err
		}
		if cur.Status != string(delivery.StatusInFlight) || cur.LeaseToken != d.LeaseToken {
			return delivery.ErrLeaseLost
		}

		next := toDeliveryModel(d)
		next.CreatedAt = cur.CreatedAt
		next.Payload = cur.Payload
		next.LeaseToken = ""
		next.LeaseExpiresAt = nil

		res, err := s.swap(ctx, raw, cur, next)
		if err != nil {
			return fmt.Errorf("courier/redis: complete attempt: %w", err)
		}

		switch res {
		case casOK:
			return nil
		case casGone:
			return delivery.ErrNotFound
		}
	}
	return delivery.ErrLeaseLost
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	_, m, err := s.load(ctx, delID.String())
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("courier/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRevRange(ctx, zDeliveryEP+epID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by endpoint: %w", err)
	}

	return s.listFiltered(ctx, ids, opts, func(m *deliveryModel) bool {
		return opts.Status == "" || m.Status == string(opts.Status)
	})
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by event: %w", err)
	}

	return s.listFiltered(ctx, ids, delivery.ListOpts{}, func(*deliveryModel) bool { return true })
}

func (s *Store) ListByStatus(ctx context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRevRange(ctx, statusSetKey(string(status)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by status: %w", err)
	}

	return s.listFiltered(ctx, ids, opts, func(m *deliveryModel) bool {
		return m.Status == string(status) && (opts.TenantID == "" || m.TenantID == opts.TenantID)
	})
}

func (s *Store) listFiltered(ctx context.Context, ids []string, opts delivery.ListOpts, keep func(*deliveryModel) bool) ([]*delivery.Delivery, error) {
	models, err := mgetEntities[deliveryModel](ctx, s.rdb, prefixDelivery, ids)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list deliveries: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(models))
	for _, m := range models {
		if !keep(m) {
			continue
		}
		d, err := fromDeliveryModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	cmds := make(map[delivery.Status]*goredis.IntCmd, len(delivery.Statuses))

	_, err := s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, st := range delivery.Statuses {
			cmds[st] = pipe.ZCard(ctx, statusSetKey(string(st)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("courier/redis: count by status: %w", err)
	}

	counts := make(map[delivery.Status]int64, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

// Requeue returns a failed or dead-lettered delivery to pending under the
// same ID.
func (s *Store) Requeue(ctx context.Context, delID id.ID, t time.Time) (*delivery.Delivery, error) {
	for range casRetries {
		raw, cur, err := s.load(ctx, delID.String())
		if err != nil {
			return nil, err
		}
		if cur.Status != string(delivery.StatusFailed) && cur.Status != string(delivery.StatusDeadLettered) {
			return nil, delivery.ErrNotRequeueable
		}

		next := *cur
		next.Status = string(delivery.StatusPending)
		next.AttemptCount = 0
		next.NextAttemptAt = t.UTC()
		next.CompletedAt = nil
		next.LeaseToken = ""
		next.LeaseExpiresAt = nil
		next.UpdatedAt = t.UTC()

		res, err := s.swap(ctx, raw, cur, &next)
		if err != nil {
			return nil, fmt.Errorf("courier/redis: requeue: %w", err)
		}

		switch res {
		case casOK:
			return fromDeliveryModel(&next)
		case casGone:
			return nil, delivery.ErrNotFound
		}
	}
	return nil, delivery.ErrNotRequeueable
}
