package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// endpointModel is the JSON representation stored in Redis.
type endpointModel struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	URL              string            `json:"url"`
	Description      string            `json:"description"`
	SecretCiphertext string            `json:"secret_ciphertext"`
	EventTypes       []string          `json:"event_types"`
	Headers          map[string]string `json:"headers,omitempty"`
	Status           string            `json:"status"`
	RateLimit        int               `json:"rate_limit"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:               ep.ID.String(),
		TenantID:         ep.TenantID,
		URL:              ep.URL,
		Description:      ep.Description,
		SecretCiphertext: ep.SecretCiphertext,
		EventTypes:       ep.EventTypes,
		Headers:          ep.Headers,
		Status:           string(ep.Status),
		RateLimit:        ep.RateLimit,
		Metadata:         ep.Metadata,
		CreatedAt:        ep.CreatedAt,
		UpdatedAt:        ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               epID,
		TenantID:         m.TenantID,
		URL:              m.URL,
		Description:      m.Description,
		SecretCiphertext: m.SecretCiphertext,
		EventTypes:       m.EventTypes,
		Headers:          m.Headers,
		Status:           endpoint.Status(m.Status),
		RateLimit:        m.RateLimit,
		Metadata:         m.Metadata,
	}, nil
}

// writeEndpoint stores m and keeps the tenant indexes in step, in one
// MULTI/EXEC.
func (s *Store) writeEndpoint(ctx context.Context, m *endpointModel) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal endpoint: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, entityKey(prefixEndpoint, m.ID), raw, 0)
		pipe.ZAdd(ctx, zEndpointTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		if m.Status == string(endpoint.StatusActive) {
			pipe.SAdd(ctx, activeSetKey(m.TenantID), m.ID)
		} else {
			pipe.SRem(ctx, activeSetKey(m.TenantID), m.ID)
		}
		return nil
	})
	return err
}

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if err := s.writeEndpoint(ctx, toEndpointModel(ep)); err != nil {
		return fmt.Errorf("courier/redis: create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, fmt.Errorf("courier/redis: get endpoint: %w", err)
	}
	return fromEndpointModel(&m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	var existing endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, ep.ID.String()), &existing); err != nil {
		if isRedisNil(err) {
			return endpoint.ErrNotFound
		}
		return fmt.Errorf("courier/redis: update endpoint get: %w", err)
	}

	m := toEndpointModel(ep)
	m.UpdatedAt = now()

	if err := s.writeEndpoint(ctx, m); err != nil {
		return fmt.Errorf("courier/redis: update endpoint: %w", err)
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	key := entityKey(prefixEndpoint, epID.String())

	var m endpointModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return endpoint.ErrNotFound
		}
		return fmt.Errorf("courier/redis: delete endpoint get: %w", err)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, zEndpointTenant+m.TenantID, m.ID)
		pipe.SRem(ctx, activeSetKey(m.TenantID), m.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("courier/redis: delete endpoint: %w", err)
	}
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.ZRange(ctx, zEndpointTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list endpoints: %w", err)
	}

	models, err := mgetEntities[endpointModel](ctx, s.rdb, prefixEndpoint, ids)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(models))
	for _, m := range models {
		if opts.Status != "" && m.Status != string(opts.Status) {
			continue
		}
		ep, err := fromEndpointModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: resolve: %w", err)
	}

	models, err := mgetEntities[endpointModel](ctx, s.rdb, prefixEndpoint, ids)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: resolve: %w", err)
	}

	var result []*endpoint.Endpoint
	for _, m := range models {
		ep, err := fromEndpointModel(m)
		if err != nil {
			return nil, err
		}
		if ep.Active() && ep.Subscribes(eventType) {
			result = append(result, ep)
		}
	}

	slices.SortFunc(result, func(a, b *endpoint.Endpoint) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) SetStatus(ctx context.Context, epID id.ID, status endpoint.Status) error {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID.String()), &m); err != nil {
		if isRedisNil(err) {
			return endpoint.ErrNotFound
		}
		return fmt.Errorf("courier/redis: set status get: %w", err)
	}

	m.Status = string(status)
	m.UpdatedAt = now()

	if err := s.writeEndpoint(ctx, &m); err != nil {
		return fmt.Errorf("courier/redis: set status: %w", err)
	}
	return nil
}
