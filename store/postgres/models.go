package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:courier_endpoints"`

	ID               string            `grove:"id,pk"`
	TenantID         string            `grove:"tenant_id"`
	URL              string            `grove:"url"`
	Description      string            `grove:"description"`
	SecretCiphertext string            `grove:"secret_ciphertext"`
	EventTypes       []string          `grove:"event_types,array"`
	Headers          map[string]string `grove:"headers,type:jsonb"`
	Status           string            `grove:"status"`
	RateLimit        int               `grove:"rate_limit"`
	Metadata         map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt        time.Time         `grove:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"`
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

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:courier_deliveries"`

	ID               string          `grove:"id,pk"`
	EventID          string          `grove:"event_id"`
	EndpointID       string          `grove:"endpoint_id"`
	TenantID         string          `grove:"tenant_id"`
	EventType        string          `grove:"event_type"`
	Payload          json.RawMessage `grove:"payload,type:jsonb"`
	Status           string          `grove:"status"`
	AttemptCount     int             `grove:"attempt_count"`
	MaxAttempts      int             `grove:"max_attempts"`
	NextAttemptAt    time.Time       `grove:"next_attempt_at"`
	LeaseToken       string          `grove:"lease_token"`
	LeaseExpiresAt   *time.Time      `grove:"lease_expires_at"`
	LastResponseCode int             `grove:"last_response_code"`
	LastError        string          `grove:"last_error"`
	LastResponse     string          `grove:"last_response"`
	LastLatencyMs    int             `grove:"last_latency_ms"`
	CompletedAt      *time.Time      `grove:"completed_at"`
	CreatedAt        time.Time       `grove:"created_at"`
	UpdatedAt        time.Time       `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:               d.ID.String(),
		EventID:          d.EventID.String(),
		EndpointID:       d.EndpointID.String(),
		TenantID:         d.TenantID,
		EventType:        d.EventType,
		Payload:          d.Payload,
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
		Payload:          m.Payload,
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

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}
