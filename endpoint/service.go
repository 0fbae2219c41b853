package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/signature"
)

// SecretSealer encrypts signing secrets for storage and forgets cached
// plaintexts when they change.
type SecretSealer interface {
	EncryptSecretForStorage(secret string) (string, error)
	ClearSecretCache(endpointIDs ...string)
}

// Service provides endpoint management operations.
type Service struct {
	store  Store
	sealer SecretSealer
	guard  *Guard
	logger *slog.Logger
}

// NewService creates a new endpoint service. A nil guard allows only public
// addresses, resolved through the system resolver.
func NewService(store Store, sealer SecretSealer, guard *Guard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = NewGuard(false, nil)
	}
	return &Service{
		store:  store,
		sealer: sealer,
		guard:  guard,
		logger: logger,
	}
}

// Create registers a new webhook endpoint. The plaintext secret is returned
// once, here; only its ciphertext is stored.
func (svc *Service) Create(ctx context.Context, in Input) (*Endpoint, string, error) {
	if in.TenantID == "" {
		return nil, "", &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if err := svc.checkURL(ctx, in.URL); err != nil {
		return nil, "", err
	}
	if err := validateEventTypes(in.EventTypes); err != nil {
		return nil, "", err
	}
	if err := validateHeaders(in.Headers); err != nil {
		return nil, "", err
	}
	if in.RateLimit < 0 {
		return nil, "", &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}
	ciphertext, err := svc.sealer.EncryptSecretForStorage(secret)
	if err != nil {
		return nil, "", err
	}

	ep := &Endpoint{
		Entity:           entity.New(),
		ID:               id.NewEndpointID(),
		TenantID:         in.TenantID,
		URL:              in.URL,
		Description:      in.Description,
		SecretCiphertext: ciphertext,
		EventTypes:       in.EventTypes,
		Headers:          in.Headers,
		Status:           StatusActive,
		RateLimit:        in.RateLimit,
		Metadata:         in.Metadata,
	}

	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, "", err
	}

	svc.logger.InfoContext(ctx, "endpoint created",
		"endpoint_id", ep.ID.String(),
		"tenant_id", ep.TenantID,
	)
	return ep, secret, nil
}

// Get returns an endpoint by ID.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// Update applies a partial update to an existing endpoint.
func (svc *Service) Update(ctx context.Context, epID id.ID, p Patch) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}

	if p.URL != nil {
		if err := svc.checkURL(ctx, *p.URL); err != nil {
			return nil, err
		}
		ep.URL = *p.URL
	}
	if p.Description != nil {
		ep.Description = *p.Description
	}
	if p.EventTypes != nil {
		if err := validateEventTypes(p.EventTypes); err != nil {
			return nil, err
		}
		ep.EventTypes = p.EventTypes
	}
	if p.Headers != nil {
		if err := validateHeaders(p.Headers); err != nil {
			return nil, err
		}
		ep.Headers = p.Headers
	}
	if p.RateLimit != nil {
		if *p.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
		}
		ep.RateLimit = *p.RateLimit
	}
	if p.Metadata != nil {
		ep.Metadata = p.Metadata
	}
	ep.Touch(time.Now())

	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	svc.sealer.ClearSecretCache(ep.ID.String())
	return ep, nil
}

// Delete removes an endpoint.
func (svc *Service) Delete(ctx context.Context, epID id.ID) error {
	if err := svc.store.DeleteEndpoint(ctx, epID); err != nil {
		return err
	}
	svc.sealer.ClearSecretCache(epID.String())
	return nil
}

// List returns endpoints for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, tenantID, opts)
}

// Disable stops deliveries to an endpoint. Due records for it are terminated
// as failed when they come up.
func (svc *Service) Disable(ctx context.Context, epID id.ID) error {
	return svc.setStatus(ctx, epID, StatusDisabled)
}

// Enable resumes deliveries to an endpoint.
func (svc *Service) Enable(ctx context.Context, epID id.ID) error {
	return svc.setStatus(ctx, epID, StatusActive)
}

func (svc *Service) setStatus(ctx context.Context, epID id.ID, status Status) error {
	if err := svc.store.SetStatus(ctx, epID, status); err != nil {
		return err
	}
	svc.sealer.ClearSecretCache(epID.String())
	svc.logger.InfoContext(ctx, "endpoint status changed",
		"endpoint_id", epID.String(),
		"status", string(status),
	)
	return nil
}

// RotateSecret generates a new signing secret for an endpoint and returns it.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()
	ciphertext, err := svc.sealer.EncryptSecretForStorage(newSecret)
	if err != nil {
		return "", err
	}

	ep.SecretCiphertext = ciphertext
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}
	svc.sealer.ClearSecretCache(ep.ID.String())

	return newSecret, nil
}

func (svc *Service) checkURL(ctx context.Context, raw string) error {
	if err := svc.guard.Check(ctx, raw); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &ValidationError{Field: "url", Message: "host could not be resolved"}
	}
	return nil
}

func validateEventTypes(patterns []string) error {
	if len(patterns) == 0 {
		return &ValidationError{Field: "event_types", Message: "at least one event type pattern required"}
	}
	for _, p := range patterns {
		if err := catalog.ValidatePattern(p); err != nil {
			return &ValidationError{Field: "event_types", Message: err.Error()}
		}
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	for name := range headers {
		if IsReservedHeader(name) {
			return &ValidationError{Field: "headers", Message: fmt.Sprintf("%s is reserved", name)}
		}
	}
	return nil
}
