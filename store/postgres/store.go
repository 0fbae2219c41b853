package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Claims are single conditional UPDATE ... RETURNING statements, so two
// workers racing for the same delivery cannot both win.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("courier/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("courier/postgres: %w: %w", courier.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Endpoint Store ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, endpoint.ErrNotFound)
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.pg.NewDelete((*endpointModel)(nil)).
		Where("id = $1", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, endpoint.ErrNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ep
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("status = $2", string(endpoint.StatusActive)).
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		if ep.Subscribes(eventType) {
			result = append(result, ep)
		}
	}
	return result, nil
}

func (s *Store) SetStatus(ctx context.Context, epID id.ID, status endpoint.Status) error {
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now).
		Where("id = $3", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, endpoint.ErrNotFound)
}

// ==================== Delivery Store ====================

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		SELECT * FROM courier_deliveries
		WHERE (status = 'pending' AND next_attempt_at <= $1)
		   OR (status = 'in_flight' AND (lease_expires_at IS NULL OR lease_expires_at <= $1))
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, now.UTC(), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) Claim(ctx context.Context, delID id.ID, token string, now, leaseUntil time.Time) (*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE courier_deliveries
		SET status = 'in_flight', lease_token = $2, lease_expires_at = $4, updated_at = $3
		WHERE id = $1
		  AND ((status = 'pending' AND next_attempt_at <= $3)
		    OR (status = 'in_flight' AND (lease_expires_at IS NULL OR lease_expires_at <= $3)))
		RETURNING *
	`, delID.String(), token, now.UTC(), leaseUntil.UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		if _, err := s.GetDelivery(ctx, delID); err != nil {
			return nil, err
		}
		return nil, delivery.ErrClaimConflict
	}
	return fromDeliveryModel(&models[0])
}

func (s *Store) CompleteAttempt(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("status = $1", string(d.Status)).
		Set("attempt_count = $2", d.AttemptCount).
		Set("next_attempt_at = $3", d.NextAttemptAt.UTC()).
		Set("last_response_code = $4", d.LastResponseCode).
		Set("last_error = $5", d.LastError).
		Set("last_response = $6", d.LastResponse).
		Set("last_latency_ms = $7", d.LastLatencyMs).
		Set("completed_at = $8", d.CompletedAt).
		Set("updated_at = $9", d.UpdatedAt.UTC()).
		Set("lease_token = ''").
		Set("lease_expires_at = NULL").
		Where("id = $10", d.ID.String()).
		Where("status = 'in_flight'").
		Where("lease_token = $11", d.LeaseToken).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetDelivery(ctx, d.ID); err != nil {
			return err
		}
		return delivery.ErrLeaseLost
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", delID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("endpoint_id = $1", epID.String())

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.TenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), opts.TenantID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) ListByStatus(ctx context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("status = $1", string(status))
	if opts.TenantID != "" {
		q = q.Where("tenant_id = $2", opts.TenantID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	counts := make(map[delivery.Status]int64, len(delivery.Statuses))
	for _, status := range delivery.Statuses {
		n, err := s.pg.NewSelect((*deliveryModel)(nil)).
			Where("status = $1", string(status)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

func (s *Store) Requeue(ctx context.Context, delID id.ID, now time.Time) (*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE courier_deliveries
		SET status = 'pending', attempt_count = 0, next_attempt_at = $2,
		    completed_at = NULL, lease_token = '', lease_expires_at = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('failed', 'dead_lettered')
		RETURNING *
	`, delID.String(), now.UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		if _, err := s.GetDelivery(ctx, delID); err != nil {
			return nil, err
		}
		return nil, delivery.ErrNotRequeueable
	}
	return fromDeliveryModel(&models[0])
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectRow(res rowsAffected, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
