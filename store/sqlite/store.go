package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite serializes writes, so the conditional UPDATE ... RETURNING claim
// needs no row locking to stay exclusive.
type Store struct {
	db *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("courier/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("courier/sqlite: %w: %w", courier.ErrMigrationFailed, err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", epID.String()).
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
	res, err := s.sdb.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, endpoint.ErrNotFound)
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.sdb.NewDelete((*endpointModel)(nil)).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, endpoint.ErrNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	if err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", string(endpoint.StatusActive)).
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
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", now).
		Where("id = ?", epID.String()).
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
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		SELECT * FROM courier_deliveries
		WHERE (status = 'pending' AND next_attempt_at <= ?)
		   OR (status = 'in_flight' AND (lease_expires_at IS NULL OR lease_expires_at <= ?))
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`, now.UTC(), now.UTC(), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) Claim(ctx context.Context, delID id.ID, token string, now, leaseUntil time.Time) (*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE courier_deliveries
		SET status = 'in_flight', lease_token = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND ((status = 'pending' AND next_attempt_at <= ?)
		    OR (status = 'in_flight' AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))
		RETURNING *
	`, token, leaseUntil.UTC(), now.UTC(), delID.String(), now.UTC(), now.UTC()).Scan(ctx, &models)
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
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("status = ?", string(d.Status)).
		Set("attempt_count = ?", d.AttemptCount).
		Set("next_attempt_at = ?", d.NextAttemptAt.UTC()).
		Set("last_response_code = ?", d.LastResponseCode).
		Set("last_error = ?", d.LastError).
		Set("last_response = ?", d.LastResponse).
		Set("last_latency_ms = ?", d.LastLatencyMs).
		Set("completed_at = ?", d.CompletedAt).
		Set("updated_at = ?", d.UpdatedAt.UTC()).
		Set("lease_token = ''").
		Set("lease_expires_at = NULL").
		Where("id = ?", d.ID.String()).
		Where("status = 'in_flight'").
		Where("lease_token = ?", d.LeaseToken).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", delID.String()).
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
	q := s.sdb.NewSelect(&models).Where("endpoint_id = ?", epID.String())

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
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
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", evtID.String()).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) ListByStatus(ctx context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.sdb.NewSelect(&models).Where("status = ?", string(status))
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
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
		n, err := s.sdb.NewSelect((*deliveryModel)(nil)).
			Where("status = ?", string(status)).
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
	err := s.sdb.NewRaw(`
		UPDATE courier_deliveries
		SET status = 'pending', attempt_count = 0, next_attempt_at = ?,
		    completed_at = NULL, lease_token = '', lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed', 'dead_lettered')
		RETURNING *
	`, now.UTC(), now.UTC(), delID.String()).Scan(ctx, &models)
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
