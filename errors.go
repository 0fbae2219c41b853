package courier

import (
	"errors"

	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/vault"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("courier: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("courier: migration failed")

	// ErrInvalidConfig is returned by Config.Validate for out-of-range settings.
	ErrInvalidConfig = errors.New("courier: invalid config")

	// ErrEndpointNotFound is returned when an endpoint cannot be found.
	ErrEndpointNotFound = endpoint.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrClaimConflict is returned when a delivery was claimed by another worker.
	ErrClaimConflict = delivery.ErrClaimConflict

	// ErrLeaseLost is returned when an attempt completes after its lease was taken over.
	ErrLeaseLost = delivery.ErrLeaseLost

	// ErrNotReplayable is returned when replaying a delivery that is not failed or dead-lettered.
	ErrNotReplayable = delivery.ErrNotRequeueable

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = catalog.ErrNotFound

	// ErrEventTypeDeprecated is returned when emitting a deprecated event type.
	ErrEventTypeDeprecated = catalog.ErrDeprecated

	// ErrMissingMasterKey is returned at startup in production without a master key.
	ErrMissingMasterKey = vault.ErrMissingMasterKey

	// ErrWeakMasterKey is returned for a master key shorter than 32 bytes.
	ErrWeakMasterKey = vault.ErrWeakMasterKey

	// ErrSignatureMismatch is returned when a signature does not verify.
	ErrSignatureMismatch = signature.ErrSignatureMismatch

	// ErrBreakerContention is returned when breaker state could not be updated
	// after repeated concurrent writes.
	ErrBreakerContention = breaker.ErrContention
)

// Typed errors, re-exported so callers need only this package.
type (
	ValidationError = endpoint.ValidationError
	EncryptionError = vault.EncryptionError
	DecryptionError = vault.DecryptionError
	HTTPError       = delivery.HTTPError
	TimeoutError    = delivery.TimeoutError
)
