package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a delivery does not exist.
	ErrNotFound = errors.New("courier: delivery not found")

	// ErrClaimConflict is returned when another worker claimed the delivery
	// first or it is no longer due.
	ErrClaimConflict = errors.New("courier: delivery claim conflict")

	// ErrLeaseLost is returned when an attempt completes after its lease was
	// taken over.
	ErrLeaseLost = errors.New("courier: delivery lease lost")

	// ErrNotRequeueable is returned when replaying a delivery that is not
	// failed or dead-lettered.
	ErrNotRequeueable = errors.New("courier: delivery is not failed or dead-lettered")
)

// HTTPError is a receiver response outside 2xx.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("receiver responded %d", e.StatusCode)
}

// TimeoutError is an attempt that did not complete within the request timeout.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
