package vault

import "errors"

var (
	// ErrMissingMasterKey is returned when a production vault has no master key.
	ErrMissingMasterKey = errors.New("courier: master key is required in production")

	// ErrWeakMasterKey is returned for master keys below MinMasterKeyLength.
	ErrWeakMasterKey = errors.New("courier: master key too short")
)

// EncryptionError reports a failure to seal a secret.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return "courier/vault: encrypt secret: " + e.Err.Error()
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError reports a ciphertext that could not be opened: tampered,
// malformed, or sealed with a key this vault does not hold.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	return "courier/vault: decrypt secret: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }
