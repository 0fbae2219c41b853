package courier

import (
	"fmt"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/vault"
)

// ValidateStartup checks everything that must hold before a Courier starts
// accepting work: config ranges, the master key rules and the scan schedule.
// Production without a master key is ErrMissingMasterKey; any master key
// shorter than 32 bytes is ErrWeakMasterKey.
func ValidateStartup(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.MasterKey == "" && cfg.Production() {
		return ErrMissingMasterKey
	}
	if cfg.MasterKey != "" && len(cfg.MasterKey) < vault.MinMasterKeyLength {
		return fmt.Errorf("%w: master key %q", ErrWeakMasterKey, cfg.MasterKeyID)
	}
	for kid, key := range cfg.RetiredMasterKeys {
		if len(key) < vault.MinMasterKeyLength {
			return fmt.Errorf("%w: retired key %q", ErrWeakMasterKey, kid)
		}
	}

	if cfg.ScanSchedule != "" {
		if _, err := delivery.ParseSchedule(cfg.ScanSchedule); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
