// Package vault encrypts endpoint signing secrets for storage and keeps a
// short-lived cache of decrypted secrets for the delivery hot path.
//
// Ciphertexts are self-describing strings:
//
//	v1:<key id>:<nonce>:<sealed>
//
// where nonce and sealed (ciphertext followed by the GCM tag) are unpadded
// base64url. The version selects AES-256-GCM with an HKDF-SHA256 derived key;
// the key id selects which master key sealed the secret, so retired keys can
// still open old ciphertexts after a rotation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	formatV1 = "v1"

	// MinMasterKeyLength is the shortest master key accepted.
	MinMasterKeyLength = 32

	// DefaultKeyID labels the active key when none is configured.
	DefaultKeyID = "k1"

	// DefaultCacheTTL bounds how long a decrypted secret stays in memory.
	DefaultCacheTTL = 5 * time.Minute

	hkdfInfo = "courier/vault/v1 endpoint-secret"
)

var b64 = base64.RawURLEncoding.Strict()

// Config configures a Vault.
type Config struct {
	// MasterKey seals new secrets. Required when Production is set.
	MasterKey string

	// KeyID labels MasterKey inside ciphertexts. Defaults to DefaultKeyID.
	KeyID string

	// RetiredKeys maps key IDs to master keys that may only open secrets.
	RetiredKeys map[string]string

	// Production forbids the ephemeral-key fallback.
	Production bool

	// CacheTTL is the decrypted-secret cache lifetime. Zero uses DefaultCacheTTL;
	// a negative value disables caching.
	CacheTTL time.Duration

	// Now is the clock used for cache expiry. Defaults to time.Now.
	Now func() time.Time
}

// Vault seals and opens endpoint signing secrets.
type Vault struct {
	activeKID string
	aeads     map[string]cipher.AEAD
	cache     *secretCache
	logger    *slog.Logger
}

// New builds a Vault from cfg. Outside production a missing master key is
// replaced by a random one that lives only as long as the process.
func New(cfg Config, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyID == "" {
		cfg.KeyID = DefaultKeyID
	}
	if strings.Contains(cfg.KeyID, ":") {
		return nil, fmt.Errorf("courier/vault: key id %q must not contain ':'", cfg.KeyID)
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	master := cfg.MasterKey
	if master == "" {
		if cfg.Production {
			return nil, ErrMissingMasterKey
		}
		ephemeral := make([]byte, MinMasterKeyLength)
		if _, err := rand.Read(ephemeral); err != nil {
			return nil, fmt.Errorf("courier/vault: generate ephemeral key: %w", err)
		}
		master = string(ephemeral)
		logger.Warn("no master key configured, using an ephemeral key; stored secrets will not survive a restart")
	}

	v := &Vault{
		activeKID: cfg.KeyID,
		aeads:     make(map[string]cipher.AEAD, 1+len(cfg.RetiredKeys)),
		cache:     newSecretCache(cfg.CacheTTL, cfg.Now),
		logger:    logger,
	}
	if err := v.addKey(cfg.KeyID, master); err != nil {
		return nil, err
	}
	for kid, key := range cfg.RetiredKeys {
		if kid == cfg.KeyID {
			continue
		}
		if err := v.addKey(kid, key); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Vault) addKey(kid, master string) error {
	if len(master) < MinMasterKeyLength {
		return fmt.Errorf("%w: key %q has %d bytes, need at least %d",
			ErrWeakMasterKey, kid, len(master), MinMasterKeyLength)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("courier/vault: derive key %q: %w", kid, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("courier/vault: cipher for key %q: %w", kid, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("courier/vault: gcm for key %q: %w", kid, err)
	}
	v.aeads[kid] = aead
	return nil
}

// EncryptSecretForStorage seals secret under the active key.
func (v *Vault) EncryptSecretForStorage(secret string) (string, error) {
	if secret == "" {
		return "", &EncryptionError{Err: errors.New("empty secret")}
	}
	aead := v.aeads[v.activeKID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &EncryptionError{Err: err}
	}
	sealed := aead.Seal(nil, nonce, []byte(secret), additionalData(v.activeKID))
	return strings.Join([]string{
		formatV1,
		v.activeKID,
		b64.EncodeToString(nonce),
		b64.EncodeToString(sealed),
	}, ":"), nil
}

// DecryptSecret opens a ciphertext produced by EncryptSecretForStorage.
func (v *Vault) DecryptSecret(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 4 {
		return "", &DecryptionError{Reason: "malformed envelope"}
	}
	if parts[0] != formatV1 {
		return "", &DecryptionError{Reason: "unsupported version " + parts[0]}
	}
	aead, ok := v.aeads[parts[1]]
	if !ok {
		return "", &DecryptionError{Reason: "unknown key id " + parts[1]}
	}
	nonce, err := b64.DecodeString(parts[2])
	if err != nil || len(nonce) != aead.NonceSize() {
		return "", &DecryptionError{Reason: "bad nonce", Err: err}
	}
	sealed, err := b64.DecodeString(parts[3])
	if err != nil {
		return "", &DecryptionError{Reason: "bad ciphertext encoding", Err: err}
	}
	plain, err := aead.Open(nil, nonce, sealed, additionalData(parts[1]))
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

// SecretFor returns the plaintext secret for an endpoint, consulting the cache
// first. A cached entry is only used while it belongs to the same ciphertext.
func (v *Vault) SecretFor(endpointID, ciphertext string) (string, error) {
	if secret, ok := v.cache.get(endpointID, ciphertext); ok {
		return secret, nil
	}
	secret, err := v.DecryptSecret(ciphertext)
	if err != nil {
		return "", err
	}
	v.cache.put(endpointID, ciphertext, secret)
	return secret, nil
}

// ClearSecretCache drops cached secrets for the given endpoints, or every
// cached secret when called without arguments.
func (v *Vault) ClearSecretCache(endpointIDs ...string) {
	v.cache.clear(endpointIDs...)
}

// ActiveKeyID reports which key seals new secrets.
func (v *Vault) ActiveKeyID() string { return v.activeKID }

// additionalData binds the version and key id to the sealed bytes.
func additionalData(kid string) []byte {
	return []byte(formatV1 + ":" + kid)
}
