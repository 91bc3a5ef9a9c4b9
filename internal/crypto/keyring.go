package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrKeyNotFound    = errors.New("key not found in keyring")
	ErrActiveKeyUnset = errors.New("active master key identifier not set or found")
	ErrInvalidKeySize = errors.New("invalid key size: must be 32 bytes for AES-256")
	ErrDecryption     = errors.New("decryption failed: invalid key, tag, or context")
)

type MasterKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // base64
}

// Keyring holds the master keys used to seal connector credentials at
// rest. Old keys stay loadable so rotated rows still open.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// LoadFromEnv loads MASTER_KEYS (JSON array) and ACTIVE_MASTER_KID.
// Validation is strict: a misconfigured keyring must fail closed.
func (k *Keyring) LoadFromEnv() error {
	keysJSON := os.Getenv("MASTER_KEYS")
	activeKID := os.Getenv("ACTIVE_MASTER_KID")

	if keysJSON == "" {
		return errors.New("MASTER_KEYS environment variable is empty")
	}
	if activeKID == "" {
		return errors.New("ACTIVE_MASTER_KID environment variable is empty")
	}

	var rawKeys []MasterKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse MASTER_KEYS: %w", err)
	}

	k.keys = make(map[string][]byte)
	for _, rk := range rawKeys {
		if rk.KID == "" {
			return errors.New("found master key with empty KID")
		}
		if _, exists := k.keys[rk.KID]; exists {
			return fmt.Errorf("duplicate master key KID: %s", rk.KID)
		}

		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("invalid key length for %s: expected 32 bytes (AES-256), got %d", rk.KID, len(decoded))
		}
		k.keys[rk.KID] = decoded
	}

	if _, ok := k.keys[activeKID]; !ok {
		return fmt.Errorf("active key %s not found in MASTER_KEYS", activeKID)
	}
	k.activeKID = activeKID
	return nil
}

// AddKey registers a key directly. Test seam; production loads from env.
func (k *Keyring) AddKey(kid string, material []byte, active bool) error {
	if len(material) != 32 {
		return ErrInvalidKeySize
	}
	k.keys[kid] = material
	if active {
		k.activeKID = kid
	}
	return nil
}

// SealedBlob is the stored envelope for an encrypted credentials payload.
// Byte fields marshal as base64 in JSON.
type SealedBlob struct {
	KID   string `json:"kid"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
	Tag   []byte `json:"tag"`
}

// Seal encrypts plaintext with AES-256-GCM under the active master key.
// The AAD binds the blob to its owning row so envelopes cannot be
// swapped between rows; the tag is stored apart from the ciphertext to
// match the envelope layout.
func (k *Keyring) Seal(plaintext, aad []byte) (*SealedBlob, error) {
	if k.activeKID == "" {
		return nil, ErrActiveKeyUnset
	}
	key, ok := k.keys[k.activeKID]
	if !ok {
		return nil, ErrActiveKeyUnset
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	full := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(full) - gcm.Overhead()
	return &SealedBlob{
		KID:   k.activeKID,
		Nonce: nonce,
		Data:  full[:split],
		Tag:   full[split:],
	}, nil
}

// Open decrypts a sealed blob using whichever master key sealed it.
// Failures collapse into ErrDecryption so callers cannot distinguish
// tag, key and AAD mismatches.
func (k *Keyring) Open(blob *SealedBlob, aad []byte) ([]byte, error) {
	key, ok := k.keys[blob.KID]
	if !ok {
		return nil, ErrKeyNotFound
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob.Nonce) != gcm.NonceSize() {
		return nil, ErrDecryption
	}

	full := make([]byte, 0, len(blob.Data)+len(blob.Tag))
	full = append(full, blob.Data...)
	full = append(full, blob.Tag...)

	plaintext, err := gcm.Open(nil, blob.Nonce, full, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// RandomKey generates a 32-byte AES-256 key. Used by tests and key
// provisioning tooling.
func RandomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
