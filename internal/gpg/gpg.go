// Package gpg verifies detached OpenPGP signatures over launcher inputs
// such as the requirements file.
package gpg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

const (
	maxKeyFileSize  = 1024 * 1024      // 1MB is far beyond any armored public key
	maxDataFileSize = 64 * 1024 * 1024 // requirements files are small
	keyFileMode     = 0600             // Required file permissions for key files on Unix systems
)

// ErrNoKeys is returned when a keyring has nothing to verify against.
var ErrNoKeys = errors.New("no keys in keyring")

// KeyRing represents a collection of PGP keys for signature verification
type KeyRing interface {
	VerifyDetached(message []byte, signature []byte) error
	AddKey(key Key) error
	Fingerprints() []string
}

// Key represents a PGP public key
type Key interface {
	IsExpired() bool
	GetFingerprint() string
}

// RealKeyRing implements KeyRing interface using gopenpgp v2 for actual cryptographic verification
type RealKeyRing struct {
	keyRing *crypto.KeyRing
	fps     []string
}

// RealKey implements Key interface with actual PGP key data
type RealKey struct {
	pgpKey      *crypto.Key
	fingerprint string
}

// NewRealKeyRing creates a new RealKeyRing using gopenpgp v2
func NewRealKeyRing() *RealKeyRing {
	return &RealKeyRing{}
}

// VerifyDetached checks an armored or binary detached signature over message.
func (rk *RealKeyRing) VerifyDetached(message []byte, signature []byte) error {
	if rk.keyRing == nil {
		return ErrNoKeys
	}
	if len(signature) == 0 {
		return fmt.Errorf("signature cannot be empty")
	}

	plainMessage := crypto.NewPlainMessage(message)

	pgpSignature, err := crypto.NewPGPSignatureFromArmored(string(signature))
	if err != nil {
		pgpSignature = crypto.NewPGPSignature(signature)
	}

	if err := rk.keyRing.VerifyDetached(plainMessage, pgpSignature, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// AddKey implements KeyRing interface
func (rk *RealKeyRing) AddKey(key Key) error {
	if key == nil {
		return fmt.Errorf("key cannot be nil")
	}

	realKey, ok := key.(*RealKey)
	if !ok {
		return fmt.Errorf("unsupported key type")
	}

	if rk.keyRing == nil {
		var err error
		rk.keyRing, err = crypto.NewKeyRing(realKey.pgpKey)
		if err != nil {
			return fmt.Errorf("failed to create keyring: %w", err)
		}
	} else if err := rk.keyRing.AddKey(realKey.pgpKey); err != nil {
		return fmt.Errorf("failed to add key to keyring: %w", err)
	}

	rk.fps = append(rk.fps, realKey.fingerprint)
	return nil
}

// Fingerprints lists the keys in insertion order.
func (rk *RealKeyRing) Fingerprints() []string {
	return append([]string(nil), rk.fps...)
}

// NewRealKey creates a new RealKey from armored data using gopenpgp v2
func NewRealKey(armoredData string) (*RealKey, error) {
	if armoredData == "" {
		return nil, fmt.Errorf("armored data cannot be empty")
	}

	pgpKey, err := crypto.NewKeyFromArmored(armoredData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PGP key: %w", err)
	}

	return &RealKey{
		pgpKey:      pgpKey,
		fingerprint: pgpKey.GetFingerprint(),
	}, nil
}

// IsExpired implements Key interface
func (rk *RealKey) IsExpired() bool {
	return rk.pgpKey.IsExpired()
}

// GetFingerprint implements Key interface
func (rk *RealKey) GetFingerprint() string {
	return rk.fingerprint
}

// VerifyDetachedSignature verifies a detached signature (.sig or .asc file) against the given data file
// using the provided KeyRing.
func VerifyDetachedSignature(keyRing KeyRing, dataFilePath string, sigFilePath string) error {
	if keyRing == nil {
		return fmt.Errorf("keyring cannot be nil")
	}

	dataFileContent, err := readLimited(dataFilePath, maxDataFileSize)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	sigFileContent, err := readLimited(sigFilePath, maxKeyFileSize)
	if err != nil {
		return fmt.Errorf("failed to read signature file: %w", err)
	}

	if err := keyRing.VerifyDetached(dataFileContent, sigFileContent); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(dataFilePath), err)
	}
	return nil
}

// LoadKeyRingFromPath loads all ASCII-armored PGP public keys from the given directory path
// and returns a KeyRing containing these keys using real GPG verification.
func LoadKeyRingFromPath(keysPath string) (KeyRing, error) {
	files, err := os.ReadDir(keysPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	keyRing := NewRealKeyRing()
	keyCount := 0

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".asc" {
			continue
		}

		filePath := filepath.Join(keysPath, file.Name())
		if err := validateKeyFile(filePath); err != nil {
			return nil, fmt.Errorf("invalid key file '%s': %w", file.Name(), err)
		}

		keyData, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}

		key, err := NewRealKey(string(keyData))
		if err != nil {
			return nil, fmt.Errorf("failed to parse armored key in '%s': %w", file.Name(), err)
		}

		if err := validateKey(key); err != nil {
			return nil, fmt.Errorf("invalid key in file '%s': %w", file.Name(), err)
		}

		if err := keyRing.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add key to keyring: %w", err)
		}
		keyCount++
	}

	if keyCount == 0 {
		return nil, fmt.Errorf("no .asc keys found in directory")
	}
	return keyRing, nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s exceeds maximum allowed size of %d bytes", filepath.Base(path), limit)
	}
	return os.ReadFile(path)
}

// validateKeyFile checks if a key file has appropriate permissions and size
func validateKeyFile(filePath string) error {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("failed to access key file: %w", err)
	}

	if fileInfo.Size() > maxKeyFileSize {
		return fmt.Errorf("key file exceeds maximum allowed size of %d bytes", maxKeyFileSize)
	}

	// Check file permissions (allow both 0600 and 0644 for compatibility)
	perm := fileInfo.Mode().Perm()
	if perm != keyFileMode && perm != 0644 {
		return fmt.Errorf("key file has incorrect permissions. Expected %o or 0644, got %o", keyFileMode, perm)
	}

	return nil
}

// validateKey performs basic validation of a PGP key
func validateKey(key Key) error {
	if key == nil {
		return fmt.Errorf("key is nil")
	}
	if key.IsExpired() {
		return fmt.Errorf("key %s is expired", key.GetFingerprint())
	}
	return nil
}
