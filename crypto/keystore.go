package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// The node's authority key lives in a single scrypt-encrypted v3 keystore
// file. go-ethereum's keystore package only manages whole directories, so
// encryption goes through a throwaway directory and the resulting file is
// moved into place.

// SaveToKeystore encrypts the authority key under the passphrase and writes
// it to path, creating parent directories as needed. An existing file at path
// is replaced.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("keystore: no key to save")
	}
	if path == "" {
		return errors.New("keystore: target path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}

	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return fmt.Errorf("keystore: scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("keystore: encrypt key: %w", err)
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("keystore: encryption produced no file")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, entries[0].Name()), path); err != nil {
		return fmt.Errorf("keystore: move into place: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts the keystore file at path with the passphrase and
// returns the authority key.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("keystore: path required")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt key: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
