package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps named private keys on the local filesystem, one hex file per
// name with mode 0600.
type KeyStore struct {
	Directory string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".feedsync", "keys"), nil
}

// OpenKeyStore returns a store rooted at directory, or at DefaultDirectory
// when directory is empty.
func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("identity: key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("identity: invalid character %q in key name", char)
	}
	return nil
}

func (ks *KeyStore) path(name string) string {
	return filepath.Join(ks.Directory, name+".key")
}

// Create generates a new identity and stores it under name.
// An existing key is only replaced when overwrite is set.
func (ks *KeyStore) Create(name string, overwrite bool) (PrivateIdentity, error) {
	id, err := Generate(rand.Reader)
	if err != nil {
		return PrivateIdentity{}, err
	}
	if err := ks.Save(name, id, overwrite); err != nil {
		return PrivateIdentity{}, err
	}
	return id, nil
}

func (ks *KeyStore) Save(name string, id PrivateIdentity, overwrite bool) error {
	if err := CheckKeyName(name); err != nil {
		return err
	}
	path := ks.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(strip0x(id.PrivateKey) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) Load(name string) (PrivateIdentity, error) {
	if err := CheckKeyName(name); err != nil {
		return PrivateIdentity{}, err
	}
	data, err := os.ReadFile(ks.path(name))
	if err != nil {
		return PrivateIdentity{}, err
	}
	return FromPrivateKeyHex(strings.TrimSpace(string(data)))
}

// List returns stored key names in sorted order.
func (ks *KeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".key") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".key"))
	}
	sort.Strings(names)
	return names, nil
}
