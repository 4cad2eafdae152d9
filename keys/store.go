package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Store is a simple local-first key directory for vault signers.
//
// Features:
// - secp256k1 signing keys, stored as hex on the local filesystem
// - optional Dilithium3 co-signing seeds alongside each signing key
// - 0600 key files, never overwritten unless asked
//
// This package is designed to be straightforward and explicit.
type Store struct {
	Directory string
}

// Entry describes one named signer in the store.
type Entry struct {
	Name    string
	Address common.Address
	HasPQ   bool
}

const (
	signerKeyFile = "signer.key"
	pqSeedFile    = "dilithium3.seed"
	pqSeedSize    = 32
)

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".glyphvault", "keys"), nil
}

func NewStore(directory string) (*Store, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Store{Directory: directory}, nil
}

func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in key name", char)
	}
	return nil
}

func (s *Store) signerKeyPath(name string) string {
	return filepath.Join(s.Directory, name, signerKeyFile)
}

func (s *Store) pqSeedPath(name string) string {
	return filepath.Join(s.Directory, name, pqSeedFile)
}

// ParseKeyHex decodes a secp256k1 private key from hex, with or without a
// 0x prefix.
func ParseKeyHex(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimSpace(keyHex)
	keyHex = strings.TrimPrefix(keyHex, "0x")
	return crypto.HexToECDSA(keyHex)
}

func (s *Store) saveHexToFile(filePath string, raw []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(raw) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

// GenerateSigningKey creates a fresh secp256k1 key under name and returns
// its address and the path it was written to.
func (s *Store) GenerateSigningKey(name string, overwrite bool) (common.Address, string, error) {
	if err := CheckKeyName(name); err != nil {
		return common.Address{}, "", err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, "", err
	}
	path := s.signerKeyPath(name)
	if err := s.saveHexToFile(path, crypto.FromECDSA(key), overwrite); err != nil {
		return common.Address{}, "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey), path, nil
}

// ImportSigningKey stores an existing secp256k1 key under name.
func (s *Store) ImportSigningKey(name, keyHex string, overwrite bool) (common.Address, string, error) {
	if err := CheckKeyName(name); err != nil {
		return common.Address{}, "", err
	}
	key, err := ParseKeyHex(keyHex)
	if err != nil {
		return common.Address{}, "", err
	}
	path := s.signerKeyPath(name)
	if err := s.saveHexToFile(path, crypto.FromECDSA(key), overwrite); err != nil {
		return common.Address{}, "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey), path, nil
}

// LoadSigningKey reads the secp256k1 key stored under name.
func (s *Store) LoadSigningKey(name string) (*ecdsa.PrivateKey, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.signerKeyPath(name))
	if err != nil {
		return nil, err
	}
	return ParseKeyHex(string(data))
}

// Address returns the signing address for name without exposing the key.
func (s *Store) Address(name string) (common.Address, error) {
	key, err := s.LoadSigningKey(name)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// GeneratePQSeed creates a Dilithium3 seed alongside the signing key, so
// the signer can issue post-quantum co-signatures.
func (s *Store) GeneratePQSeed(name string, overwrite bool) (string, error) {
	if err := CheckKeyName(name); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.signerKeyPath(name)); err != nil {
		return "", fmt.Errorf("no signing key named %q: %w", name, err)
	}
	seed := make([]byte, pqSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	path := s.pqSeedPath(name)
	if err := s.saveHexToFile(path, seed, overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// LoadPQKeypair derives the Dilithium3 keypair from the seed stored under
// name. The derivation is deterministic, so the same seed always yields the
// same keypair.
func (s *Store) LoadPQKeypair(name string) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(s.pqSeedPath(name))
	if err != nil {
		return nil, nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, nil, err
	}
	if len(raw) != pqSeedSize {
		return nil, nil, fmt.Errorf("expected seed length of %d bytes, got %d", pqSeedSize, len(raw))
	}
	var seed [pqSeedSize]byte
	copy(seed[:], raw)
	pub, priv := mode3.NewKeyFromSeed(&seed)
	return pub, priv, nil
}

// List returns the named signers in the store, sorted by name. Entries with
// unreadable key files are skipped.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var result []Entry
	for _, name := range names {
		addr, err := s.Address(name)
		if err != nil {
			continue
		}
		_, statErr := os.Stat(s.pqSeedPath(name))
		result = append(result, Entry{Name: name, Address: addr, HasPQ: statErr == nil})
	}
	return result, nil
}
