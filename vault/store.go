// Package vault persists glyphs as authenticated-encrypted blobs and exposes
// the Vault facade tying factory, store, ledger and chain client together.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"xdao.co/glyphvault/glyph"
	"xdao.co/glyphvault/model"
)

const (
	saltFile   = "vault.salt"
	saltSize   = 16
	kdfRounds  = 600_000
	keySize    = 32
	objectsDir = "objects"
)

// Store is the encrypted at-rest blob store: one ciphertext object per glyph
// id, AES-256-GCM under a PBKDF2-derived key with a per-vault random salt.
//
// Losing the passphrase is unrecoverable data loss. There is no default
// passphrase.
type Store struct {
	root string
	aead cipher.AEAD
}

// NewStore opens (or initializes) the blob store at root. The passphrase is
// mandatory; the salt is created on first use and reused thereafter.
func NewStore(root, passphrase string) (*Store, error) {
	if root == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-001", "store root is required")
	}
	if passphrase == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-002", "vault passphrase is required")
	}
	if err := os.MkdirAll(filepath.Join(root, objectsDir), 0o700); err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-003", "create store root", err)
	}
	salt, err := loadOrCreateSalt(filepath.Join(root, saltFile))
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, kdfRounds, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-004", "initialize cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-005", "initialize aead", err)
	}
	return &Store{root: root, aead: aead}, nil
}

// Put encrypts and durably writes the full glyph record. It is idempotent
// and safe to replay: a crash mid-write never leaves a partial object
// visible, and re-putting an already-stored glyph succeeds.
func (s *Store) Put(g *model.Glyph) error {
	if g == nil || g.ID == "" {
		return model.NewError(model.KindConfiguration, "GV-VAULT-010", "glyph with id is required")
	}
	plain, err := json.Marshal(g)
	if err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-011", "serialize glyph", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-012", "generate nonce", err)
	}
	// The glyph id is bound as AEAD additional data so a blob cannot be
	// replayed under another id.
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(g.ID))

	path := s.pathFor(g.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-013", "create object directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-014", "create temp object", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return model.WrapError(model.KindInternal, "GV-VAULT-015", "write object", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return model.WrapError(model.KindInternal, "GV-VAULT-016", "sync object", err)
	}
	if err := tmp.Close(); err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-017", "close object", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return model.WrapError(model.KindInternal, "GV-VAULT-018", "publish object", err)
	}
	return nil
}

// Get reads, decrypts and deserializes the glyph for id.
//
// An absent blob is NotFound. Any decryption or consistency failure is
// Integrity: the object existed but is corrupted, tampered with, or the
// passphrase is wrong.
func (s *Store) Get(id string) (*model.Glyph, error) {
	sealed, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewError(model.KindNotFound, "GV-VAULT-020", "no blob for glyph id")
		}
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-021", "read object", err)
	}
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, model.NewError(model.KindIntegrity, "GV-VAULT-022", "blob truncated")
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(id))
	if err != nil {
		return nil, model.WrapError(model.KindIntegrity, "GV-VAULT-023", "blob decryption failed", err)
	}

	// UseNumber keeps payload number text intact so DataIntact sees the
	// same bytes the data hash was computed over.
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var g model.Glyph
	if err := dec.Decode(&g); err != nil {
		return nil, model.WrapError(model.KindIntegrity, "GV-VAULT-024", "blob deserialization failed", err)
	}
	if g.ID != id {
		return nil, model.NewError(model.KindIntegrity, "GV-VAULT-025", "blob id mismatch")
	}
	if !glyph.DataIntact(&g) {
		return nil, model.NewError(model.KindIntegrity, "GV-VAULT-026", "payload does not match data hash")
	}
	return &g, nil
}

// Has reports whether a blob exists for id.
func (s *Store) Has(id string) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

func (s *Store) pathFor(id string) string {
	name := strings.TrimPrefix(id, "0x")
	if len(name) < 2 {
		return filepath.Join(s.root, objectsDir, name+".bin")
	}
	return filepath.Join(s.root, objectsDir, name[:2], name+".bin")
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, model.NewError(model.KindIntegrity, "GV-VAULT-006", "salt file corrupted")
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-007", "read salt", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-008", "generate salt", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			// Concurrent initialization: defer to the winner's salt.
			return loadOrCreateSalt(path)
		}
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-009", "write salt", err)
	}
	defer f.Close()
	if _, err := f.Write(salt); err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-009", "write salt", err)
	}
	if err := f.Sync(); err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-009", "write salt", err)
	}
	return salt, nil
}
