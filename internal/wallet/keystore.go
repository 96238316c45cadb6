package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/0xmhha/guestprof/internal/near"
)

// ErrKeyNotFound is returned when no key is stored for an account.
var ErrKeyNotFound = errors.New("key not found")

// KeyStore maps (network, account) pairs to signing keys.
type KeyStore interface {
	GetKey(network, accountID string) (*near.KeyPair, error)
	SetKey(network, accountID string, kp *near.KeyPair) error
	RemoveKey(network, accountID string) error
}

// InMemoryKeyStore keeps keys for the lifetime of the process.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*near.KeyPair
}

// NewInMemoryKeyStore creates an empty in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{keys: make(map[string]*near.KeyPair)}
}

func storeKey(network, accountID string) string {
	return accountID + ":" + network
}

// GetKey implements KeyStore.
func (s *InMemoryKeyStore) GetKey(network, accountID string) (*near.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kp, ok := s.keys[storeKey(network, accountID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrKeyNotFound, accountID, network)
	}
	return kp, nil
}

// SetKey implements KeyStore.
func (s *InMemoryKeyStore) SetKey(network, accountID string, kp *near.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[storeKey(network, accountID)] = kp
	return nil
}

// RemoveKey implements KeyStore.
func (s *InMemoryKeyStore) RemoveKey(network, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, storeKey(network, accountID))
	return nil
}

// credentialsFile is the layout written by near-cli into ~/.near-credentials.
type credentialsFile struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	SecretKey  string `json:"secret_key,omitempty"`
}

// FileKeyStore reads and writes <dir>/<network>/<account>.json credential files.
type FileKeyStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileKeyStore creates a key store rooted at dir.
func NewFileKeyStore(dir string) *FileKeyStore {
	return &FileKeyStore{dir: dir}
}

func (s *FileKeyStore) path(network, accountID string) string {
	return filepath.Join(s.dir, network, accountID+".json")
}

// GetKey implements KeyStore.
func (s *FileKeyStore) GetKey(network, accountID string) (*near.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(network, accountID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s on %s", ErrKeyNotFound, accountID, network)
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials for %s: %w", accountID, err)
	}

	secret := creds.PrivateKey
	if secret == "" {
		secret = creds.SecretKey
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: credentials for %s carry no private key", ErrKeyNotFound, accountID)
	}

	return near.KeyPairFromString(secret)
}

// SetKey implements KeyStore.
func (s *FileKeyStore) SetKey(network, accountID string, kp *near.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(network, accountID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(credentialsFile{
		AccountID:  accountID,
		PublicKey:  kp.PublicKey().String(),
		PrivateKey: kp.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// RemoveKey implements KeyStore.
func (s *FileKeyStore) RemoveKey(network, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(network, accountID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// MergeKeyStore reads from each store in order and writes to the first one.
type MergeKeyStore struct {
	stores []KeyStore
}

// NewMergeKeyStore combines stores; at least one is required.
func NewMergeKeyStore(primary KeyStore, fallbacks ...KeyStore) *MergeKeyStore {
	return &MergeKeyStore{stores: append([]KeyStore{primary}, fallbacks...)}
}

// GetKey implements KeyStore.
func (s *MergeKeyStore) GetKey(network, accountID string) (*near.KeyPair, error) {
	for _, store := range s.stores {
		kp, err := store.GetKey(network, accountID)
		if err == nil {
			return kp, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrKeyNotFound, accountID, network)
}

// SetKey implements KeyStore.
func (s *MergeKeyStore) SetKey(network, accountID string, kp *near.KeyPair) error {
	return s.stores[0].SetKey(network, accountID, kp)
}

// RemoveKey implements KeyStore.
func (s *MergeKeyStore) RemoveKey(network, accountID string) error {
	return s.stores[0].RemoveKey(network, accountID)
}
