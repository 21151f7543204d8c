// Package secretstore keeps venue and chat credentials in an encrypted Badger
// database so they need not live in the config file or a plain .env.
package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

var ErrNotOpen = errors.New("secretstore: not opened")

type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path string
	// EncryptionKey must be 16, 24 or 32 bytes. Nil opens the store unencrypted.
	EncryptionKey []byte
	ReadOnly      bool
	// InMemory ignores Path; used by tests.
	InMemory bool
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		// encrypted tables require an index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "secretstore: open")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalizeKey(key string) ([]byte, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil, errors.New("secretstore: key is empty")
	}
	return []byte(k), nil
}

// GetString returns the value and whether the key exists.
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotOpen
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var (
		out   string
		found bool
	)
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "secretstore: get %s", key)
	}
	return out, found, nil
}

func (s *Store) SetString(key, val string) error {
	if s == nil || s.db == nil {
		return ErrNotOpen
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// Keys lists stored keys with the given prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// ParseKey decodes a 32-byte key given as hex (optionally 0x-prefixed) or
// base64. Empty input returns nil.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, errors.Errorf("secretstore: decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("secretstore: key must be hex or base64 of 32 bytes")
	}
	if len(b) != 32 {
		return nil, errors.Errorf("secretstore: decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}
