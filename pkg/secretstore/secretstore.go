package secretstore

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store keeps follower API tokens encrypted at rest (Badger value log +
// key registry). Tokens never touch the relational store or the logs.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens the DB unencrypted (not recommended)
	ReadOnly      bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func tokenKey(followerID string) []byte {
	return []byte("follower/" + followerID + "/token")
}

// SetToken stores or replaces the follower's venue API token.
func (s *Store) SetToken(followerID, token string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	if strings.TrimSpace(followerID) == "" {
		return errors.New("secretstore: follower id is empty")
	}
	if token == "" {
		return errors.New("secretstore: token is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey(followerID), []byte(token))
	})
}

// Token returns the follower's venue API token, reporting whether one
// is stored.
func (s *Store) Token(followerID string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("secretstore: not opened")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(followerID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

// HasToken reports whether a token is stored for the follower.
func (s *Store) HasToken(followerID string) (bool, error) {
	_, ok, err := s.Token(followerID)
	return ok, err
}

// DeleteToken removes the follower's token. Deleting a missing token is
// not an error.
func (s *Store) DeleteToken(followerID string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey(followerID))
	})
}
