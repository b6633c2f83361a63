package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

// Bucket names
var (
	MetaBucket  = []byte("meta")  // Store version, timestamps
	UsersBucket = []byte("users") // username -> JSON UserRecord
)

// Meta keys
var (
	MetaVersion = []byte("version")
	MetaCreated = []byte("created")
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrStoreBusy    = errors.New("record store is locked by another process")
)

// RecordStore is the keyed persistence the vault core depends on.
type RecordStore interface {
	Get(username string) (*UserRecord, error)
	Put(username string, record *UserRecord) error
	Exists(username string) (bool, error)
}

// Store provides BBolt-based storage for user records
type Store struct {
	db *bolt.DB
}

// Open opens or creates a record database and ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if errors.Is(err, bolterrors.ErrTimeout) {
		return nil, ErrStoreBusy
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{MetaBucket, UsersBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(MetaBucket)
		if meta.Get(MetaVersion) != nil {
			return nil
		}
		if err := meta.Put(MetaVersion, []byte("1")); err != nil {
			return err
		}
		created, _ := time.Now().MarshalBinary()
		return meta.Put(MetaCreated, created)
	})
}

// Get returns a copy of the record stored for username.
func (s *Store) Get(username string) (*UserRecord, error) {
	var record *UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(UsersBucket).Get([]byte(username))
		if data == nil {
			return ErrUserNotFound
		}
		record = &UserRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Put replaces the whole record for username.
func (s *Store) Put(username string, record *UserRecord) error {
	if username == "" {
		return fmt.Errorf("empty username")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(UsersBucket).Put([]byte(username), data)
	})
}

// Exists reports whether a record is stored for username.
func (s *Store) Exists(username string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(UsersBucket).Get([]byte(username)) != nil
		return nil
	})
	return found, err
}

// Delete removes the record for username.
func (s *Store) Delete(username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(UsersBucket).Delete([]byte(username))
	})
}

// Usernames lists every stored username in key order.
func (s *Store) Usernames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(UsersBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// SaltInUse reports whether any stored record already uses salt.
func (s *Store) SaltInUse(salt []byte) (bool, error) {
	var used bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(UsersBucket).ForEach(func(_, v []byte) error {
			var r UserRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if bytes.Equal(r.Salt, salt) {
				used = true
			}
			return nil
		})
	})
	return used, err
}

// Compact creates a compacted copy of the database, removing unused space.
func (s *Store) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	if renameErr := os.Rename(tmpPath, srcPath); renameErr != nil {
		os.Remove(tmpPath)
		if s.db, err = bolt.Open(srcPath, 0600, nil); err != nil {
			return fmt.Errorf("failed to reopen database: %w", err)
		}
		return fmt.Errorf("failed to replace database: %w", renameErr)
	}

	s.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
