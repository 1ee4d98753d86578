// Package bbolt provides a BBolt-backed storage.Store, giving
// credentials durability across process restarts. With a passphrase
// configured, values are sealed at rest with a key derived via
// Argon2id.
package bbolt

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/webseal/internal/util"
	"github.com/jmcleod/webseal/storage"
	"go.etcd.io/bbolt"
)

var (
	valuesBucket = []byte("values")
	metaBucket   = []byte("meta")
	saltKey      = []byte("seal-salt")
)

const sealSaltLen = 16

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db       *bbolt.DB
	sealKey  []byte
	watchers storage.WatchSet
}

var _ storage.Store = (*Store)(nil)

type options struct {
	passphrase string
	kdfParams  util.Argon2idParams
}

// Option customizes a Store.
type Option func(*options)

// WithPassphrase enables at-rest sealing: values are encrypted with a
// key derived from the passphrase via Argon2id. The salt is persisted
// in the database, so the same passphrase must be supplied on reopen.
func WithPassphrase(passphrase string) Option {
	return func(o *options) {
		o.passphrase = passphrase
	}
}

// WithKDFParams overrides the Argon2id parameters used with WithPassphrase.
func WithKDFParams(params util.Argon2idParams) Option {
	return func(o *options) {
		o.kdfParams = params
	}
}

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB, opts ...Option) (*Store, error) {
	o := options{kdfParams: util.DefaultArgon2idParams()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{db: db}
	if err := s.init(o); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns
// a new Store.
func NewStoreFromFile(path string, boltOpts *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db, opts...)
}

func (s *Store) init(o options) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valuesBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if o.passphrase == "" {
			return nil
		}

		salt := meta.Get(saltKey)
		if salt == nil {
			fresh, err := util.RandomBytes(sealSaltLen)
			if err != nil {
				return err
			}
			if err := meta.Put(saltKey, fresh); err != nil {
				return err
			}
			salt = fresh
		}

		sealKey, err := util.DeriveArgon2idKey(o.passphrase, salt, o.kdfParams)
		if err != nil {
			return fmt.Errorf("deriving seal key: %w", err)
		}
		s.sealKey = sealKey
		return nil
	})
}

// Close closes the underlying BBolt database and wipes the seal key.
func (s *Store) Close() error {
	util.WipeBytes(s.sealKey)
	return s.db.Close()
}

func (s *Store) encode(key, value string) ([]byte, error) {
	if s.sealKey == nil {
		return []byte(value), nil
	}
	env, err := storage.SealValue(s.sealKey, key, []byte(value))
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (s *Store) decode(key string, data []byte) (string, error) {
	if s.sealKey == nil {
		return string(data), nil
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	plain, err := storage.OpenValue(s.sealKey, key, &env)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(valuesBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		var err error
		value, err = s.decode(key, data)
		return err
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Set(key, value string) error {
	data, err := s.encode(key, value)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(key), data)
	})
	if err != nil {
		return err
	}
	s.watchers.Notify(key, value, true)
	return nil
}

func (s *Store) Delete(key string) error {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(valuesBucket)
		existed = b.Get([]byte(key)) != nil
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	if existed {
		s.watchers.Notify(key, "", false)
	}
	return nil
}

func (s *Store) Watch(key string, fn func(value string, ok bool)) storage.CancelFunc {
	return s.watchers.Add(key, fn)
}
