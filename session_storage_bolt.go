package braceratchet

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	sessionsBucket = "sessions"
	metadataBucket = "metadata"
	versionKey     = "version"

	boltStorageVersion = 0
)

// BoltSessionStorage is a session storage persisted in a BoltDB file.
type BoltSessionStorage struct {
	db   *bolt.DB
	opts []Option
}

// NewBoltSessionStorage creates (or loads) a session store with the given
// file name f. opts are applied to every loaded key manager.
func NewBoltSessionStorage(f string, opts ...Option) (*BoltSessionStorage, error) {
	db, err := bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	s := &BoltSessionStorage{db: db, opts: opts}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exists, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(sessionsBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != boltStorageVersion {
				return fmt.Errorf("sessions: incompatible version: %x", b)
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{boltStorageVersion})
	}); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltSessionStorage) Save(id []byte, km *KeyManager) error {
	if len(id) == 0 {
		return fmt.Errorf("sessions: empty session id")
	}
	blob, err := km.MarshalBinary()
	if err != nil {
		return err
	}
	defer Wipe(blob)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put(id, blob)
	})
}

func (s *BoltSessionStorage) Load(id []byte) (*KeyManager, error) {
	var blob []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		// The value is only valid for the life of the transaction.
		if v := tx.Bucket([]byte(sessionsBucket)).Get(id); v != nil {
			blob = append([]byte{}, v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrSessionNotFound
	}
	defer Wipe(blob)

	return Restore(blob, s.opts...)
}

func (s *BoltSessionStorage) Delete(id []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Delete(id)
	})
}

// Close closes the underlying database.
func (s *BoltSessionStorage) Close() error {
	return s.db.Close()
}
