// Package bbolt implements the ports.Journal interface using bbolt (embedded B+ tree).
// Each project gets its own top-level bucket holding one JSON record per applied
// fix, keyed by the bucket's monotonically increasing sequence. Writes are
// transactional; a crash mid-write cannot corrupt previously committed records.
package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corey/slnfix/internal/ports"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Store implements ports.Journal backed by bbolt.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// IsLockTimeout reports whether err comes from NewStore giving up on the
// file lock held by another process.
func IsLockTimeout(err error) bool {
	return errors.Is(err, bolt.ErrTimeout)
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// seqKey encodes a sequence number big-endian so cursor order is insertion order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Record appends rec to the project's history. A missing ID or timestamp is filled in.
func (s *Store) Record(projectID string, rec ports.FixRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal fix record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		proj, err := tx.CreateBucketIfNotExists([]byte(projectID))
		if err != nil {
			return err
		}
		seq, err := proj.NextSequence()
		if err != nil {
			return err
		}
		return proj.Put(seqKey(seq), data)
	})
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
// Returns nil, nil for a project with no history.
func (s *Store) Recent(projectID string, limit int) ([]ports.FixRecord, error) {
	var raw [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		proj := tx.Bucket([]byte(projectID))
		if proj == nil {
			return nil
		}
		c := proj.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(raw) >= limit {
				break
			}
			// Copy bytes out of the transaction (bbolt slices are only valid within tx)
			b := make([]byte, len(v))
			copy(b, v)
			raw = append(raw, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, nil
	}

	recs := make([]ports.FixRecord, 0, len(raw))
	for _, b := range raw {
		var rec ports.FixRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal fix record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count returns the number of records stored for a project.
func (s *Store) Count(projectID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		proj := tx.Bucket([]byte(projectID))
		if proj == nil {
			return nil
		}
		return proj.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// DeleteProject removes all history for a project.
// Idempotent: deleting a nonexistent project is not an error.
func (s *Store) DeleteProject(projectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(projectID)); err == bolt.ErrBucketNotFound {
			return nil // idempotent
		} else {
			return err
		}
	})
}
