// Package store persists the log daemon's state in a bbolt database: the
// last log timestamp seen per machine, so a restarted follow resumes where
// it stopped, and the history of scheduled sandbox runs.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	checkpointsBucket = "log_checkpoints"
	runsBucket        = "execution_history"
)

// Checkpoint is the resume position of one followed machine.
type Checkpoint struct {
	Fleet     string    `json:"fleet"`
	Machine   string    `json:"machine"`
	Timestamp int64     `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRecord is the outcome of one scheduled sandbox execution.
type RunRecord struct {
	ID         uint64    `json:"id"`
	SandboxID  string    `json:"sandbox_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store wraps the bbolt database. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path, creating its directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{checkpointsBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func checkpointKey(fleet, machine string) []byte {
	return []byte(fleet + "/" + machine)
}

// Checkpoint returns the stored position of a machine. ok is false when
// the machine was never checkpointed.
func (s *Store) Checkpoint(fleet, machine string) (cp Checkpoint, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(checkpointsBucket)).Get(checkpointKey(fleet, machine))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &cp)
	})
	return cp, ok, err
}

// SetCheckpoint records ts as the latest timestamp seen for a machine.
// Older timestamps never move a checkpoint backwards.
func (s *Store) SetCheckpoint(fleet, machine string, ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(checkpointsBucket))
		key := checkpointKey(fleet, machine)

		if v := b.Get(key); v != nil {
			var prev Checkpoint
			if err := json.Unmarshal(v, &prev); err == nil && prev.Timestamp > ts {
				return nil
			}
		}

		data, err := json.Marshal(Checkpoint{
			Fleet:     fleet,
			Machine:   machine,
			Timestamp: ts,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// DeleteCheckpoint forgets a machine's position.
func (s *Store) DeleteCheckpoint(fleet, machine string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(checkpointsBucket)).Delete(checkpointKey(fleet, machine))
	})
}

// Checkpoints returns every stored checkpoint ordered by key.
func (s *Store) Checkpoints() ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(checkpointsBucket)).ForEach(func(_, v []byte) error {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				// Skip entries written by an incompatible version
				return nil
			}
			out = append(out, cp)
			return nil
		})
	})
	return out, err
}

// AppendRun stores a run record and assigns its ID.
func (s *Store) AppendRun(r *RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		// Auto-increment ID
		id, _ := b.NextSequence()
		r.ID = id

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// Runs returns up to limit run records, newest first.
func (s *Store) Runs(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(runs) < limit; k, v = c.Prev() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

// TrimRuns deletes the oldest run records so that at most keep remain.
func (s *Store) TrimRuns(keep int) error {
	if keep < 0 {
		return errors.New("keep must not be negative")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}

		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
