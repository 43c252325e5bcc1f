package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/pc-switch/internal/logic"
)

var (
	bucketNode   = []byte("node")
	bucketPulses = []byte("pulses")
	keyBoot      = []byte("boot")
	keyFault     = []byte("fault")
)

// BoltStore keeps node state in a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database, creating its directory.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNode, bucketPulses} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// RecordBoot increments the boot counter and returns the new record.
func (s *BoltStore) RecordBoot(session string, at time.Time) (Boot, error) {
	var boot Boot
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNode)
		if data := b.Get(keyBoot); data != nil {
			if err := json.Unmarshal(data, &boot); err != nil {
				return err
			}
		}
		boot.Count++
		boot.Previous = boot.Session
		boot.Session = session
		boot.At = at
		data, err := json.Marshal(boot)
		if err != nil {
			return err
		}
		return b.Put(keyBoot, data)
	})
	return boot, err
}

// RecordFault stores the fault that is about to restart the node.
func (s *BoltStore) RecordFault(f Fault) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNode).Put(keyFault, data)
	})
}

// LastFault returns the most recent fault, or ErrNotFound.
func (s *BoltStore) LastFault() (Fault, error) {
	var f Fault
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNode).Get(keyFault)
		if data == nil {
			return fmt.Errorf("last fault: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &f)
	})
	return f, err
}

// AddPulse counts one pulse on channel.
func (s *BoltStore) AddPulse(channel string, kind logic.CommandKind) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPulses)
		var t Totals
		if data := b.Get([]byte(channel)); data != nil {
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
		}
		switch kind {
		case logic.CommandPowerOn:
			t.PowerOn++
		case logic.CommandForceShutdown:
			t.ForceShutdown++
		default:
			return fmt.Errorf("add pulse: not a pulse: %s", kind)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(channel), data)
	})
}

// PulseTotals returns the totals of every channel that has pulsed.
func (s *BoltStore) PulseTotals() (map[string]Totals, error) {
	out := make(map[string]Totals)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPulses).ForEach(func(k, v []byte) error {
			var t Totals
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out[string(k)] = t
			return nil
		})
	})
	return out, err
}

// PreviousFault returns the fault that ended the session before boot, or
// ErrNotFound when that session stopped cleanly. Faults recorded by older
// sessions are not reported again.
func (s *BoltStore) PreviousFault(boot Boot) (Fault, error) {
	f, err := s.LastFault()
	if err != nil {
		return Fault{}, err
	}
	if boot.Previous == "" || f.Session != boot.Previous {
		return Fault{}, fmt.Errorf("previous fault: %w", ErrNotFound)
	}
	return f, nil
}

// Close flushes and closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
