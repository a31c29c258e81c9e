// Package ddcstate persists opaque per-display state across process
// runs: each display's learned DSA multiplier, its detected dialect
// signal, its per-display retry statistics, and its last-read
// capabilities string, in a small embedded bbolt database opened
// once with JSON-encoded bucket values and View/Update transactions.
package ddcstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	bolt "go.etcd.io/bbolt"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/dialect"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
)

const (
	bucketDisplays     = "displays"
	bucketDSAStats     = "dsa_stats"
	bucketCapabilities = "capabilities"
)

// DisplayRecord is the per-display record kept in bucketDisplays: the
// learned sleep multiplier plus enough of dialect.Flags to skip a
// rediscovery of the unsupported-feature signal on the next run.
type DisplayRecord struct {
	Multiplier                 float64               `json:"multiplier"`
	Signal                     dialect.UnsupportedSignal `json:"signal"`
	DoesNotIndicateUnsupported bool                  `json:"does_not_indicate_unsupported"`
}

// ClassCounters is one retry.Class's slice of StatsRecord, mirroring
// stats.ClassStats but flattened to plain fields for JSON encoding.
type ClassCounters struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

// StatsRecord is the per-display record kept in bucketDSAStats: one
// ClassCounters per retry.Class, indexed the same way stats.Registry
// indexes its classes array.
type StatsRecord struct {
	Classes [4]ClassCounters `json:"classes"`
}

// DefaultPath returns the state database's location:
// $XDG_STATE_HOME/ddcctl/state.db.
func DefaultPath() string {
	return filepath.Join(xdg.StateHome, "ddcctl", "state.db")
}

// Store wraps the bbolt database backing persisted state. The zero
// value is not usable; construct with Open.
type Store struct {
	bdb *bolt.DB

	disableDisplays     bool
	disableCapabilities bool
}

// Options configures Open.
type Options struct {
	// Path overrides DefaultPath, mainly for tests.
	Path string
	// DisableDisplaysCache makes every displays/dsa_stats read and
	// write a no-op for the Store's lifetime (--disable-displays-cache).
	DisableDisplaysCache bool
	// DisableCapabilitiesCache does the same for the capabilities
	// bucket (--disable-capabilities-cache).
	DisableCapabilitiesCache bool
}

// Open opens (creating if necessary) the state database and ensures
// its three buckets exist.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ddcstate: create state dir: %w", err)
	}

	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("ddcstate: open bolt database: %w", err)
	}

	s := &Store{
		bdb:                 bdb,
		disableDisplays:     opts.DisableDisplaysCache,
		disableCapabilities: opts.DisableCapabilitiesCache,
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketDisplays, bucketDSAStats, bucketCapabilities} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("ddcstate: initialize buckets: %w", err)
	}

	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.bdb.Close(); err != nil {
		return fmt.Errorf("ddcstate: close bolt database: %w", err)
	}
	return nil
}

// SaveDisplay persists identity's learned multiplier and dialect
// signal. A no-op when the displays cache is disabled.
func (s *Store) SaveDisplay(identity string, m *dsa.Multiplier, flags *dialect.Flags) error {
	if s.disableDisplays {
		return nil
	}
	rec := DisplayRecord{
		Multiplier:                 m.Value(),
		Signal:                     flags.Signal,
		DoesNotIndicateUnsupported: flags.DoesNotIndicateUnsupported,
	}
	return s.putJSON(bucketDisplays, identity, rec)
}

// LoadDisplay retrieves a previously saved DisplayRecord. ok is false
// when the displays cache is disabled or no record exists yet.
func (s *Store) LoadDisplay(identity string) (rec DisplayRecord, ok bool, err error) {
	if s.disableDisplays {
		return DisplayRecord{}, false, nil
	}
	ok, err = s.getJSON(bucketDisplays, identity, &rec)
	return rec, ok, err
}

// SaveStats persists identity's per-class retry counters. A no-op
// when the displays cache is disabled — the per-display stats cache
// shares the --disable-displays-cache toggle with the multiplier/
// dialect record, since both describe the same display's learned
// behavior.
func (s *Store) SaveStats(identity string, reg *StatsRegistry) error {
	if s.disableDisplays {
		return nil
	}
	return s.putJSON(bucketDSAStats, identity, reg.toRecord())
}

// LoadStats retrieves identity's previously saved counters.
func (s *Store) LoadStats(identity string) (rec StatsRecord, ok bool, err error) {
	if s.disableDisplays {
		return StatsRecord{}, false, nil
	}
	ok, err = s.getJSON(bucketDSAStats, identity, &rec)
	return rec, ok, err
}

// SaveCapabilities persists identity's raw capabilities string. A
// no-op when the capabilities cache is disabled.
func (s *Store) SaveCapabilities(identity string, raw string) error {
	if s.disableCapabilities {
		return nil
	}
	return s.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCapabilities)).Put([]byte(identity), []byte(raw))
	})
}

// LoadCapabilities retrieves identity's previously saved capabilities
// string. ok is false when the capabilities cache is disabled or
// nothing has been saved yet.
func (s *Store) LoadCapabilities(identity string) (raw string, ok bool, err error) {
	if s.disableCapabilities {
		return "", false, nil
	}
	var v []byte
	err = s.bdb.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCapabilities)).Get([]byte(identity))
		if b != nil {
			v = append([]byte(nil), b...)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("ddcstate: load capabilities: %w", err)
	}
	return string(v), v != nil, nil
}

func (s *Store) putJSON(bucket, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ddcstate: marshal %s/%s: %w", bucket, key, err)
	}
	return s.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), buf)
	})
}

func (s *Store) getJSON(bucket, key string, out any) (bool, error) {
	var buf []byte
	err := s.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v != nil {
			buf = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ddcstate: load %s/%s: %w", bucket, key, err)
	}
	if buf == nil {
		return false, nil
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return false, fmt.Errorf("ddcstate: unmarshal %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// StatsRegistry is the narrow view of stats.Registry that ddcstate
// needs in order to snapshot and restore per-display counters,
// without internal/ddcstate depending on internal/ddccore/stats's
// sync.Map-based function-timing half (which isn't per-display and
// isn't persisted).
type StatsRegistry struct {
	Classes [4]ClassSnapshot
}

// ClassSnapshot is the subset of stats.Snapshot ddcstate persists.
type ClassSnapshot struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
}

// NewStatsRegistry builds a StatsRegistry from four live class
// snapshots, in retry.Class order.
func NewStatsRegistry(snapshots [4]ClassSnapshot) *StatsRegistry {
	return &StatsRegistry{Classes: snapshots}
}

func (r *StatsRegistry) toRecord() StatsRecord {
	var rec StatsRecord
	for c := range r.Classes {
		rec.Classes[c] = ClassCounters{
			Attempts:  r.Classes[c].Attempts,
			Successes: r.Classes[c].Successes,
			Failures:  r.Classes[c].Failures,
		}
	}
	return rec
}

// Restore applies a previously saved StatsRecord onto four live
// class counters via addFunc, called once per retry.Class with that
// class's saved (attempts, successes, failures) — the caller decides
// how to fold them into its own stats.Registry.
func (rec StatsRecord) Restore(addFunc func(class retry.Class, attempts, successes, failures uint64)) {
	for c := 0; c < len(rec.Classes); c++ {
		cc := rec.Classes[c]
		addFunc(retry.Class(c), cc.Attempts, cc.Successes, cc.Failures)
	}
}
