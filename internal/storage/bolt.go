// Package storage — bolt.go
//
// BoltDB-backed persistent storage for the PIB daemon.
//
// Schema (BoltDB bucket layout):
//
//	/config
//	    key:   "profiler"
//	    value: JSON-encoded config.ProfilerConfig (latest snapshot)
//
//	/profiles
//	    key:   RFC3339Nano start time + "_" + profile id  [sortable]
//	    value: JSON-encoded ProfileEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// The config bucket replaces the flight unit's EEPROM: every telecommand
// that writes a configuration value triggers a snapshot, and on startup the
// snapshot overrides the file defaults so a reboot resumes with the last
// uplinked values.
//
// Consistency model:
//   - Single-process, single-writer.
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Failure modes:
//   - File corruption: bbolt detects on Open() and the daemon refuses to
//     start (the config falls back to file defaults only if the operator
//     deletes the database).
//   - Disk full: Update() returns an error; the daemon logs it and keeps
//     flying on in-memory state.

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rachuts/pibd/internal/config"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// bucketConfig holds the latest instrument configuration snapshot.
	bucketConfig = "config"

	// bucketProfiles is the append-only profile ledger.
	bucketProfiles = "profiles"

	// bucketMeta holds schema metadata.
	bucketMeta = "meta"

	// keyProfiler is the config bucket key for the profiler snapshot.
	keyProfiler = "profiler"
)

// ProfileEntry is one profile ledger record, written at profile start and
// updated at completion.
type ProfileEntry struct {
	// ProfileID is the persisted monotonically increasing profile counter.
	ProfileID uint16 `json:"profile_id"`

	// StartedAt is the wall-clock profile start.
	StartedAt time.Time `json:"started_at"`

	// Trigger records what started the profile: "sza", "time", or "manual".
	Trigger string `json:"trigger"`

	// Commanded geometry (revolutions). Velocities are not recorded.
	DeployLength  float32 `json:"deploy_length"`
	RetractLength float32 `json:"retract_length"`
	DockLength    float32 `json:"dock_length"`

	// Completed is set when the profile reached low power nominally.
	Completed bool `json:"completed"`

	// RedockCount is the number of redock attempts consumed.
	RedockCount uint8 `json:"redock_count"`
}

// DB wraps a BoltDB instance with typed accessors for PIB data.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketConfig, bucketProfiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, daemon requires %q",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Config snapshot operations ───────────────────────────────────────────────

// SaveProfilerConfig snapshots the instrument configuration.
func (d *DB) SaveProfilerConfig(p *config.ProfilerConfig) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("SaveProfilerConfig marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketConfig)).Put([]byte(keyProfiler), data)
	})
}

// LoadProfilerConfig returns the stored snapshot, or (nil, nil) when none
// has been written yet.
func (d *DB) LoadProfilerConfig() (*config.ProfilerConfig, error) {
	var p config.ProfilerConfig
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketConfig)).Get([]byte(keyProfiler))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, fmt.Errorf("LoadProfilerConfig: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// ─── Profile ledger operations ────────────────────────────────────────────────

// profileKey builds the sortable ledger key for an entry.
func profileKey(e ProfileEntry) []byte {
	return []byte(fmt.Sprintf("%s_%05d", e.StartedAt.UTC().Format(time.RFC3339Nano), e.ProfileID))
}

// AppendProfile writes (or rewrites) a profile ledger entry.
func (d *DB) AppendProfile(e ProfileEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("AppendProfile marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketProfiles)).Put(profileKey(e), data)
	})
}

// ProfileCount returns the number of ledger entries.
func (d *DB) ProfileCount() (int, error) {
	n := 0
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketProfiles)).Stats().KeyN
		return nil
	})
	return n, err
}

// RecentProfiles returns up to limit ledger entries, newest first.
func (d *DB) RecentProfiles(limit int) ([]ProfileEntry, error) {
	var out []ProfileEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketProfiles)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e ProfileEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode ledger entry %q: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("RecentProfiles: %w", err)
	}
	return out, nil
}
