package guestcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes of the crash store.
const (
	compatPrefix = "compat/"
	crashPrefix  = "crash/"
)

// CompatRecord is the stored compatibility verdict of one creator.
type CompatRecord struct {
	Creator uint32       `json:"creator"`
	Status  CompatStatus `json:"status"`
	Code    uint32       `json:"code"`
	Updated time.Time    `json:"updated"`
}

// CrashRecord is one crash diagnostic.
type CrashRecord struct {
	App         string    `json:"app"`
	Creator     uint32    `json:"creator"`
	Fingerprint string    `json:"fingerprint"`
	Code        uint32    `json:"code"`
	Message     string    `json:"message"`
	Time        time.Time `json:"time"`
}

// CrashStore keeps compatibility tags and crash diagnostics in a pebble
// database keyed by application creator.
type CrashStore struct {
	db  *pebble.DB
	now func() time.Time
	seq atomic.Uint64
}

// OpenCrashStore opens or creates the store in dir. A nil fs uses the
// operating system's filesystem.
func OpenCrashStore(dir string, fs vfs.FS) (*CrashStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open crash store %s: %w", dir, err)
	}
	return &CrashStore{db: db, now: time.Now}, nil
}

func (c *CrashStore) Close() error {
	return c.db.Close()
}

func compatKey(creator uint32) []byte {
	return fmt.Appendf(nil, "%s%08x", compatPrefix, creator)
}

func crashKeyPrefix(creator uint32) []byte {
	return fmt.Appendf(nil, "%s%08x/", crashPrefix, creator)
}

// SetCompat records the compatibility verdict for creator.
func (c *CrashStore) SetCompat(creator uint32, status CompatStatus, code uint32) error {
	rec := CompatRecord{Creator: creator, Status: status, Code: code, Updated: c.now().UTC()}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Set(compatKey(creator), value, pebble.Sync)
}

// Compat returns the stored verdict for creator.
func (c *CrashStore) Compat(creator uint32) (CompatRecord, bool, error) {
	value, closer, err := c.db.Get(compatKey(creator))
	if errors.Is(err, pebble.ErrNotFound) {
		return CompatRecord{}, false, nil
	}
	if err != nil {
		return CompatRecord{}, false, err
	}
	defer closer.Close()

	var rec CompatRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return CompatRecord{}, false, fmt.Errorf("compat record %s: %w", FourCC(creator), err)
	}
	return rec, true, nil
}

// CrashLog appends a crash diagnostic for app.
func (c *CrashStore) CrashLog(app AppIdentity, code uint32, msg string) error {
	rec := CrashRecord{
		App:         app.Name,
		Creator:     app.Creator,
		Fingerprint: app.FingerprintHex(),
		Code:        code,
		Message:     msg,
		Time:        c.now().UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Zero padded fields keep a creator's crashes in time order.
	key := fmt.Appendf(crashKeyPrefix(app.Creator), "%020d-%08d", rec.Time.UnixNano(), c.seq.Add(1))
	return c.db.Set(key, value, pebble.Sync)
}

// Crashes lists the crash records of creator, oldest first. Creator 0
// lists every record.
func (c *CrashStore) Crashes(creator uint32) ([]CrashRecord, error) {
	lower := []byte(crashPrefix)
	if creator != 0 {
		lower = crashKeyPrefix(creator)
	}
	upper := append([]byte(nil), lower...)
	upper[len(upper)-1]++

	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []CrashRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec CrashRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("crash record %q: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
