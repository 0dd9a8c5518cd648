package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samvad-hq/sentinel-go/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	verdictBucket    = "verdicts"
	expiryValueBytes = 8
)

// boltStore implements a Store backed by BoltDB. Values are an 8-byte
// big-endian expiry (unix seconds) followed by the JSON verdict.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	verdictTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(verdictBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		verdictTTL:      opts.VerdictTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             time.Now,
	}
	store.lastCleanup.Store(store.now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// LookupVerdict returns the cached verdict for key if it has not expired.
// Expired entries are deleted on read.
func (b *boltStore) LookupVerdict(key string) (domain.Verdict, bool, error) {
	if b == nil || b.db == nil {
		return domain.Verdict{}, false, nil
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return domain.Verdict{}, false, err
	}

	var (
		verdict domain.Verdict
		found   bool
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(verdictBucket))
		if bucket == nil {
			return fmt.Errorf("verdict bucket missing")
		}

		k := []byte(key)
		value := bucket.Get(k)
		if value == nil {
			return nil
		}

		expiry, ok := decodeExpiry(value)
		if !ok || !expiry.After(now) {
			return bucket.Delete(k)
		}
		if err := json.Unmarshal(value[expiryValueBytes:], &verdict); err != nil {
			return bucket.Delete(k)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return domain.Verdict{}, false, err
	}
	return verdict, true, nil
}

// SaveVerdict stores v under key with the configured TTL.
func (b *boltStore) SaveVerdict(key string, v domain.Verdict) error {
	if b == nil || b.db == nil {
		return nil
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(verdictBucket))
		if bucket == nil {
			return fmt.Errorf("verdict bucket missing")
		}
		buf := make([]byte, expiryValueBytes, expiryValueBytes+len(payload))
		binary.BigEndian.PutUint64(buf, uint64(now.Add(b.verdictTTL).Unix()))
		buf = append(buf, payload...)
		return bucket.Put([]byte(key), buf)
	})
}

// maybeCleanupExpired removes expired verdicts on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(verdictBucket))
		if bucket == nil {
			return fmt.Errorf("verdict bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// decodeExpiry decodes the expiry prefix from the stored byte slice.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) < expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:expiryValueBytes]))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
