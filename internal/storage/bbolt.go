package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	boltFileName = "shieldon.db"
	bucketMeta   = "meta"
)

// boltValue is the stored form of one record. Body holds the same JSON the
// file driver writes, so both drivers share record semantics.
type boltValue struct {
	ModifiedAt int64  `msgpack:"m"` // Unix nanoseconds
	Body       []byte `msgpack:"b"`
}

type bboltStore struct {
	db      *bolt.DB
	channel string
	log     zerolog.Logger
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/shieldon.db
// with one bucket per table of the given channel. Call Initialize before
// first use.
func NewBboltStore(dataDir, channel string, log zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(dataDir, dirPerms); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, boltFileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	return &bboltStore{
		db:      db,
		channel: channel,
		log:     log.With().Str("driver", "bolt").Logger(),
	}, nil
}

func (s *bboltStore) bucket(name string) []byte {
	if s.channel == "" {
		return []byte(name)
	}
	return []byte(s.channel + "_" + name)
}

// ---- Bootstrap -------------------------------------------------------------

func (s *bboltStore) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, t := range Tables {
			if _, err := tx.CreateBucketIfNotExists(s.bucket(string(t))); err != nil {
				return fmt.Errorf("create bucket %s: %w", t, err)
			}
		}
		meta, err := tx.CreateBucketIfNotExists(s.bucket(bucketMeta))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketMeta, err)
		}
		return meta.Put([]byte(markerName), []byte(" "))
	})
}

func (s *bboltStore) Ready() bool {
	var ready bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket(bucketMeta)); b != nil {
			ready = b.Get([]byte(markerName)) != nil
		}
		return nil
	})
	return ready
}

// ---- Records ---------------------------------------------------------------

func (s *bboltStore) get(t TableType, id string) (boltValue, bool, error) {
	var val boltValue
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket(string(t)))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(raw, &val)
	})
	return val, found, err
}

func (s *bboltStore) Exists(t TableType, id string) bool {
	if !t.Valid() || id == "" {
		return false
	}
	var exists bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket(string(t))); b != nil {
			exists = b.Get([]byte(id)) != nil
		}
		return nil
	})
	return exists
}

func (s *bboltStore) Fetch(t TableType, id string) Record {
	rec, _ := s.Lookup(t, id)
	return rec
}

func (s *bboltStore) Lookup(t TableType, id string) (Record, error) {
	start := time.Now()
	if !t.Valid() {
		observe("fetch", t, "invalid", start)
		return Record{}, ErrInvalidTable
	}
	if id == "" {
		observe("fetch", t, "invalid", start)
		return Record{}, ErrInvalidID
	}
	val, found, err := s.get(t, id)
	if err != nil {
		s.log.Debug().Err(err).Str("table", string(t)).Msg("undecodable bolt value")
		observe("fetch", t, "corrupt", start)
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !found {
		observe("fetch", t, "miss", start)
		return Record{}, ErrNotFound
	}
	rec, err := decode(val.Body)
	if err != nil {
		observe("fetch", t, "corrupt", start)
		return Record{}, err
	}
	observe("fetch", t, "hit", start)
	return unwrap(t, rec), nil
}

func (s *bboltStore) FetchAll(t TableType) []Entry {
	start := time.Now()
	entries := []Entry{}
	if !t.Valid() {
		observe("fetch_all", t, "invalid", start)
		return entries
	}
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket(string(t)))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var val boltValue
			rec := Record{}
			if err := msgpack.Unmarshal(v, &val); err == nil {
				rec = Decode(val.Body)
			}
			mod := time.Unix(0, val.ModifiedAt)
			entries = append(entries, Entry{
				ID:      string(k),
				Name:    string(k),
				Record:  rec,
				ModTime: mod,
				Stamp:   stampFor(t, rec, mod),
			})
			return nil
		})
	})
	sortEntries(entries)
	observe("fetch_all", t, "ok", start)
	return entries
}

func (s *bboltStore) Save(t TableType, id string, data Record) (bool, error) {
	start := time.Now()
	if !t.Valid() || id == "" {
		observe("save", t, "invalid", start)
		return false, nil
	}
	body, err := Encode(envelope(t, id, data))
	if err != nil {
		observe("save", t, "error", start)
		return false, err
	}
	raw, err := msgpack.Marshal(boltValue{ModifiedAt: time.Now().UnixNano(), Body: body})
	if err != nil {
		observe("save", t, "error", start)
		return false, fmt.Errorf("marshal bolt value: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket(string(t)))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", s.bucket(string(t)), os.ErrNotExist)
		}
		return b.Put([]byte(id), raw)
	})
	if err != nil {
		observe("save", t, "error", start)
		return false, fmt.Errorf("save %s/%s: %w", t, id, err)
	}
	observe("save", t, "ok", start)
	return len(body) > 0, nil
}

func (s *bboltStore) Delete(t TableType, id string) (bool, error) {
	start := time.Now()
	if !t.Valid() || id == "" {
		observe("delete", t, "invalid", start)
		return false, nil
	}
	var deleted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket(string(t)))
		if b == nil || b.Get([]byte(id)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(id))
	})
	if err != nil {
		observe("delete", t, "error", start)
		return false, fmt.Errorf("delete %s/%s: %w", t, id, err)
	}
	if !deleted {
		observe("delete", t, "miss", start)
		return false, nil
	}
	observe("delete", t, "ok", start)
	return true, nil
}

// ---- Rebuild ---------------------------------------------------------------

func (s *bboltStore) Rebuild() (bool, error) {
	start := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, t := range Tables {
			if err := tx.DeleteBucket(s.bucket(string(t))); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				s.log.Warn().Err(err).Str("table", string(t)).Msg("rebuild: could not drop bucket")
			}
		}
		if meta := tx.Bucket(s.bucket(bucketMeta)); meta != nil {
			return meta.Delete([]byte(markerName))
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("rebuild: wipe transaction failed")
	}

	wiped := true
	_ = s.db.View(func(tx *bolt.Tx) error {
		for _, t := range Tables {
			if tx.Bucket(s.bucket(string(t))) != nil {
				wiped = false
			}
		}
		return nil
	})

	initErr := s.Initialize()
	result := "ok"
	if !wiped {
		result = "partial"
	}
	if initErr != nil {
		result = "error"
	}
	observeRebuild(result, start)
	s.log.Info().Bool("wiped", wiped).Msg("store rebuilt")
	return wiped, initErr
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) Count(t TableType) int {
	if !t.Valid() {
		return 0
	}
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket(string(t))); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
