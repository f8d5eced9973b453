package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/developingchet/shieldon-filestore/internal/storage"
)

type mockRecord struct {
	data    storage.Record
	modTime time.Time
}

// MockStore implements storage.Store with in-memory maps for testing.
// Records are kept verbatim, without the on-disk envelope conventions.
// All methods are safe for concurrent use.
type MockStore struct {
	mu     sync.Mutex
	tables map[storage.TableType]map[string]mockRecord
	ready  bool

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64
	// Deleted records every successful Delete as "table/id".
	Deleted []string
	// Scanned records the table of every FetchAll call.
	Scanned []storage.TableType
}

// NewMockStore returns an initialized, empty MockStore.
func NewMockStore() *MockStore {
	m := &MockStore{
		tables: make(map[storage.TableType]map[string]mockRecord),
		errors: make(map[string]error),
		Size:   1024,
	}
	m.reset()
	return m
}

func (m *MockStore) reset() {
	for _, t := range storage.Tables {
		m.tables[t] = make(map[string]mockRecord)
	}
	m.ready = true
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// Put stores rec with an explicit modification time. Tests use it to age
// records without sleeping.
func (m *MockStore) Put(t storage.TableType, id string, rec storage.Record, mod time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tbl, ok := m.tables[t]; ok {
		tbl[id] = mockRecord{data: copyRecord(rec), modTime: mod}
	}
}

// --- Bootstrap --------------------------------------------------------------

func (m *MockStore) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Initialize"); err != nil {
		return err
	}
	m.ready = true
	return nil
}

func (m *MockStore) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// --- Record operations ------------------------------------------------------

func (m *MockStore) Exists(t storage.TableType, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[t][id]
	return ok
}

func (m *MockStore) Fetch(t storage.TableType, id string) storage.Record {
	rec, _ := m.Lookup(t, id)
	return rec
}

func (m *MockStore) Lookup(t storage.TableType, id string) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Lookup"); err != nil {
		return storage.Record{}, err
	}
	if !t.Valid() {
		return storage.Record{}, storage.ErrInvalidTable
	}
	if id == "" {
		return storage.Record{}, storage.ErrInvalidID
	}
	r, ok := m.tables[t][id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return copyRecord(r.data), nil
}

func (m *MockStore) FetchAll(t storage.TableType) []storage.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scanned = append(m.Scanned, t)
	if m.popError("FetchAll") != nil {
		return []storage.Entry{}
	}
	entries := make([]storage.Entry, 0, len(m.tables[t]))
	for id, r := range m.tables[t] {
		stamp := r.modTime.UnixMicro()
		if t == storage.TableSession {
			stamp = microTime(r.data)
		}
		entries = append(entries, storage.Entry{
			ID:      id,
			Name:    id,
			Record:  copyRecord(r.data),
			ModTime: r.modTime,
			Stamp:   stamp,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Stamp != entries[j].Stamp {
			return entries[i].Stamp < entries[j].Stamp
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func (m *MockStore) Save(t storage.TableType, id string, data storage.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Save"); err != nil {
		return false, err
	}
	tbl, ok := m.tables[t]
	if !ok || id == "" {
		return false, nil
	}
	tbl[id] = mockRecord{data: copyRecord(data), modTime: time.Now()}
	return true, nil
}

func (m *MockStore) Delete(t storage.TableType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Delete"); err != nil {
		return false, err
	}
	tbl, ok := m.tables[t]
	if !ok {
		return false, nil
	}
	if _, ok := tbl[id]; !ok {
		return false, nil
	}
	delete(tbl, id)
	m.Deleted = append(m.Deleted, string(t)+"/"+id)
	return true, nil
}

func (m *MockStore) Rebuild() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Rebuild"); err != nil {
		return false, err
	}
	m.reset()
	return true, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) Count(t storage.TableType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[t])
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}

func copyRecord(rec storage.Record) storage.Record {
	out := make(storage.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func microTime(rec storage.Record) int64 {
	switch v := rec[storage.FieldMicroTime].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
