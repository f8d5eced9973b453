package storage

import (
	"errors"
	"time"
)

// TableType names one of the three logical partitions of firewall state.
type TableType string

const (
	TableFilter  TableType = "filter"
	TableRule    TableType = "rule"
	TableSession TableType = "session"
)

// Tables lists every valid table type in a fixed order.
var Tables = []TableType{TableFilter, TableRule, TableSession}

// Valid reports whether t is one of filter, rule or session.
func (t TableType) Valid() bool {
	switch t {
	case TableFilter, TableRule, TableSession:
		return true
	}
	return false
}

// LogKey is the log field name for ids of table t. Session ids go under a
// key the redacting log writer masks.
func (t TableType) LogKey() string {
	if t == TableSession {
		return "session_id"
	}
	return "ip"
}

// Envelope and ordering fields written by the firewall engine.
const (
	FieldLogIP     = "log_ip"
	FieldLogData   = "log_data"
	FieldMicroTime = "microtimesamp"
)

// Record is a schema-less row: string keys to scalars, maps or arrays.
type Record map[string]any

// Entry is one enumerated record together with its ordering metadata.
type Entry struct {
	ID      string
	Name    string    // on-disk filename, or bucket key for bolt
	Record  Record
	ModTime time.Time // last write
	Stamp   int64     // microseconds; microtimesamp for sessions, ModTime otherwise
}

var (
	ErrNotFound     = errors.New("storage: record not found")
	ErrInvalidTable = errors.New("storage: invalid table type")
	ErrInvalidID    = errors.New("storage: invalid entry id")
	ErrCorrupt      = errors.New("storage: corrupt record")
)

// Store is the record-store contract used by the firewall engine and admin
// tooling. Read operations never fail: absence, a bad table type and corrupt
// content all come back as an empty result. Lookup is the opt-in variant that
// tells them apart.
type Store interface {
	// Initialize creates the table layout and the bootstrap marker. Idempotent.
	Initialize() error
	// Ready reports whether the bootstrap marker is present.
	Ready() bool

	Exists(t TableType, id string) bool
	Fetch(t TableType, id string) Record
	Lookup(t TableType, id string) (Record, error)
	// FetchAll returns every record of t, oldest activity first.
	FetchAll(t TableType) []Entry
	// Save fully replaces the record at (t, id). It returns false with a nil
	// error for an invalid table or id, and a non-nil error when the
	// underlying write fails.
	Save(t TableType, id string, data Record) (bool, error)
	Delete(t TableType, id string) (bool, error)
	// Rebuild wipes all tables and the marker, then re-initializes. The bool
	// reports whether every table was actually removed.
	Rebuild() (bool, error)

	// Utility
	Count(t TableType) int
	SizeBytes() (int64, error)
	Close() error
}

// envelope wraps caller data in the on-disk convention of t.
func envelope(t TableType, id string, data Record) Record {
	switch t {
	case TableRule:
		out := make(Record, len(data)+1)
		for k, v := range data {
			out[k] = v
		}
		out[FieldLogIP] = id
		return out
	case TableFilter:
		inner := data
		if inner == nil {
			inner = Record{}
		}
		return Record{FieldLogIP: id, FieldLogData: inner}
	default:
		if data == nil {
			return Record{}
		}
		return data
	}
}

// unwrap reverses envelope for Fetch. Only filter records are unwrapped, and
// only when log_data holds a non-empty map; otherwise the envelope itself is
// returned.
func unwrap(t TableType, rec Record) Record {
	if t != TableFilter {
		return rec
	}
	if inner, ok := rec[FieldLogData].(map[string]any); ok && len(inner) > 0 {
		return Record(inner)
	}
	return rec
}

// sessionStamp extracts the microtimesamp field, accepting JSON numbers and
// numeric strings. Missing or malformed stamps sort first.
func sessionStamp(rec Record) int64 {
	switch v := rec[FieldMicroTime].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		return parseStamp(v)
	}
	return 0
}
