package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes rec as a JSON object. A nil record encodes as {}.
func Encode(rec Record) ([]byte, error) {
	if rec == nil {
		rec = Record{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// Decode parses data into a Record. Absent or malformed input, and any
// top-level value other than an object, yields an empty record.
func Decode(data []byte) Record {
	rec, _ := decode(data)
	return rec
}

func decode(data []byte) (Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, ErrCorrupt
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec == nil {
		// literal null
		return Record{}, ErrCorrupt
	}
	return rec, nil
}
