package storage

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// sortEntries orders entries ascending by (Stamp, Name). The name tiebreak
// keeps the order deterministic when several records share a timestamp.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Stamp != entries[j].Stamp {
			return entries[i].Stamp < entries[j].Stamp
		}
		return entries[i].Name < entries[j].Name
	})
}

// stampFor computes the ordering stamp for an entry of table t.
func stampFor(t TableType, rec Record, mod time.Time) int64 {
	if t == TableSession {
		return sessionStamp(rec)
	}
	return mod.UnixMicro()
}

func parseStamp(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
