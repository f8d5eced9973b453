package storage

import (
	"time"

	"github.com/developingchet/shieldon-filestore/internal/metrics"
)

// tableLabel bounds the metric label set to the three known tables.
func tableLabel(t TableType) string {
	if t.Valid() {
		return string(t)
	}
	return "invalid"
}

func observe(op string, t TableType, result string, start time.Time) {
	metrics.Operations.WithLabelValues(op, tableLabel(t), result).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func observeRebuild(result string, start time.Time) {
	metrics.Rebuilds.WithLabelValues(result).Inc()
	metrics.OperationDuration.WithLabelValues("rebuild").Observe(time.Since(start).Seconds())
}
