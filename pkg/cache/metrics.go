package cache

import (
	"github.com/uber-go/tally/v4"
)

// Metrics tracks cache activity.
type Metrics struct {
	hits            tally.Counter
	misses          tally.Counter
	evictions       tally.Counter
	invalidations   tally.Counter
	expirations     tally.Counter
	inconsistencies tally.Counter
	size            tally.Gauge
}

// NewMetrics returns metrics rooted at scope.
func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		hits:            scope.Counter("hits"),
		misses:          scope.Counter("misses"),
		evictions:       scope.Counter("evictions"),
		invalidations:   scope.Counter("invalidations"),
		expirations:     scope.Counter("expirations"),
		inconsistencies: scope.Counter("inconsistencies"),
		size:            scope.Gauge("size"),
	}
}
