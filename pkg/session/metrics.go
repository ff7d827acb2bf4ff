package session

import (
	"github.com/marshallshelly/inflatable/pkg/builder"
	"github.com/uber-go/tally/v4"
)

// Metrics tracks session activity.
type Metrics struct {
	executes      tally.Counter
	executeErrors tally.Counter
	executeTime   tally.Timer
	queries       tally.Counter
	queryErrors   tally.Counter
	queryTime     tally.Timer
	cacheErrors   tally.Counter
	cacheStale    tally.Counter

	scope tally.Scope
}

// NewMetrics returns metrics rooted at scope.
func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		executes:      scope.Counter("executes"),
		executeErrors: scope.Counter("execute_errors"),
		executeTime:   scope.Timer("execute_latency"),
		queries:       scope.Counter("queries"),
		queryErrors:   scope.Counter("query_errors"),
		queryTime:     scope.Timer("query_latency"),
		cacheErrors:   scope.Counter("cache_errors"),
		cacheStale:    scope.Counter("cache_stale_results"),

		scope: scope,
	}
}

func (m *Metrics) command(kind builder.CommandKind, source string) {
	m.scope.Tagged(map[string]string{
		"kind":        kind.String(),
		"data_source": source,
	}).Counter("commands").Inc(1)
}
