package gatherer

import (
	"context"
	"time"

	"pgmetrics/metrics"
)

// Scope says whether a task runs once per configured database or once
// for the whole cluster.
type Scope int

const (
	PerDatabase Scope = iota
	Cluster
)

func (s Scope) String() string {
	if s == Cluster {
		return "cluster"
	}
	return "database"
}

// Source wraps one raw data-producing probe (SQL query or filesystem
// read) behind a uniform fetch contract. The returned raw result is
// opaque to the scheduler; only the paired format function knows its
// concrete type.
type Source interface {
	Fetch(ctx context.Context) (any, error)
}

// Meta is the static task metadata handed to format functions.
type Meta struct {
	Task     string
	Database string // empty for cluster scope
	Host     string
}

// FormatFunc converts a raw result, plus the previous raw result from
// the last successful cycle (nil on the first run), into zero or more
// canonical records. Format functions are pure: all cross-cycle state
// lives in the scheduler's run state.
type FormatFunc func(raw, prev any, meta Meta) ([]metrics.Record, error)

// Task binds one source, one format function, one interval and one
// scope. Immutable once built.
type Task struct {
	Name     string
	Scope    Scope
	Database string // bound database for PerDatabase tasks
	Interval time.Duration
	Source   Source
	Format   FormatFunc
	Meta     Meta
}
