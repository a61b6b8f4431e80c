package pgstats

import "time"

// Raw results produced by the stat sources. Each carries the sample
// time it was taken at, so rate computations diff against the previous
// sample's own timestamp rather than the wall clock at format time.

// Scalar is a single instantaneous value.
type Scalar struct {
	At    time.Time
	Value float64
}

// TxCounters holds the cumulative transaction counters of one database.
type TxCounters struct {
	At           time.Time
	Transactions float64 // commits + rollbacks
	Rollbacks    float64
}

// HeapCounters holds the cumulative heap block read counters of one database.
type HeapCounters struct {
	At   time.Time
	Read float64 // blocks read from disk
	Hit  float64 // blocks served from the buffer cache
}

// TableSeconds is a per-table age in seconds.
type TableSeconds struct {
	Table   string
	Seconds float64
}

// VacuumAges lists seconds since last (auto)vacuum per user table.
type VacuumAges struct {
	At     time.Time
	Tables []TableSeconds
}

// LockCount holds granted/waiting lock counts for one lock type.
type LockCount struct {
	Type    string
	Waiting float64
	Granted float64
}

// LockStats aggregates pg_locks by lock type, plus totals.
type LockStats struct {
	At           time.Time
	ByType       []LockCount
	TotalWaiting float64
	TotalGranted float64
}

// OldestXact reports the age of the oldest open transaction, if any.
type OldestXact struct {
	At      time.Time
	Found   bool
	Seconds float64
}

// TableRatio is a per-table ratio in [0, 1].
type TableRatio struct {
	Table string
	Ratio float64
}

// TableRatios lists per-table ratios (bloat fraction, index hit rate).
type TableRatios struct {
	At     time.Time
	Tables []TableRatio
}

// ReplicaDelay is the replay lag of one connected replica.
type ReplicaDelay struct {
	Client string
	Bytes  float64
}

// ReplicationDelays lists replay lag per connected replica.
type ReplicationDelays struct {
	At       time.Time
	Replicas []ReplicaDelay
}

// ReceiverStatus is the incoming replication state from one upstream.
type ReceiverStatus struct {
	Upstream  string
	Streaming bool
}

// IncomingReplication lists WAL receiver statuses.
type IncomingReplication struct {
	At        time.Time
	Receivers []ReceiverStatus
}
