package metrics

import "time"

// Constructors for every metric this service emits. Each returns a
// single canonical record; the gatherer decides how many to emit per
// cycle. The "host" tag is always present, "database" only on
// per-database metrics.

func ClientConnections(host, database string, at time.Time, value float64) Record {
	return New("client-connections", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "connection",
	})
}

func DatabaseSize(host, database string, at time.Time, value float64) Record {
	return New("database-size", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "B",
	})
}

func TransactionRate(host, database string, at time.Time, value float64) Record {
	return New("transaction-rate", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "transaction",
	})
}

func RollbacksRate(host, database string, at time.Time, value float64) Record {
	return New("transaction-rollbacks", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "transaction",
	})
}

func SecondsSinceLastVacuum(host, database, table string, at time.Time, value float64) Record {
	return New("last-vacuum", value, at, map[string]string{
		"host":     host,
		"database": database,
		"table":    table,
		"unit":     "s",
	})
}

func BlocksReadFromDisk(host, database string, at time.Time, value float64) Record {
	return New("blocks-read-from-disk", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "blocks",
	})
}

func BlocksReadFromBuffer(host, database string, at time.Time, value float64) Record {
	return New("blocks-read-from-buffer", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "blocks",
	})
}

func HeapHitRatio(host, database string, at time.Time, value float64) Record {
	return New("blocks-heap-hit-ratio", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "buffer_hit%",
	})
}

func LocksGranted(host, lockType string, at time.Time, value float64) Record {
	return New("locks-granted", value, at, map[string]string{
		"host":     host,
		"locktype": lockType,
		"unit":     "lock",
	})
}

func LocksWaiting(host, lockType string, at time.Time, value float64) Record {
	return New("locks-waiting", value, at, map[string]string{
		"host":     host,
		"locktype": lockType,
		"unit":     "lock",
	})
}

func SecondsSinceOldestXactStart(host, database string, at time.Time, value float64) Record {
	return New("sec-since-oldest-xact-start", value, at, map[string]string{
		"host":     host,
		"database": database,
		"unit":     "s",
	})
}

func TableBloat(host, database, table string, at time.Time, value float64) Record {
	return New("table-bloat", value, at, map[string]string{
		"host":     host,
		"database": database,
		"table":    table,
		"unit":     "bloat%",
	})
}

func IndexHitRatio(host, database, table string, at time.Time, value float64) Record {
	return New("index-hit", value, at, map[string]string{
		"host":     host,
		"database": database,
		"table":    table,
		"unit":     "index_hit%",
	})
}

func ReplicationDelayBytes(host, replica string, at time.Time, value float64) Record {
	return New("replication-delay-bytes", value, at, map[string]string{
		"host":  host,
		"slave": replica,
		"unit":  "B",
	})
}

func WalFileAmount(host string, at time.Time, value float64) Record {
	return New("wal-file-amount", value, at, map[string]string{
		"host": host,
		"unit": "file",
	})
}

func IncomingReplicationRunning(host, upstream string, at time.Time, value float64) Record {
	return New("incoming-replication-running", value, at, map[string]string{
		"host":   host,
		"master": upstream,
		"unit":   "msg",
	})
}
