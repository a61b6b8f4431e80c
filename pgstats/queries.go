package pgstats

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

// The sources below wrap one SQL probe each behind a uniform
// Fetch(ctx) contract. Every query runs under the configured timeout,
// so a wedged query cannot stall the scheduling loop indefinitely.

// regex used to extract the host from a conninfo string
var conninfoHostRe = regexp.MustCompile(`(^|\s)host=(\S+)`)

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// ClientConnectionsSource counts current client connections.
type ClientConnectionsSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *ClientConnectionsSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var count float64
	err := s.DB.QueryRowContext(ctx, "SELECT count(*) FROM pg_stat_activity").Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count client connections: %w", err)
	}
	return Scalar{At: time.Now(), Value: count}, nil
}

// DatabaseSizeSource reads the on-disk size of the connected database.
type DatabaseSizeSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *DatabaseSizeSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var size float64
	err := s.DB.QueryRowContext(ctx,
		"SELECT pg_database_size(datname) FROM pg_database WHERE datname = current_database()").
		Scan(&size)
	if err != nil {
		return nil, fmt.Errorf("failed to read database size: %w", err)
	}
	return Scalar{At: time.Now(), Value: size}, nil
}

// TxCountersSource reads the cumulative transaction counters of the
// connected database. The sample time comes from the server so rate
// diffs are consistent with the counter values.
type TxCountersSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *TxCountersSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var raw TxCounters
	err := s.DB.QueryRowContext(ctx,
		"SELECT now(), xact_commit + xact_rollback, xact_rollback "+
			"FROM pg_stat_database WHERE datname = current_database()").
		Scan(&raw.At, &raw.Transactions, &raw.Rollbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction counters: %w", err)
	}
	return raw, nil
}

// HeapCountersSource reads the cumulative heap block counters of the
// connected database's user tables.
type HeapCountersSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *HeapCountersSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var raw HeapCounters
	err := s.DB.QueryRowContext(ctx,
		"SELECT now(), coalesce(sum(heap_blks_read), 0), coalesce(sum(heap_blks_hit), 0) "+
			"FROM pg_statio_user_tables").
		Scan(&raw.At, &raw.Read, &raw.Hit)
	if err != nil {
		return nil, fmt.Errorf("failed to read heap hit statistics: %w", err)
	}
	return raw, nil
}

// LastVacuumSource reports seconds since the last (auto)vacuum per
// user table. A table never vacuumed reports zero, staying flat.
type LastVacuumSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *LastVacuumSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		"SELECT relname, now(), last_vacuum, last_autovacuum FROM pg_stat_user_tables")
	if err != nil {
		return nil, fmt.Errorf("failed to read last vacuum times: %w", err)
	}
	defer rows.Close()

	raw := VacuumAges{At: time.Now()}
	for rows.Next() {
		var table string
		var now time.Time
		var lastVacuum, lastAutovacuum sql.NullTime
		if err := rows.Scan(&table, &now, &lastVacuum, &lastAutovacuum); err != nil {
			return nil, fmt.Errorf("failed to scan vacuum row: %w", err)
		}
		raw.At = now

		latest := now // no vacuum ever means zero seconds
		if lastVacuum.Valid {
			latest = lastVacuum.Time
		}
		if lastAutovacuum.Valid && (!lastVacuum.Valid || lastAutovacuum.Time.After(latest)) {
			latest = lastAutovacuum.Time
		}
		raw.Tables = append(raw.Tables, TableSeconds{
			Table:   table,
			Seconds: now.Sub(latest).Seconds(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating vacuum rows: %w", err)
	}
	return raw, nil
}

// LocksSource aggregates pg_locks by lock type.
type LocksSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *LocksSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		"SELECT locktype, granted, count(*) FROM pg_locks GROUP BY locktype, granted")
	if err != nil {
		return nil, fmt.Errorf("failed to read lock statistics: %w", err)
	}
	defer rows.Close()

	raw := LockStats{At: time.Now()}
	byType := make(map[string]*LockCount)
	var order []string
	for rows.Next() {
		var lockType string
		var granted bool
		var count float64
		if err := rows.Scan(&lockType, &granted, &count); err != nil {
			return nil, fmt.Errorf("failed to scan lock row: %w", err)
		}
		lc, ok := byType[lockType]
		if !ok {
			lc = &LockCount{Type: lockType}
			byType[lockType] = lc
			order = append(order, lockType)
		}
		if granted {
			lc.Granted += count
			raw.TotalGranted += count
		} else {
			lc.Waiting += count
			raw.TotalWaiting += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating lock rows: %w", err)
	}
	for _, lockType := range order {
		raw.ByType = append(raw.ByType, *byType[lockType])
	}
	return raw, nil
}

// OldestXactSource reports the age of the oldest open transaction in
// the connected database.
type OldestXactSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *OldestXactSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var now, xactStart time.Time
	err := s.DB.QueryRowContext(ctx,
		"SELECT now(), xact_start FROM pg_stat_activity "+
			"WHERE xact_start IS NOT NULL AND datname = current_database() "+
			"ORDER BY xact_start ASC LIMIT 1").
		Scan(&now, &xactStart)
	if err == sql.ErrNoRows {
		return OldestXact{At: time.Now(), Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read oldest transaction: %w", err)
	}
	return OldestXact{At: now, Found: true, Seconds: now.Sub(xactStart).Seconds()}, nil
}

// TableBloatSource reads the dead tuple fraction per user table via
// the pgstattuple helper function installed by prepare-db.
type TableBloatSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *TableBloatSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		"SELECT oid, relname FROM pg_class WHERE relkind = 'r' "+
			"AND relname NOT LIKE 'pg_%' AND relname NOT LIKE 'sql_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	type tableOid struct {
		oid  int64
		name string
	}
	var tables []tableOid
	for rows.Next() {
		var t tableOid
		if err := rows.Scan(&t.oid, &t.name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed closing table rows: %w", err)
	}

	raw := TableRatios{At: time.Now()}
	for _, t := range tables {
		var deadTuplePercent float64
		err := s.DB.QueryRowContext(ctx,
			"SELECT dead_tuple_percent FROM pgstattuple_for_table_oid($1)", t.oid).
			Scan(&deadTuplePercent)
		if err != nil {
			return nil, fmt.Errorf("failed to read bloat for table '%s': %w", t.name, err)
		}
		raw.Tables = append(raw.Tables, TableRatio{
			Table: t.name,
			Ratio: deadTuplePercent / 100.0,
		})
	}
	return raw, nil
}

// IndexHitSource reads the index hit rate per user table.
type IndexHitSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *IndexHitSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		"SELECT relname, idx_scan, seq_scan FROM pg_stat_user_tables")
	if err != nil {
		return nil, fmt.Errorf("failed to read index hit rates: %w", err)
	}
	defer rows.Close()

	raw := TableRatios{At: time.Now()}
	for rows.Next() {
		var table string
		var indexHits, seqScans sql.NullFloat64
		if err := rows.Scan(&table, &indexHits, &seqScans); err != nil {
			return nil, fmt.Errorf("failed to scan index hit row: %w", err)
		}
		if !indexHits.Valid || !seqScans.Valid {
			continue
		}
		ratio := 0.0
		if indexHits.Float64 > 0 {
			ratio = indexHits.Float64 / (indexHits.Float64 + seqScans.Float64)
		}
		raw.Tables = append(raw.Tables, TableRatio{Table: table, Ratio: ratio})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating index hit rows: %w", err)
	}
	return raw, nil
}

// ReplicationDelaysSource reads the replay lag per connected replica
// from the pg_stat_repl view installed by prepare-db. The WAL function
// names depend on the server version, and replicas cannot call
// pg_current_wal_lsn, so the query is picked per fetch.
type ReplicationDelaysSource struct {
	DB         *sql.DB
	Timeout    time.Duration
	VersionNum int
}

func (s *ReplicationDelaysSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	inRecovery, err := IsInRecovery(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to check recovery state: %w", err)
	}

	current := "pg_current_wal_lsn()"
	diff := "pg_wal_lsn_diff"
	replay := "replay_lsn"
	if inRecovery {
		// pg_current_wal_lsn cannot be called on a replica; use the
		// last received position for monitoring cascade replication.
		current = "pg_last_wal_receive_lsn()"
	}
	if s.VersionNum > 0 && s.VersionNum < 100000 {
		current = "pg_current_xlog_location()"
		if inRecovery {
			current = "pg_last_xlog_receive_location()"
		}
		diff = "pg_xlog_location_diff"
		replay = "replay_location"
	}

	query := fmt.Sprintf(
		"SELECT client_addr, %s(%s, %s) AS bytes_diff FROM public.pg_stat_repl",
		diff, current, replay)
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read replication delays: %w", err)
	}
	defer rows.Close()

	raw := ReplicationDelays{At: time.Now()}
	for rows.Next() {
		var client sql.NullString
		var bytesDiff float64
		if err := rows.Scan(&client, &bytesDiff); err != nil {
			return nil, fmt.Errorf("failed to scan replication delay row: %w", err)
		}
		raw.Replicas = append(raw.Replicas, ReplicaDelay{
			Client: client.String,
			Bytes:  bytesDiff,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating replication delay rows: %w", err)
	}
	return raw, nil
}

// WalReceiverSource reads the incoming replication status from the
// stat_incoming_replication view installed by prepare-db.
type WalReceiverSource struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (s *WalReceiverSource) Fetch(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx,
		"SELECT conninfo, CASE WHEN status = 'streaming' THEN 1 ELSE 0 END "+
			"FROM public.stat_incoming_replication")
	if err != nil {
		return nil, fmt.Errorf("failed to read wal receiver status: %w", err)
	}
	defer rows.Close()

	raw := IncomingReplication{At: time.Now()}
	for rows.Next() {
		var conninfo string
		var streaming int
		if err := rows.Scan(&conninfo, &streaming); err != nil {
			return nil, fmt.Errorf("failed to scan wal receiver row: %w", err)
		}
		raw.Receivers = append(raw.Receivers, ReceiverStatus{
			Upstream:  hostFromConninfo(conninfo),
			Streaming: streaming == 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating wal receiver rows: %w", err)
	}
	return raw, nil
}

func hostFromConninfo(conninfo string) string {
	match := conninfoHostRe.FindStringSubmatch(conninfo)
	if match == nil {
		return "UNKNOWN"
	}
	return match[2]
}
