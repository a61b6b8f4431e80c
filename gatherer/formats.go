package gatherer

import (
	"fmt"

	"pgmetrics/metrics"
	"pgmetrics/pgstats"
)

// Format functions for every registered task. A raw result whose shape
// does not match is a format failure; an empty row set means "no data"
// and yields zero records, not an error.

func rawTypeError(meta Meta, raw any) error {
	return fmt.Errorf("unexpected raw result type %T for task '%s'", raw, meta.Task)
}

func formatClientConnections(raw, _ any, meta Meta) ([]metrics.Record, error) {
	s, ok := raw.(pgstats.Scalar)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	return []metrics.Record{
		metrics.ClientConnections(meta.Host, meta.Database, s.At, s.Value),
	}, nil
}

func formatDatabaseSize(raw, _ any, meta Meta) ([]metrics.Record, error) {
	s, ok := raw.(pgstats.Scalar)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	return []metrics.Record{
		metrics.DatabaseSize(meta.Host, meta.Database, s.At, s.Value),
	}, nil
}

// formatTransactionRate diffs two cumulative counter samples. The
// first cycle has no previous sample and emits nothing.
func formatTransactionRate(raw, prev any, meta Meta) ([]metrics.Record, error) {
	cur, ok := raw.(pgstats.TxCounters)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	if prev == nil {
		return nil, nil
	}
	last, ok := prev.(pgstats.TxCounters)
	if !ok {
		return nil, rawTypeError(meta, prev)
	}
	elapsed := cur.At.Sub(last.At)
	return []metrics.Record{
		metrics.TransactionRate(meta.Host, meta.Database, cur.At,
			metrics.Rate(last.Transactions, cur.Transactions, elapsed)),
		metrics.RollbacksRate(meta.Host, meta.Database, cur.At,
			metrics.Rate(last.Rollbacks, cur.Rollbacks, elapsed)),
	}, nil
}

func formatHeapHitStatistics(raw, prev any, meta Meta) ([]metrics.Record, error) {
	cur, ok := raw.(pgstats.HeapCounters)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	if prev == nil {
		return nil, nil
	}
	last, ok := prev.(pgstats.HeapCounters)
	if !ok {
		return nil, rawTypeError(meta, prev)
	}
	elapsed := cur.At.Sub(last.At)
	recentRead := metrics.Rate(last.Read, cur.Read, elapsed)
	recentHit := metrics.Rate(last.Hit, cur.Hit, elapsed)
	ratio := 0.0
	if recentHit > 0 {
		ratio = recentHit / (recentHit + recentRead)
	}
	return []metrics.Record{
		metrics.BlocksReadFromDisk(meta.Host, meta.Database, cur.At, recentRead),
		metrics.BlocksReadFromBuffer(meta.Host, meta.Database, cur.At, recentHit),
		metrics.HeapHitRatio(meta.Host, meta.Database, cur.At, ratio),
	}, nil
}

func formatLastVacuum(raw, _ any, meta Meta) ([]metrics.Record, error) {
	ages, ok := raw.(pgstats.VacuumAges)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, table := range ages.Tables {
		records = append(records, metrics.SecondsSinceLastVacuum(
			meta.Host, meta.Database, table.Table, ages.At, table.Seconds))
	}
	return records, nil
}

func formatLocks(raw, _ any, meta Meta) ([]metrics.Record, error) {
	locks, ok := raw.(pgstats.LockStats)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, lc := range locks.ByType {
		records = append(records,
			metrics.LocksGranted(meta.Host, lc.Type, locks.At, lc.Granted),
			metrics.LocksWaiting(meta.Host, lc.Type, locks.At, lc.Waiting))
	}
	records = append(records,
		metrics.LocksGranted(meta.Host, "total", locks.At, locks.TotalGranted),
		metrics.LocksWaiting(meta.Host, "total", locks.At, locks.TotalWaiting))
	return records, nil
}

func formatOldestXact(raw, _ any, meta Meta) ([]metrics.Record, error) {
	oldest, ok := raw.(pgstats.OldestXact)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	if !oldest.Found {
		return nil, nil
	}
	return []metrics.Record{
		metrics.SecondsSinceOldestXactStart(meta.Host, meta.Database, oldest.At, oldest.Seconds),
	}, nil
}

func formatTableBloat(raw, _ any, meta Meta) ([]metrics.Record, error) {
	ratios, ok := raw.(pgstats.TableRatios)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, table := range ratios.Tables {
		records = append(records, metrics.TableBloat(
			meta.Host, meta.Database, table.Table, ratios.At, table.Ratio))
	}
	return records, nil
}

func formatIndexHitRates(raw, _ any, meta Meta) ([]metrics.Record, error) {
	ratios, ok := raw.(pgstats.TableRatios)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, table := range ratios.Tables {
		records = append(records, metrics.IndexHitRatio(
			meta.Host, meta.Database, table.Table, ratios.At, table.Ratio))
	}
	return records, nil
}

func formatReplicationDelays(raw, _ any, meta Meta) ([]metrics.Record, error) {
	delays, ok := raw.(pgstats.ReplicationDelays)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, replica := range delays.Replicas {
		records = append(records, metrics.ReplicationDelayBytes(
			meta.Host, replica.Client, delays.At, replica.Bytes))
	}
	return records, nil
}

func formatIncomingReplication(raw, _ any, meta Meta) ([]metrics.Record, error) {
	incoming, ok := raw.(pgstats.IncomingReplication)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	var records []metrics.Record
	for _, receiver := range incoming.Receivers {
		streaming := 0.0
		if receiver.Streaming {
			streaming = 1.0
		}
		records = append(records, metrics.IncomingReplicationRunning(
			meta.Host, receiver.Upstream, incoming.At, streaming))
	}
	return records, nil
}

func formatWalFileAmount(raw, _ any, meta Meta) ([]metrics.Record, error) {
	s, ok := raw.(pgstats.Scalar)
	if !ok {
		return nil, rawTypeError(meta, raw)
	}
	return []metrics.Record{
		metrics.WalFileAmount(meta.Host, s.At, s.Value),
	}, nil
}
