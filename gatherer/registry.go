package gatherer

import (
	"database/sql"
	"fmt"
	"time"

	"pgmetrics/config"
	"pgmetrics/pgstats"
)

// Deps carries everything the registry needs to bind configured task
// names to concrete sources. Built once at startup; an unknown name in
// the configuration is a setup failure, never a mid-loop lookup error.
type Deps struct {
	Host              string
	DataDir           string
	QueryTimeout      time.Duration
	DatabasePools     map[string]*sql.DB // one pool per configured database
	Databases         []string           // configuration order
	ClusterDB         *sql.DB            // first configured database's pool
	ClusterVersionNum int
}

type databaseBuilder func(db *sql.DB, timeout time.Duration) (Source, FormatFunc)

type clusterBuilder func(deps Deps) (Source, FormatFunc)

var databaseBuilders = map[string]databaseBuilder{
	"client_connections": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.ClientConnectionsSource{DB: db, Timeout: timeout}, formatClientConnections
	},
	"database_size": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.DatabaseSizeSource{DB: db, Timeout: timeout}, formatDatabaseSize
	},
	"transaction_rate": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.TxCountersSource{DB: db, Timeout: timeout}, formatTransactionRate
	},
	"seconds_since_last_vacuum": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.LastVacuumSource{DB: db, Timeout: timeout}, formatLastVacuum
	},
	"heap_hit_ratio": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.HeapCountersSource{DB: db, Timeout: timeout}, formatHeapHitStatistics
	},
	"oldest_transaction": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.OldestXactSource{DB: db, Timeout: timeout}, formatOldestXact
	},
	"table_bloat": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.TableBloatSource{DB: db, Timeout: timeout}, formatTableBloat
	},
	"index_hit_rates": func(db *sql.DB, timeout time.Duration) (Source, FormatFunc) {
		return &pgstats.IndexHitSource{DB: db, Timeout: timeout}, formatIndexHitRates
	},
}

var clusterBuilders = map[string]clusterBuilder{
	"locks": func(deps Deps) (Source, FormatFunc) {
		return &pgstats.LocksSource{DB: deps.ClusterDB, Timeout: deps.QueryTimeout}, formatLocks
	},
	"replication_delays": func(deps Deps) (Source, FormatFunc) {
		return &pgstats.ReplicationDelaysSource{
			DB:         deps.ClusterDB,
			Timeout:    deps.QueryTimeout,
			VersionNum: deps.ClusterVersionNum,
		}, formatReplicationDelays
	},
	"incoming_replication": func(deps Deps) (Source, FormatFunc) {
		return &pgstats.WalReceiverSource{DB: deps.ClusterDB, Timeout: deps.QueryTimeout}, formatIncomingReplication
	},
	"wal_file_count": func(deps Deps) (Source, FormatFunc) {
		return &pgstats.WalFilesSource{DataDir: deps.DataDir}, formatWalFileAmount
	},
}

// Build expands the configured task lists into bound task instances:
// cluster tasks first in configuration order, then for each database
// in configuration order every per-database task in configuration
// order. Per-database tasks get one instance per database so each
// keeps its own schedule and rate state.
func Build(cfg *config.Config, deps Deps) ([]*Task, error) {
	var tasks []*Task

	for _, taskCfg := range cfg.ClusterTasks {
		builder, ok := clusterBuilders[taskCfg.Name]
		if !ok {
			return nil, fmt.Errorf("unknown cluster task in configuration: '%s'", taskCfg.Name)
		}
		source, format := builder(deps)
		tasks = append(tasks, &Task{
			Name:     taskCfg.Name,
			Scope:    Cluster,
			Interval: taskCfg.Interval.Duration,
			Source:   source,
			Format:   format,
			Meta:     Meta{Task: taskCfg.Name, Host: deps.Host},
		})
	}

	for _, database := range deps.Databases {
		pool, ok := deps.DatabasePools[database]
		if !ok {
			return nil, fmt.Errorf("no connection pool for database '%s'", database)
		}
		for _, taskCfg := range cfg.DatabaseTasks {
			builder, ok := databaseBuilders[taskCfg.Name]
			if !ok {
				return nil, fmt.Errorf("unknown database task in configuration: '%s'", taskCfg.Name)
			}
			source, format := builder(pool, deps.QueryTimeout)
			tasks = append(tasks, &Task{
				Name:     taskCfg.Name,
				Scope:    PerDatabase,
				Database: database,
				Interval: taskCfg.Interval.Duration,
				Source:   source,
				Format:   format,
				Meta:     Meta{Task: taskCfg.Name, Database: database, Host: deps.Host},
			})
		}
	}

	return tasks, nil
}
