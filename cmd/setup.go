package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"

	"pgmetrics/config"
	"pgmetrics/gatherer"
	"pgmetrics/logger"
	"pgmetrics/pgstats"
	"pgmetrics/scheduler"
)

// buildScheduler opens one connection pool per configured database,
// binds the configured tasks and returns the ready scheduler. Any
// error here is a setup failure: abort startup with a non-zero exit,
// no retry.
func buildScheduler(ctx context.Context, cfg *config.Config, log *logger.Logger) (*scheduler.Scheduler, func(), error) {
	pools := make(map[string]*sql.DB, len(cfg.Postgres.Databases))
	cleanup := func() {
		for _, pool := range pools {
			pool.Close()
		}
	}

	for _, database := range cfg.Postgres.Databases {
		log.Info(ctx, "opening database connection",
			"host", cfg.Postgres.Host, "port", cfg.Postgres.Port,
			"user", cfg.Postgres.User, "database", database)
		pool, err := pgstats.Connect(ctx, pgstats.ConnectionParams{
			Host:                  cfg.Postgres.Host,
			Port:                  cfg.Postgres.Port,
			User:                  cfg.Postgres.User,
			Password:              cfg.Postgres.Password,
			DbName:                database,
			SslMode:               cfg.Postgres.SslMode,
			ConnectTimeout:        cfg.Postgres.ConnectTimeout.Duration,
			MaxOpenConnections:    cfg.Postgres.MaxOpenConnections,
			MaxIdleConnections:    cfg.Postgres.MaxIdleConnections,
			ConnectionMaxLifetime: cfg.Postgres.ConnectionMaxLifetime.Duration,
			ConnectionMaxIdleTime: cfg.Postgres.ConnectionMaxIdleTime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		pools[database] = pool
	}

	clusterDB := pools[cfg.Postgres.Databases[0]]
	versionNum, err := pgstats.VersionNum(ctx, clusterDB)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	dataDir := pgstats.DataDirFor(cfg.Postgres.DataDir, versionDir(versionNum))
	if dataDir == "" {
		log.Debug(ctx, "no usable postgres data directory, data dir tasks will fail")
	} else {
		log.Debug(ctx, "using postgres data directory", "data_dir", dataDir)
	}

	host, err := os.Hostname()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to determine hostname: %w", err)
	}

	tasks, err := gatherer.Build(cfg, gatherer.Deps{
		Host:              host,
		DataDir:           dataDir,
		QueryTimeout:      cfg.Postgres.QueryTimeout.Duration,
		DatabasePools:     pools,
		Databases:         cfg.Postgres.Databases,
		ClusterDB:         clusterDB,
		ClusterVersionNum: versionNum,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return scheduler.New(log, clockwork.NewRealClock(), tasks), cleanup, nil
}

// versionDir maps a numeric server version to the directory component
// of the default Debian data dir layout: "14" for 14.x, "9.6" for 9.6.x.
func versionDir(versionNum int) string {
	if versionNum <= 0 {
		return ""
	}
	major := versionNum / 10000
	if major >= 10 {
		return fmt.Sprintf("%d", major)
	}
	minor := (versionNum % 10000) / 100
	return fmt.Sprintf("%d.%d", major, minor)
}
