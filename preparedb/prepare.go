package preparedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"pgmetrics/config"
	"pgmetrics/logger"
	"pgmetrics/pgstats"
)

const (
	replicationStatsView    = "public.pg_stat_repl"
	pgstattupleFuncName     = "pgstattuple_for_table_oid"
	pgstattupleFunc         = pgstattupleFuncName + "(BIGINT)"
	incomingReplicationView = "stat_incoming_replication"
	pgVersionWalReceiver    = 90600
)

// AdminCredentials identify a role with superuser privileges in the
// monitored cluster. When empty, the configured metrics user is tried,
// which works if it happens to be a superuser.
type AdminCredentials struct {
	User     string
	Password string
}

// Prepare sets up every configured database for metrics gathering:
// the metrics role, the replication stats views and the pgstattuple
// helper function, with the grants the metrics role needs. Every step
// is idempotent, so re-running is safe. Replica nodes are skipped;
// prepare-db must run on the primary.
func Prepare(ctx context.Context, log *logger.Logger, cfg *config.Config, admin AdminCredentials) error {
	metricsUser := cfg.Postgres.User
	metricsPassword := cfg.Postgres.Password
	log.Info(ctx, "preparing databases for metrics user", "user", metricsUser)

	if admin.User == "" {
		admin.User = metricsUser
		admin.Password = metricsPassword
	}

	for _, dbName := range cfg.Postgres.Databases {
		log.Info(ctx, "connecting as admin user", "database", dbName, "admin", admin.User)
		db, err := pgstats.Connect(ctx, pgstats.ConnectionParams{
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			User:           admin.User,
			Password:       admin.Password,
			DbName:         dbName,
			SslMode:        cfg.Postgres.SslMode,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fmt.Errorf("failed connecting to database '%s': %w", dbName, err)
		}

		err = prepareDatabase(ctx, log, db, dbName, metricsUser, metricsPassword)
		db.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func prepareDatabase(ctx context.Context, log *logger.Logger, db *sql.DB, dbName, metricsUser, metricsPassword string) error {
	replica, err := pgstats.IsInRecovery(ctx, db)
	if err != nil {
		return fmt.Errorf("failed checking recovery state of '%s': %w", dbName, err)
	}
	if replica {
		log.Info(ctx, "database is a replica, run prepare-db on the primary", "database", dbName)
		return nil
	}

	if err := ensureRole(ctx, log, db, metricsUser, metricsPassword); err != nil {
		return err
	}
	if err := ensureConnectGrant(ctx, log, db, dbName, metricsUser); err != nil {
		return err
	}
	if err := ensureReplicationStatsView(ctx, log, db, metricsUser); err != nil {
		return err
	}
	if err := ensurePgstattuple(ctx, log, db, metricsUser); err != nil {
		return err
	}
	if err := ensureIncomingReplicationView(ctx, log, db, metricsUser); err != nil {
		return err
	}

	log.Info(ctx, "database prepared", "database", dbName, "user", metricsUser)
	return nil
}

func ensureRole(ctx context.Context, log *logger.Logger, db *sql.DB, user, password string) error {
	var name string
	err := db.QueryRowContext(ctx, "SELECT rolname FROM pg_roles WHERE rolname = $1", user).Scan(&name)
	if err == nil {
		log.Info(ctx, "role already exists", "role", user)
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed checking role '%s': %w", user, err)
	}

	log.Info(ctx, "creating role with login privilege", "role", user)
	// Role names cannot be bound parameters, so quote them explicitly.
	stmt := fmt.Sprintf("CREATE ROLE %s WITH PASSWORD %s LOGIN",
		pq.QuoteIdentifier(user), pq.QuoteLiteral(password))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed creating role '%s': %w", user, err)
	}
	return nil
}

func ensureConnectGrant(ctx context.Context, log *logger.Logger, db *sql.DB, dbName, user string) error {
	var has bool
	err := db.QueryRowContext(ctx,
		"SELECT has_database_privilege($1, $2, 'connect')", user, dbName).Scan(&has)
	if err != nil {
		return fmt.Errorf("failed checking connect privilege: %w", err)
	}
	if has {
		log.Info(ctx, "role already has connect privilege", "role", user, "database", dbName)
		return nil
	}
	log.Info(ctx, "granting connect privilege", "role", user, "database", dbName)
	stmt := fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s",
		pq.QuoteIdentifier(dbName), pq.QuoteIdentifier(user))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed granting connect on '%s': %w", dbName, err)
	}
	return nil
}

func ensureReplicationStatsView(ctx context.Context, log *logger.Logger, db *sql.DB, user string) error {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_name = 'pg_stat_repl'").Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed checking replication stats view: %w", err)
	}
	if err == sql.ErrNoRows {
		log.Info(ctx, "creating replication stats view", "view", replicationStatsView)
		funcSQL := `CREATE OR REPLACE FUNCTION public.pg_stat_repl()
RETURNS SETOF pg_catalog.pg_stat_replication AS $$
BEGIN
RETURN QUERY(SELECT * FROM pg_catalog.pg_stat_replication);
END$$ LANGUAGE plpgsql SECURITY DEFINER`
		if _, err := db.ExecContext(ctx, funcSQL); err != nil {
			return fmt.Errorf("failed creating pg_stat_repl function: %w", err)
		}
		viewSQL := "CREATE VIEW " + replicationStatsView + " AS SELECT * FROM public.pg_stat_repl()"
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("failed creating view %s: %w", replicationStatsView, err)
		}
	} else {
		log.Info(ctx, "replication stats view already exists")
	}

	return ensureTableGrant(ctx, log, db, user, replicationStatsView)
}

func ensurePgstattuple(ctx context.Context, log *logger.Logger, db *sql.DB, user string) error {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT proname FROM pg_proc WHERE proname = $1", pgstattupleFuncName).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed checking pgstattuple function: %w", err)
	}
	if err == sql.ErrNoRows {
		log.Info(ctx, "creating extension pgstattuple with access function", "function", pgstattupleFunc)
		if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS pgstattuple"); err != nil {
			return fmt.Errorf("failed creating pgstattuple extension: %w", err)
		}
		funcSQL := "CREATE OR REPLACE FUNCTION " + pgstattupleFunc + `
RETURNS TABLE (current_database NAME, table_len BIGINT, tuple_count BIGINT,
               tuple_len BIGINT, tuple_percent FLOAT, dead_tuple_count BIGINT,
               dead_tuple_len BIGINT, dead_tuple_percent FLOAT, free_space BIGINT,
               free_percent FLOAT) AS $$
BEGIN
  RETURN QUERY(SELECT current_database(), * FROM pgstattuple($1));
END$$ LANGUAGE plpgsql SECURITY DEFINER`
		if _, err := db.ExecContext(ctx, funcSQL); err != nil {
			return fmt.Errorf("failed creating function %s: %w", pgstattupleFunc, err)
		}
	} else {
		log.Info(ctx, "pgstattuple function already exists")
	}

	var has bool
	err = db.QueryRowContext(ctx,
		"SELECT has_function_privilege($1, $2, 'execute')", user, pgstattupleFunc).Scan(&has)
	if err != nil {
		return fmt.Errorf("failed checking execute privilege: %w", err)
	}
	if has {
		log.Info(ctx, "role already has execute privilege", "role", user, "function", pgstattupleFunc)
		return nil
	}
	log.Info(ctx, "granting execute privilege", "role", user, "function", pgstattupleFunc)
	stmt := "GRANT EXECUTE ON FUNCTION " + pgstattupleFunc + " TO " + pq.QuoteIdentifier(user)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed granting execute on %s: %w", pgstattupleFunc, err)
	}
	return nil
}

func ensureIncomingReplicationView(ctx context.Context, log *logger.Logger, db *sql.DB, user string) error {
	versionNum, err := pgstats.VersionNum(ctx, db)
	if err != nil {
		return err
	}
	if versionNum < pgVersionWalReceiver {
		log.Info(ctx, "skipping incoming replication view, requires newer postgres",
			"required", pgVersionWalReceiver, "actual", versionNum)
		return nil
	}

	var name string
	err = db.QueryRowContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_name = $1",
		incomingReplicationView).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed checking incoming replication view: %w", err)
	}
	if err == sql.ErrNoRows {
		log.Info(ctx, "creating incoming replication status view", "view", incomingReplicationView)
		funcSQL := `CREATE OR REPLACE FUNCTION public.stat_incoming_replication()
RETURNS SETOF pg_catalog.pg_stat_wal_receiver AS $$
BEGIN
RETURN QUERY(SELECT * FROM pg_catalog.pg_stat_wal_receiver);
END$$ LANGUAGE plpgsql SECURITY DEFINER`
		if _, err := db.ExecContext(ctx, funcSQL); err != nil {
			return fmt.Errorf("failed creating stat_incoming_replication function: %w", err)
		}
		viewSQL := fmt.Sprintf("CREATE OR REPLACE VIEW public.%s AS SELECT * FROM %s()",
			incomingReplicationView, incomingReplicationView)
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("failed creating view %s: %w", incomingReplicationView, err)
		}
	} else {
		log.Info(ctx, "incoming replication status view already exists")
	}

	return ensureTableGrant(ctx, log, db, user, "public."+incomingReplicationView)
}

func ensureTableGrant(ctx context.Context, log *logger.Logger, db *sql.DB, user, relation string) error {
	var has bool
	err := db.QueryRowContext(ctx,
		"SELECT has_table_privilege($1, $2, 'select')", user, relation).Scan(&has)
	if err != nil {
		return fmt.Errorf("failed checking select privilege on %s: %w", relation, err)
	}
	if has {
		log.Info(ctx, "role already has select privilege", "role", user, "relation", relation)
		return nil
	}
	log.Info(ctx, "granting select privilege", "role", user, "relation", relation)
	stmt := "GRANT SELECT ON " + relation + " TO " + pq.QuoteIdentifier(user)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed granting select on %s: %w", relation, err)
	}
	return nil
}
