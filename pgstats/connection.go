package pgstats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ConnectionParams defines parameters required for a database connection.
type ConnectionParams struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	DbName                string
	SslMode               string
	ConnectTimeout        time.Duration
	MaxOpenConnections    int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
	ConnectionMaxIdleTime time.Duration
}

// Connect opens a pooled connection to a single database and verifies
// it with a ping, so a bad address or credentials surface at startup.
func Connect(ctx context.Context, params ConnectionParams) (*sql.DB, error) {
	connectTimeout := params.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	connectionString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		params.Host, params.Port, params.User,
		params.Password, params.DbName, params.SslMode,
		int(connectTimeout.Seconds()))

	connection, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", params.DbName, err)
	}

	if params.MaxOpenConnections > 0 {
		connection.SetMaxOpenConns(params.MaxOpenConnections)
	}
	if params.MaxIdleConnections > 0 {
		connection.SetMaxIdleConns(params.MaxIdleConnections)
	}
	connection.SetConnMaxLifetime(params.ConnectionMaxLifetime)
	connection.SetConnMaxIdleTime(params.ConnectionMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := connection.PingContext(pingCtx); err != nil {
		connection.Close()
		return nil, fmt.Errorf("failed to connect to database '%s': %w", params.DbName, err)
	}

	return connection, nil
}

// VersionNum returns the numeric server version (e.g. 140005).
func VersionNum(ctx context.Context, db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("failed to read server version: %w", err)
	}
	var num int
	if _, err := fmt.Sscanf(versionStr, "%d", &num); err != nil {
		return 0, fmt.Errorf("unexpected server_version_num '%s': %w", versionStr, err)
	}
	return num, nil
}

// IsInRecovery reports whether the server is a streaming replica.
func IsInRecovery(ctx context.Context, db *sql.DB) (bool, error) {
	var inRecovery bool
	err := db.QueryRowContext(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery)
	return inRecovery, err
}
