package gatherer

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgmetrics/config"
)

func testPool(t *testing.T) *sql.DB {
	t.Helper()
	// sql.Open never dials; a pool handle is enough for binding tasks
	pool, err := sql.Open("postgres", "host=127.0.0.1 dbname=test sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func interval(d time.Duration) config.Duration {
	return config.Duration{Duration: d}
}

func testDeps(t *testing.T, databases ...string) Deps {
	pools := make(map[string]*sql.DB, len(databases))
	for _, database := range databases {
		pools[database] = testPool(t)
	}
	return Deps{
		Host:              "db-1",
		DataDir:           "/var/lib/postgresql/14/main",
		QueryTimeout:      10 * time.Second,
		DatabasePools:     pools,
		Databases:         databases,
		ClusterDB:         pools[databases[0]],
		ClusterVersionNum: 140005,
	}
}

func TestBuildExpandsPerDatabaseTasks(t *testing.T) {
	cfg := &config.Config{
		DatabaseTasks: []config.TaskConfig{
			{Name: "client_connections", Interval: interval(60 * time.Second)},
			{Name: "transaction_rate", Interval: interval(30 * time.Second)},
		},
		ClusterTasks: []config.TaskConfig{
			{Name: "locks", Interval: interval(60 * time.Second)},
		},
	}

	tasks, err := Build(cfg, testDeps(t, "orders", "billing"))
	require.NoError(t, err)
	require.Len(t, tasks, 5, "1 cluster task + 2 database tasks x 2 databases")

	assert.Equal(t, "locks", tasks[0].Name)
	assert.Equal(t, Cluster, tasks[0].Scope)
	assert.Empty(t, tasks[0].Database)
	assert.Empty(t, tasks[0].Meta.Database)

	expected := []struct {
		name     string
		database string
	}{
		{"client_connections", "orders"},
		{"transaction_rate", "orders"},
		{"client_connections", "billing"},
		{"transaction_rate", "billing"},
	}
	for i, want := range expected {
		task := tasks[i+1]
		assert.Equal(t, want.name, task.Name)
		assert.Equal(t, PerDatabase, task.Scope)
		assert.Equal(t, want.database, task.Database)
		assert.Equal(t, want.database, task.Meta.Database)
		assert.Equal(t, "db-1", task.Meta.Host)
		assert.NotNil(t, task.Source)
		assert.NotNil(t, task.Format)
	}
	assert.Equal(t, 30*time.Second, tasks[2].Interval)
}

func TestBuildAllDefaultTaskNamesResolve(t *testing.T) {
	cfg := &config.Config{}
	for name := range databaseBuilders {
		cfg.DatabaseTasks = append(cfg.DatabaseTasks, config.TaskConfig{
			Name: name, Interval: interval(time.Minute),
		})
	}
	for name := range clusterBuilders {
		cfg.ClusterTasks = append(cfg.ClusterTasks, config.TaskConfig{
			Name: name, Interval: interval(time.Minute),
		})
	}

	tasks, err := Build(cfg, testDeps(t, "orders"))
	require.NoError(t, err)
	assert.Len(t, tasks, len(databaseBuilders)+len(clusterBuilders))
}

func TestBuildRejectsUnknownDatabaseTask(t *testing.T) {
	cfg := &config.Config{
		DatabaseTasks: []config.TaskConfig{
			{Name: "number_of_beers", Interval: interval(time.Minute)},
		},
	}

	_, err := Build(cfg, testDeps(t, "orders"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number_of_beers")
}

func TestBuildRejectsUnknownClusterTask(t *testing.T) {
	cfg := &config.Config{
		ClusterTasks: []config.TaskConfig{
			{Name: "vacuum_the_office", Interval: interval(time.Minute)},
		},
	}

	_, err := Build(cfg, testDeps(t, "orders"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vacuum_the_office")
}

func TestBuildRejectsMissingPool(t *testing.T) {
	cfg := &config.Config{
		DatabaseTasks: []config.TaskConfig{
			{Name: "client_connections", Interval: interval(time.Minute)},
		},
	}
	deps := testDeps(t, "orders")
	deps.Databases = append(deps.Databases, "ghost")

	_, err := Build(cfg, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
