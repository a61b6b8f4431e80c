package pgstats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeWalDir(t *testing.T, name string, segments int) string {
	t.Helper()
	dataDir := t.TempDir()
	walDir := filepath.Join(dataDir, name)
	require.NoError(t, os.Mkdir(walDir, 0o755))
	for i := 0; i < segments; i++ {
		segment := filepath.Join(walDir, "0000000100000000000000"+string(rune('A'+i))+"1")
		require.NoError(t, os.WriteFile(segment, nil, 0o644))
	}
	// non-segment entries must not be counted
	require.NoError(t, os.WriteFile(filepath.Join(walDir, "archive_status"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(walDir, "000000010000000000000001.backup"), nil, 0o644))
	return dataDir
}

func TestWalFilesSourceCountsSegments(t *testing.T) {
	source := &WalFilesSource{DataDir: makeWalDir(t, "pg_wal", 3)}

	raw, err := source.Fetch(context.Background())
	require.NoError(t, err)
	scalar, ok := raw.(Scalar)
	require.True(t, ok)
	assert.Equal(t, 3.0, scalar.Value)
	assert.False(t, scalar.At.IsZero())
}

func TestWalFilesSourceFallsBackToPgXlog(t *testing.T) {
	source := &WalFilesSource{DataDir: makeWalDir(t, "pg_xlog", 2)}

	raw, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, raw.(Scalar).Value)
}

func TestWalFilesSourceWithoutDataDir(t *testing.T) {
	source := &WalFilesSource{}
	_, err := source.Fetch(context.Background())
	require.Error(t, err)
}

func TestWalFilesSourceUnreadableDataDir(t *testing.T) {
	source := &WalFilesSource{DataDir: filepath.Join(t.TempDir(), "gone")}
	_, err := source.Fetch(context.Background())
	require.Error(t, err)
}

func TestDataDirForPrefersConfiguredPath(t *testing.T) {
	configured := t.TempDir()
	t.Setenv("PGDATA", t.TempDir())
	assert.Equal(t, configured, DataDirFor(configured, "14"))
}

func TestDataDirForFallsBackToPgdataEnv(t *testing.T) {
	fromEnv := t.TempDir()
	t.Setenv("PGDATA", fromEnv)
	assert.Equal(t, fromEnv, DataDirFor("", "14"))
}

func TestDataDirForRejectsMissingDirectory(t *testing.T) {
	t.Setenv("PGDATA", "")
	assert.Empty(t, DataDirFor(filepath.Join(t.TempDir(), "gone"), "14"))
}

func TestHostFromConninfo(t *testing.T) {
	assert.Equal(t, "10.0.0.1",
		hostFromConninfo("user=replicator host=10.0.0.1 port=5432 sslmode=prefer"))
	assert.Equal(t, "primary.example.com",
		hostFromConninfo("host=primary.example.com port=5432"))
	assert.Equal(t, "UNKNOWN", hostFromConninfo("port=5432 user=replicator"))
}
