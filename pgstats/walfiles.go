package pgstats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// each WAL file is named as a 24-character hexadecimal number
var walFileNameRe = regexp.MustCompile(`^[0-9A-F]{24}$`)

// WalFilesSource counts WAL segment files in the local data directory.
// Newer clusters keep them under pg_wal, pre-10 clusters under pg_xlog.
type WalFilesSource struct {
	DataDir string
}

func (s *WalFilesSource) Fetch(ctx context.Context) (any, error) {
	if s.DataDir == "" {
		return nil, fmt.Errorf("no data directory configured for WAL file counting")
	}

	walDir := filepath.Join(s.DataDir, "pg_wal")
	entries, err := os.ReadDir(walDir)
	if os.IsNotExist(err) {
		walDir = filepath.Join(s.DataDir, "pg_xlog")
		entries, err = os.ReadDir(walDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed accessing WAL files, is the data dir readable: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if walFileNameRe.MatchString(entry.Name()) {
			count++
		}
	}
	return Scalar{At: time.Now(), Value: float64(count)}, nil
}

// DataDirFor resolves the postgres data directory: the configured path
// when given, else the PGDATA environment variable, else the Debian
// default layout for the server version ("14", or "9.6" for pre-10).
func DataDirFor(configured, versionDir string) string {
	dataDir := configured
	if dataDir == "" {
		dataDir = os.Getenv("PGDATA")
	}
	if dataDir == "" && versionDir != "" {
		dataDir = fmt.Sprintf("/var/lib/postgresql/%s/main", versionDir)
	}
	if dataDir == "" {
		return ""
	}
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		return ""
	}
	return dataDir
}
