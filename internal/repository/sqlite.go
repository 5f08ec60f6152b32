package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/payguard/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied on every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN prepares the database directory and returns a modernc DSN.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	path := orDefault(cfg.SQLitePath, "./payguard.db")

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&"), nil
}
