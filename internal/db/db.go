package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	stateDirName = ".workchain"
	databaseName = "workchain.db"
)

type Config struct {
	Workspace string
}

// StateDir returns the hidden per-workspace state directory.
func StateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDirName)
}

// Path returns the database file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(StateDir(workspace), databaseName)
}

// EnsureWorkspace creates the state directory if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := StateDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// Open initializes the workspace database. Foreign keys are enforced and a
// busy timeout keeps a CLI and a server sharing the workspace from failing
// fast on the write lock.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	file := Path(cfg.Workspace)
	conn, err := sql.Open("sqlite", dsn(file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return conn, nil
}

func dsn(file string) string {
	opts := strings.Join([]string{
		"cache=shared",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}, "&")
	return "file:" + file + "?" + opts
}
