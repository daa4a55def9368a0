package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/warden/pkg/config"
)

// Backend is a Store that can also load records verbatim. Every backend in
// this package is one.
type Backend interface {
	Store
	Importer
}

var (
	_ Backend = (*BoltStore)(nil)
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*EtcdStore)(nil)
)

// Open opens the backend selected by cfg.Backend
func Open(cfg config.StorageConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return NewBoltStore(cfg.DataDir)
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "warden.sqlite")
		}
		return NewSQLiteStore(path)
	case "etcd":
		return NewEtcdStore(cfg.Etcd.Endpoints, cfg.Etcd.Prefix, cfg.Etcd.DialTimeout)
	}
	return nil, fmt.Errorf("unsupported storage backend: %s (supported: bolt, sqlite, etcd)", cfg.Backend)
}
