// Package core exposes the transactional repositories for products, batches,
// stores and categories, together with storage driver selection, default
// rules and observability recorders.
package core

import (
	"fmt"
	"os"

	"expirycore/internal/infra/persistence/memory"
	"expirycore/internal/infra/persistence/postgres"
	"expirycore/internal/infra/persistence/sqlite"
	"expirycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	EXPIRYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	EXPIRYCORE_SQLITE_PATH: path to sqlite file (default ./expirycore.db)
//	EXPIRYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("EXPIRYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("EXPIRYCORE_SQLITE_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("EXPIRYCORE_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
