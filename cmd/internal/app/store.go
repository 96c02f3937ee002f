package app

import (
	"context"
	"fmt"

	"gatekeeper/cmd/identity"
	authapi "gatekeeper/cmd/internal/auth/api"

	"github.com/jackc/pgx/v5/pgxpool"
)

// storeHandle owns the selected identity backend and anything it depends on.
type storeHandle struct {
	identity.Store

	backend string
	audit   authapi.AuditRecorder // nil unless the backend persists audit entries
	pool    *pgxpool.Pool
}

// Close closes the store, then the pool it borrows.
func (h storeHandle) Close(ctx context.Context) error {
	err := h.Store.Close(ctx)
	if h.pool != nil {
		h.pool.Close()
	}
	return err
}

// openStore selects the backend named by cfg.StoreBackend.
// With no explicit choice and no database URL the process runs on the
// in-memory store, which loses every account on restart.
func openStore(ctx context.Context, cfg Config, log Logger) (storeHandle, error) {
	backend := cfg.StoreBackend()

	switch backend {
	case StoreMemory:
		log.Warn("store.memory", "note", "accounts are not persisted")
		return storeHandle{Store: identity.NewMemoryStore(), backend: backend}, nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return storeHandle{}, err
		}
		st, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return storeHandle{}, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return storeHandle{}, err
		}
		if err := st.EnsureAuditSchema(ctx); err != nil {
			pool.Close()
			return storeHandle{}, err
		}
		log.Info("store.postgres", "schema", cfg.DBSchema)
		return storeHandle{Store: st, backend: backend, audit: st, pool: pool}, nil

	case StoreSQLite:
		st, err := identity.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return storeHandle{}, err
		}
		log.Info("store.sqlite", "path", cfg.SQLitePath)
		return storeHandle{Store: st, backend: backend}, nil

	case StoreMongo:
		st, err := identity.OpenMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return storeHandle{}, err
		}
		log.Info("store.mongo", "database", cfg.MongoDatabase)
		return storeHandle{Store: st, backend: backend}, nil

	case StoreBolt:
		st, err := identity.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return storeHandle{}, err
		}
		log.Info("store.bolt", "path", cfg.BoltPath)
		return storeHandle{Store: st, backend: backend}, nil

	default:
		return storeHandle{}, fmt.Errorf("app: unknown store %q", backend)
	}
}
