package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Runtime owns the DBOS context, the resize queue and a plain SQL pool used
// for status lookups and the submission ledger.
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime creates the DBOS context and queue. Nothing runs until Launch.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	cfg.WithDefaults()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create DBOS context: %w", err)
	}

	r := &Runtime{
		dbosContext: dbosCtx,
		queue:       dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName),
		config:      cfg,
		db:          db,
	}

	log.Info().
		Str("app", cfg.AppName).
		Str("queue", cfg.QueueName).
		Int("concurrency", cfg.Concurrency).
		Bool("client_only", cfg.ClientOnly).
		Msg("DBOS runtime created")
	return r, nil
}

// Launch starts DBOS. Workflows must be registered first.
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return fmt.Errorf("launch DBOS: %w", err)
	}
	return nil
}

// Shutdown stops DBOS, waiting up to timeout, then closes the SQL pool.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping checks the system database.
func (r *Runtime) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("system database unreachable: %w", err)
	}
	return nil
}

func (r *Runtime) Context() dbos.DBOSContext { return r.dbosContext }

func (r *Runtime) DB() *sql.DB { return r.db }

func (r *Runtime) QueueName() string { return r.config.QueueName }

// Concurrency is the configured number of concurrent resize workflows.
func (r *Runtime) Concurrency() int { return r.config.Concurrency }
