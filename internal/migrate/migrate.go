// Package migrate applies ordered SQL migration scripts to the application
// database. Scripts are not required to be idempotent: a ledger table records
// what has been applied and the runner only executes pending scripts.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	// postgres driver
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	gantryerrors "github.com/quayops/gantry/internal/errors"
)

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Result summarizes one migration run.
type Result struct {
	Applied int
	Skipped int
}

// Runner applies pending scripts in order, one transaction per script.
type Runner struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRunner(db *sql.DB, logger zerolog.Logger) *Runner {
	return &Runner{
		db:     db,
		logger: logger.With().Str("service", "migrate").Logger(),
	}
}

// Open connects to a postgres endpoint, typically the local end of an SSH
// tunnel. sslmode is disabled: the hop to the VPC is already encrypted and
// RDS certificates do not match the loopback address the tunnel exposes.
func Open(addr, user, password, dbname string) (*sql.DB, error) {
	dsn := DSN(addr, user, password, dbname)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// DSN builds a lib/pq connection string for the given endpoint.
func DSN(addr, user, password, dbname string) string {
	host, port := splitAddr(addr)
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// Apply executes every pending script in order. Already-applied scripts are
// skipped after a checksum check; a script that changed after being applied
// aborts the run.
func (r *Runner) Apply(ctx context.Context, scripts []Script) (*Result, error) {
	if len(scripts) == 0 {
		return nil, gantryerrors.ErrNoMigrations
	}

	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations ledger: %w", err)
	}

	applied, err := r.appliedChecksums(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := Plan(applied, scripts)
	if err != nil {
		return nil, err
	}

	result := &Result{Skipped: len(scripts) - len(pending)}

	for _, script := range pending {
		logger := r.logger.With().Str("migration", script.Name).Logger()
		logger.Info().Msg("applying migration")

		if err := r.applyOne(ctx, script); err != nil {
			return nil, fmt.Errorf("migration %s failed: %w", script.Name, err)
		}

		logger.Info().Msg("migration applied")
		result.Applied++
	}

	r.logger.Info().
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Msg("migrations complete")

	return result, nil
}

func (r *Runner) applyOne(ctx context.Context, script Script) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, script.SQL); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`,
		script.Name, script.Checksum,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func (r *Runner) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations ledger: %w", err)
	}
	defer rows.Close()

	applied := map[string]string{}
	for rows.Next() {
		var name, checksum string
		if err := rows.Scan(&name, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		applied[name] = checksum
	}

	return applied, rows.Err()
}

// Plan returns the scripts still to apply given the ledger state. A script
// whose recorded checksum differs from the one on disk is a hard error.
func Plan(applied map[string]string, scripts []Script) ([]Script, error) {
	var pending []Script
	for _, script := range scripts {
		checksum, ok := applied[script.Name]
		if !ok {
			pending = append(pending, script)
			continue
		}
		if checksum != script.Checksum {
			return nil, fmt.Errorf("%w: %s", gantryerrors.ErrChecksumMismatch, script.Name)
		}
	}
	return pending, nil
}

func splitAddr(addr string) (host, port string) {
	host, port = addr, "5432"
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return host, port
}
