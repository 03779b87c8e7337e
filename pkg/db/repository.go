// Package db persists per-host upgrade state in SQLite. Every state write
// updates the host's latest snapshot and appends to an audit trail, so a
// later process can resume where a run left off and an operator can see
// what happened when.
package db

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

// Repository provides database operations for host state and run records.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database and creates the schema.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveState stores a host's current state snapshot and appends it to the
// audit trail.
func (r *Repository) SaveState(h *hoststate.Host, inventoryName string) error {
	state, err := json.Marshal(h.State)
	if err != nil {
		return errors.Wrap(err, "marshal host state")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO host_state (host, inventory, state, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(host) DO UPDATE SET
		    inventory = excluded.inventory,
		    state = excluded.state,
		    updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.Exec(upsert, h.Name, inventoryName, string(state)); err != nil {
		slog.Error("database_state_upsert_failed", "host", h.Name, "error", err)
		return errors.Wrap(err, "failed to upsert host state")
	}

	trail := `INSERT INTO host_state_trail (host, inventory, state) VALUES (?, ?, ?)`
	if _, err := tx.Exec(trail, h.Name, inventoryName, string(state)); err != nil {
		slog.Error("database_trail_insert_failed", "host", h.Name, "error", err)
		return errors.Wrap(err, "failed to append state trail")
	}

	return errors.Wrap(tx.Commit(), "commit state write")
}

// LoadState restores a host's latest saved state. The second return is
// false when the host has no saved state yet.
func (r *Repository) LoadState(hostName string) (hoststate.State, bool, error) {
	var state hoststate.State
	var raw string

	query := `SELECT state FROM host_state WHERE host = ?`
	err := r.db.QueryRow(query, hostName).Scan(&raw)
	if err == sql.ErrNoRows {
		return state, false, nil
	}
	if err != nil {
		slog.Error("database_state_query_failed", "host", hostName, "error", err)
		return state, false, errors.Wrap(err, "failed to query host state")
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return state, false, errors.Wrap(err, "parse host state")
	}
	return state, true, nil
}

// RestoreStates loads saved state into every host that has one, so a new
// process picks up where the previous run stopped.
func (r *Repository) RestoreStates(hosts []*hoststate.Host) error {
	restored := 0
	for _, h := range hosts {
		state, found, err := r.LoadState(h.Name)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		// The target image descriptor comes from the inventory, not from
		// the previous run.
		state.PrimaryImage = h.State.PrimaryImage
		state.PrimaryImageMD5 = h.State.PrimaryImageMD5
		state.PrimaryImageSize = h.State.PrimaryImageSize
		h.State = state
		restored++
	}
	slog.Info("database_states_restored", "host_count", restored)
	return nil
}

// Trail returns the audit trail for one host, oldest first.
func (r *Repository) Trail(hostName string) ([]TrailEntry, error) {
	query := `
		SELECT host, inventory, state, recorded_at
		FROM host_state_trail WHERE host = ? ORDER BY id
	`
	rows, err := r.db.Query(query, hostName)
	if err != nil {
		slog.Error("database_trail_query_failed", "host", hostName, "error", err)
		return nil, errors.Wrap(err, "failed to query state trail")
	}
	defer rows.Close()

	var entries []TrailEntry
	for rows.Next() {
		var e TrailEntry
		if err := rows.Scan(&e.Host, &e.Inventory, &e.State, &e.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan trail row")
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "trail rows")
}

// StartRun records the beginning of a fleet run and returns its id.
func (r *Repository) StartRun(inventoryName, workflow string, hostsTotal int) (int64, error) {
	slog.Info("database_run_start", "inventory", inventoryName, "workflow", workflow, "hosts_total", hostsTotal)

	query := `INSERT INTO runs (inventory, workflow, hosts_total) VALUES (?, ?, ?)`
	result, err := r.db.Exec(query, inventoryName, workflow, hostsTotal)
	if err != nil {
		slog.Error("database_run_insert_failed", "inventory", inventoryName, "error", err)
		return 0, errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get run id")
	}
	return id, nil
}

// FinishRun stamps a run as finished and records the failure count.
func (r *Repository) FinishRun(id int64, hostsFailed int) error {
	slog.Info("database_run_finish", "run_id", id, "hosts_failed", hostsFailed)

	query := `UPDATE runs SET finished_at = CURRENT_TIMESTAMP, hosts_failed = ? WHERE id = ?`
	_, err := r.db.Exec(query, hostsFailed, id)
	if err != nil {
		slog.Error("database_run_update_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to finish run")
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (r *Repository) ListRuns() ([]*Run, error) {
	query := `
		SELECT id, inventory, workflow, started_at,
		       COALESCE(finished_at, ''), hosts_total, hosts_failed
		FROM runs ORDER BY id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_runs_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		err := rows.Scan(&run.ID, &run.Inventory, &run.Workflow,
			&run.StartedAt, &run.FinishedAt, &run.HostsTotal, &run.HostsFailed)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run row")
		}
		runs = append(runs, &run)
	}
	return runs, errors.Wrap(rows.Err(), "run rows")
}
