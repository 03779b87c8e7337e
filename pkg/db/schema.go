package db

// Schema defines the SQLite schema for the upgrade audit trail: the latest
// state per host, the append-only trail of state snapshots, and one record
// per fleet run.
const Schema = `
CREATE TABLE IF NOT EXISTS host_state (
    host TEXT PRIMARY KEY,
    inventory TEXT NOT NULL,
    state TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS host_state_trail (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    host TEXT NOT NULL,
    inventory TEXT NOT NULL,
    state TEXT NOT NULL,
    recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trail_host ON host_state_trail(host);
CREATE INDEX IF NOT EXISTS idx_trail_recorded_at ON host_state_trail(recorded_at);

CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    inventory TEXT NOT NULL,
    workflow TEXT NOT NULL,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    hosts_total INTEGER NOT NULL DEFAULT 0,
    hosts_failed INTEGER NOT NULL DEFAULT 0
);
`

// Run is one fleet run record.
type Run struct {
	ID          int64
	Inventory   string
	Workflow    string
	StartedAt   string
	FinishedAt  string
	HostsTotal  int
	HostsFailed int
}

// TrailEntry is one state snapshot from the audit trail.
type TrailEntry struct {
	Host       string
	Inventory  string
	State      string
	RecordedAt string
}
