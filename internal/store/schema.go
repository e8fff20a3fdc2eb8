package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    mode TEXT NOT NULL,
    any_updated BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    package TEXT NOT NULL,
    index_name TEXT NOT NULL,
    formula_path TEXT NOT NULL,
    current_version TEXT,
    latest_version TEXT,
    outcome TEXT NOT NULL,
    source_url TEXT,
    sha256 TEXT,
    error TEXT,
    checked_at TIMESTAMP NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_checks_package ON checks(package);
CREATE INDEX IF NOT EXISTS idx_checks_run ON checks(run_id);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks(checked_at);
`
