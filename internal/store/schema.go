package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    display_name TEXT,
    requested_version TEXT,
    actual_version TEXT,
    status TEXT NOT NULL,
    message TEXT,
    remote_id TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    tracking_id TEXT NOT NULL,
    remote_id TEXT NOT NULL,
    version TEXT NOT NULL,
    filename TEXT,
    size_bytes INTEGER,
    uploaded_at TIMESTAMP NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_uploads_tracking ON uploads(tracking_id);
`
