// Package sqlite provides a SQLite snapshot sink for the chatmem core.
package sqlite

// Schema creates the snapshot tables. position columns preserve the list
// order of sessions, messages, and memories so ties restore correctly.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
    id TEXT PRIMARY KEY,
    display_label TEXT NOT NULL,
    kind TEXT NOT NULL,
    email TEXT,
    avatar_url TEXT,
    created_at TEXT NOT NULL,
    established_at TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
    identity_id TEXT NOT NULL,
    id TEXT NOT NULL,
    title TEXT NOT NULL,
    position INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (identity_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
    identity_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (identity_id, session_id, position),
    FOREIGN KEY (identity_id, session_id) REFERENCES sessions(identity_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memories (
    identity_id TEXT NOT NULL,
    id TEXT NOT NULL,
    content TEXT NOT NULL,
    source TEXT NOT NULL,
    position INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (identity_id, id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity_id, position);
CREATE INDEX IF NOT EXISTS idx_memories_identity ON memories(identity_id, position);

-- Settings table: key/value pairs that survive restarts (system prompt).
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
