// Package postgres provides a PostgreSQL snapshot sink for the chatmem core.
package postgres

// Schema contains the SQL statements to create the snapshot tables.
// Session transcripts are stored as a JSONB array in append order.
const Schema = `
CREATE TABLE IF NOT EXISTS chatmem_identities (
    id TEXT PRIMARY KEY,
    display_label TEXT NOT NULL,
    kind TEXT NOT NULL,
    email TEXT,
    avatar_url TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    established_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS chatmem_sessions (
    identity_id TEXT NOT NULL,
    id TEXT NOT NULL,
    title TEXT NOT NULL,
    position INTEGER NOT NULL,
    messages JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (identity_id, id)
);

CREATE TABLE IF NOT EXISTS chatmem_memories (
    identity_id TEXT NOT NULL,
    id TEXT NOT NULL,
    content TEXT NOT NULL,
    source TEXT NOT NULL,
    position INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (identity_id, id)
);

CREATE INDEX IF NOT EXISTS idx_chatmem_sessions_identity ON chatmem_sessions(identity_id, position);
CREATE INDEX IF NOT EXISTS idx_chatmem_memories_identity ON chatmem_memories(identity_id, position);
`
