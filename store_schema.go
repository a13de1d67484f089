package main

// appSchema creates the message ledger. One row per message hash; upserts
// keep the latest network-reported snapshot of each message.
const appSchema = `
CREATE TABLE IF NOT EXISTS lxmf_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash TEXT NOT NULL UNIQUE,
    source_hash TEXT NOT NULL DEFAULT '',
    destination_hash TEXT NOT NULL DEFAULT '',
    is_incoming INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'unknown',
    progress REAL NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    fields TEXT NOT NULL DEFAULT '{}',
    timestamp REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_lxmf_messages_conversation
    ON lxmf_messages(source_hash, destination_hash, id);
`
