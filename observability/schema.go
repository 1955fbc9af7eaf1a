package observability

// Schema creates the bridge_events table. Timestamps are Unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS bridge_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL CHECK (success IN (0, 1)),
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bridge_events_user ON bridge_events(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_bridge_events_age ON bridge_events(created_at);
`
