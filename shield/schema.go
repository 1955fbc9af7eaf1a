package shield

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/coverbridge/dbopen"
)

// Schema creates the rate_rules table and seeds the routes that touch
// credentials or fan out to Feishu. A rule admits burst requests per client,
// refilled evenly over per_seconds. Existing rows are left alone so operators
// can tune them in place.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_rules (
    route       TEXT PRIMARY KEY,
    burst       INTEGER NOT NULL CHECK (burst > 0),
    per_seconds INTEGER NOT NULL CHECK (per_seconds > 0),
    enabled     INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_rules (route, burst, per_seconds) VALUES
    ('POST /api/auth/login', 10, 60),
    ('POST /api/feishu-config/test', 20, 60),
    ('POST /api/feishu/upload-images', 30, 60),
    ('POST /api/import', 6, 60),
    ('GET /api/export', 12, 60);
`

// SetRule inserts or replaces the rule for route ("METHOD /path").
func SetRule(ctx context.Context, db *sql.DB, route string, r Rule) error {
	_, err := dbopen.Exec(ctx, db,
		`INSERT INTO rate_rules (route, burst, per_seconds, enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT(route) DO UPDATE SET burst = excluded.burst,
			per_seconds = excluded.per_seconds, enabled = excluded.enabled`,
		route, r.Burst, int(r.Per.Seconds()), r.Enabled)
	return err
}

// ApplyRules writes every rule through SetRule. Routes not named keep their
// current row.
func ApplyRules(ctx context.Context, db *sql.DB, rules map[string]Rule) error {
	for route, r := range rules {
		if err := SetRule(ctx, db, route, r); err != nil {
			return fmt.Errorf("shield: rule %s: %w", route, err)
		}
	}
	return nil
}
