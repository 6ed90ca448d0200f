// Package sqlite stores the callback audit log in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/audit"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS callback_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    gateway      TEXT NOT NULL,
    channel      TEXT NOT NULL,
    order_ref    TEXT NOT NULL DEFAULT '',
    gateway_ref  TEXT NOT NULL DEFAULT '',
    result_code  TEXT NOT NULL DEFAULT '',
    verdict      TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    raw          TEXT,
    received_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_callback_log_order_ref ON callback_log(order_ref, received_at);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
//
//	repo, err := sqlite.Open("./data/callbacks.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// satu writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Save(ctx context.Context, e *audit.Entry) error {
	const q = `
		INSERT INTO callback_log
			(gateway, channel, order_ref, gateway_ref, result_code, verdict, reason, raw, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	at := e.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	var raw any
	if e.Raw != "" {
		raw = e.Raw
	}
	_, err := r.db.ExecContext(ctx, q,
		e.Gateway, e.Channel, e.OrderRef, e.GatewayRef, e.ResultCode,
		string(e.Verdict), e.Reason, raw, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save callback for %q: %w", e.OrderRef, err)
	}
	return nil
}

// ByOrderRef returns the entries for one payment attempt, oldest first.
func (r *Repository) ByOrderRef(ctx context.Context, orderRef string) ([]audit.Entry, error) {
	const q = `
		SELECT gateway, channel, order_ref, gateway_ref, result_code, verdict, reason,
		       COALESCE(raw, ''), received_at
		FROM   callback_log
		WHERE  order_ref = ?
		ORDER  BY received_at, id`

	rows, err := r.db.QueryContext(ctx, q, orderRef)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list callbacks for %q: %w", orderRef, err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var verdict, at string
		if err := rows.Scan(&e.Gateway, &e.Channel, &e.OrderRef, &e.GatewayRef, &e.ResultCode,
			&verdict, &e.Reason, &e.Raw, &at); err != nil {
			return nil, err
		}
		e.Verdict = audit.Verdict(verdict)
		if e.ReceivedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
