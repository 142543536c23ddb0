package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"PPHub/module/message"

	_ "modernc.org/sqlite"
)

// SQLiteBackend 本地 FTS5；消息表与全文表按 rowid 关联
type SQLiteBackend struct {
	db    *sql.DB
	table string
	fts   string
}

func NewSQLite(path, table string) (*SQLiteBackend, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("sqlite", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, unavailable("sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db, table: table, fts: table + "_fts"}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, unavailable("sqlite", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL,
	metadata   TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	created_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_channel ON %[1]s(channel_id, created_ns);
CREATE VIRTUAL TABLE IF NOT EXISTS %[2]s USING fts5(content, metadata_text);`, b.table, b.fts))
	return err
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Index(ctx context.Context, m message.Message) error {
	d := toDoc(m)
	var meta sql.NullString
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return unavailable(b.Name(), err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(b.Name(), err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (id, channel_id, user_id, content, type, metadata, created_at, updated_at, created_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, b.table),
		d.ID, d.ChannelID, d.UserID, d.Content, d.Type, meta, d.CreatedAt, d.UpdatedAt, d.CreatedNs)
	if err != nil {
		return unavailable(b.Name(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // 已索引过
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return unavailable(b.Name(), err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (rowid, content, metadata_text) VALUES (?, ?, ?)`, b.fts),
		rowID, d.Content, d.MetadataText); err != nil {
		return unavailable(b.Name(), err)
	}
	return unavailable(b.Name(), tx.Commit())
}

// matchExpr 每个词加引号后 OR 连接
func matchExpr(toks []string) string {
	quoted := make([]string, len(toks))
	for i, t := range toks {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func (b *SQLiteBackend) Search(ctx context.Context, q Query) ([]message.Message, error) {
	toks := tokens(q.Term)
	if len(toks) == 0 {
		return []message.Message{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
SELECT m.id, m.channel_id, m.user_id, m.content, m.type, m.metadata, m.created_at, m.updated_at
FROM %[2]s f JOIN %[1]s m ON m.rowid = f.rowid
WHERE %[2]s MATCH ? AND (? = '' OR m.channel_id = ?)
ORDER BY m.created_ns DESC
LIMIT ?`, b.table, b.fts), matchExpr(toks), q.ChannelID, q.ChannelID, limit)
	if err != nil {
		return nil, unavailable(b.Name(), err)
	}
	defer rows.Close()

	out := make([]message.Message, 0)
	for rows.Next() {
		var (
			d    doc
			meta sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ChannelID, &d.UserID, &d.Content, &d.Type, &meta, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, unavailable(b.Name(), err)
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &d.Metadata)
		}
		m, err := d.message()
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(b.Name(), err)
	}
	return out, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return unavailable(b.Name(), b.db.PingContext(ctx))
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
