package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"PPHub/module/message"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend tsvector 生成列 + GIN 索引
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string

	mu       sync.Mutex
	migrated bool
}

// NewPostgres 建池不连库；表结构在第一次使用时创建
func NewPostgres(ctx context.Context, dsn string, maxConns int32, table string) (*PostgresBackend, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, unavailable("postgres", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable("postgres", err)
	}
	return &PostgresBackend{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) migrate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.migrated {
		return nil
	}
	bare := strings.Trim(b.table, `"`)
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	channel_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	type          TEXT NOT NULL,
	metadata      JSONB,
	metadata_text TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	created_ns    BIGINT NOT NULL,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', content || ' ' || metadata_text)) STORED
);
CREATE INDEX IF NOT EXISTS "%[2]s_tsv_idx" ON %[1]s USING GIN (tsv);
CREATE INDEX IF NOT EXISTS "%[2]s_channel_idx" ON %[1]s (channel_id, created_ns DESC);`, b.table, bare)
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return err
	}
	b.migrated = true
	return nil
}

func (b *PostgresBackend) Index(ctx context.Context, m message.Message) error {
	if err := b.migrate(ctx); err != nil {
		return unavailable(b.Name(), err)
	}
	d := toDoc(m)
	var meta []byte
	if len(m.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(m.Metadata); err != nil {
			return unavailable(b.Name(), err)
		}
	}
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, channel_id, user_id, content, type, metadata, metadata_text, created_at, updated_at, created_ns)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`, b.table),
		d.ID, d.ChannelID, d.UserID, d.Content, d.Type, meta, d.MetadataText,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(), d.CreatedNs)
	return unavailable(b.Name(), err)
}

func (b *PostgresBackend) Search(ctx context.Context, q Query) ([]message.Message, error) {
	toks := tokens(q.Term)
	if len(toks) == 0 {
		return []message.Message{}, nil
	}
	if err := b.migrate(ctx); err != nil {
		return nil, unavailable(b.Name(), err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sql := fmt.Sprintf(`
SELECT id, channel_id, user_id, content, type, metadata, created_at, updated_at
FROM %s
WHERE tsv @@ to_tsquery('simple', $1) AND ($2 = '' OR channel_id = $2)
ORDER BY created_ns DESC
LIMIT $3`, b.table)
	rows, err := b.pool.Query(ctx, sql, strings.Join(toks, " | "), q.ChannelID, limit)
	if err != nil {
		return nil, unavailable(b.Name(), err)
	}
	defer rows.Close()

	out := make([]message.Message, 0)
	for rows.Next() {
		var (
			m    message.Message
			meta []byte
			c, u time.Time
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.Type, &meta, &c, &u); err != nil {
			return nil, unavailable(b.Name(), err)
		}
		m.CreatedAt, m.UpdatedAt = c, u
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(b.Name(), err)
	}
	return out, nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return unavailable(b.Name(), b.pool.Ping(ctx))
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
