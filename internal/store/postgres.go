package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "opsdispatch/pkg/logx"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS docs (
    path       TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    leaf       TEXT NOT NULL,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docs_collection ON docs(collection);
CREATE INDEX IF NOT EXISTS idx_docs_leaf ON docs(leaf);
`

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, path string) (Doc, error) {
	var raw []byte
	var updated time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at FROM docs WHERE path = $1`, path,
	).Scan(&raw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Doc{}, err
	}
	return Doc{Path: path, Data: data, UpdatedAt: updated}, nil
}

func (s *pgStore) Set(ctx context.Context, path string, data map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO docs(path, collection, leaf, data, updated_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		path, collection, leaf, raw, time.Now(),
	)
	return err
}

func (s *pgStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	// JSONB || keeps unmentioned fields, matching merge semantics.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO docs(path, collection, leaf, data, updated_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (path) DO UPDATE SET
		   data = docs.data || EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at`,
		path, collection, leaf, raw, time.Now(),
	)
	return err
}

func (s *pgStore) Delete(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM docs WHERE path = $1`, path)
	return err
}

func (s *pgStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT path, data, updated_at FROM docs WHERE `)
	if q.Group {
		sb.WriteString(`leaf = $1`)
		args = append(args, q.Collection)
	} else {
		sb.WriteString(`collection = $1`)
		args = append(args, strings.Trim(q.Collection, "/"))
	}
	n := 2
	if q.Field != "" {
		sb.WriteString(` AND data->>$2 = $3`)
		args = append(args, q.Field, q.Equals)
		n = 4
	}
	if q.OrderBy != "" {
		sb.WriteString(` ORDER BY data->>$` + itoa(n))
		args = append(args, q.OrderBy)
		n++
	} else {
		sb.WriteString(` ORDER BY path`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT $` + itoa(n))
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var path string
		var raw []byte
		var updated time.Time
		if err := rows.Scan(&path, &raw, &updated); err != nil {
			return nil, err
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		out = append(out, Doc{Path: path, Data: data, UpdatedAt: updated})
	}
	return out, rows.Err()
}

func itoa(n int) string { return strconv.Itoa(n) }
