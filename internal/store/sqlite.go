package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "opsdispatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, path string) (Doc, error) {
	var raw string
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, updated_at FROM docs WHERE path = ?`, path,
	).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	return decodeDoc(path, raw, updated)
}

func (s *sqliteStore) Set(ctx context.Context, path string, data map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO docs(path, collection, leaf, data, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(path) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		path, collection, leaf, string(raw), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	// json_patch keeps unmentioned fields, matching merge semantics.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO docs(path, collection, leaf, data, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(path) DO UPDATE SET
		   data = json_patch(docs.data, excluded.data),
		   updated_at = excluded.updated_at`,
		path, collection, leaf, string(raw), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE path = ?`, path)
	return err
}

func (s *sqliteStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT path, data, updated_at FROM docs WHERE `)
	if q.Group {
		sb.WriteString(`leaf = ?`)
		args = append(args, q.Collection)
	} else {
		sb.WriteString(`collection = ?`)
		args = append(args, strings.Trim(q.Collection, "/"))
	}
	if q.Field != "" {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+q.Field, q.Equals)
	}
	if q.OrderBy != "" {
		sb.WriteString(` ORDER BY json_extract(data, ?)`)
		args = append(args, "$."+q.OrderBy)
	} else {
		sb.WriteString(` ORDER BY path`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var path, raw, updated string
		if err := rows.Scan(&path, &raw, &updated); err != nil {
			return nil, err
		}
		d, err := decodeDoc(path, raw, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func decodeDoc(path, raw, updated string) (Doc, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Doc{}, fmt.Errorf("store: corrupt document %q: %w", path, err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, updated)
	return Doc{Path: path, Data: data, UpdatedAt: ts}, nil
}
