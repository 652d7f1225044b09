// Package sqlite は modernc.org/sqlite の JSON1 関数でドキュメントストアを実装します。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sat8bit/tavern/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	CONSTRAINT uq_document UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
`

type Client struct {
	db *sql.DB
}

// Open は dsn（sqlite://path または sqlite://:memory:）のデータベースを開き、スキーマを用意します。
func Open(ctx context.Context, dsn string) (*Client, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		return nil, errors.New("empty sqlite DSN")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	// :memory: は接続ごとに別のデータベースになるので 1 本に固定する
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging sqlite")
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "setting pragma %q", pragma)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating documents table")
	}

	return &Client{db: db}, nil
}

func (c *Client) Insert(ctx context.Context, collection string, doc store.Document) (string, error) {
	ids, err := c.InsertMany(ctx, collection, []store.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (c *Client) InsertMany(ctx context.Context, collection string, docs []store.Document) ([]string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning insert transaction")
	}
	defer tx.Rollback()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = store.NewID()
		raw, err := store.EncodeDocument(doc, ids[i])
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
			collection, ids[i], string(raw),
		); err != nil {
			return nil, errors.Wrapf(err, "inserting into %s", collection)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing insert transaction")
	}
	return ids, nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var body string
	err := c.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s/%s", collection, id)
	}
	return store.DecodeDocument([]byte(body))
}

func (c *Client) Set(ctx context.Context, collection, id, field string, value any) error {
	path, raw, err := writeArgs(field, value)
	if err != nil {
		return err
	}
	return c.update(ctx, collection, id,
		`UPDATE documents SET body = json_set(body, ?, json(?)) WHERE collection = ? AND id = ?`,
		path, raw, collection, id,
	)
}

func (c *Client) Push(ctx context.Context, collection, id, field string, value any) error {
	path, raw, err := writeArgs(field, value)
	if err != nil {
		return err
	}
	return c.update(ctx, collection, id, `
UPDATE documents
SET body = json_set(body, ?1, json_insert(
	CASE WHEN json_type(body, ?1) = 'array' THEN json_extract(body, ?1) ELSE json('[]') END,
	'$[#]', json(?2)))
WHERE collection = ?3 AND id = ?4`,
		path, raw, collection, id,
	)
}

func (c *Client) update(ctx context.Context, collection, id, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "updating %s/%s", collection, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return errors.Wrapf(store.ErrNotFound, "%s/%s", collection, id)
	}
	return nil
}

func (c *Client) Scan(ctx context.Context, collection, field string) ([]store.Document, error) {
	path, err := store.FieldPath(field)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, `
SELECT body FROM documents
WHERE collection = ? AND COALESCE(json_type(body, ?), 'null') != 'null'
ORDER BY seq`,
		collection, path,
	)
}

func (c *Client) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	path, err := store.FieldPath(field)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, `
SELECT body FROM documents
WHERE collection = ?1 AND json_type(body, ?2) = 'text' AND json_extract(body, ?2) = ?3
ORDER BY seq`,
		collection, path, value,
	)
}

func (c *Client) query(ctx context.Context, query string, args ...any) ([]store.Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	defer rows.Close()

	out := make([]store.Document, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrap(err, "scanning document")
		}
		doc, err := store.DecodeDocument([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, errors.Wrap(rows.Err(), "iterating documents")
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close()
}

func writeArgs(field string, value any) (string, string, error) {
	if err := store.ValidateField(field); err != nil {
		return "", "", err
	}
	path, _ := store.FieldPath(field)
	raw, err := json.Marshal(value)
	if err != nil {
		return "", "", errors.Wrapf(err, "encoding value for %s", field)
	}
	return path, string(raw), nil
}

var _ store.Store = (*Client)(nil)
