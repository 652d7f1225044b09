// Package postgres は pgx と jsonb でドキュメントストアを実装します。
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/sat8bit/tavern/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    body       JSONB NOT NULL,
    CONSTRAINT uq_document UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
`

type Client struct {
	pool *pgxpool.Pool
}

// Open はコネクションプールを作成し、スキーマを用意します。
func Open(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "creating documents table")
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Insert(ctx context.Context, collection string, doc store.Document) (string, error) {
	ids, err := c.InsertMany(ctx, collection, []store.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (c *Client) InsertMany(ctx context.Context, collection string, docs []store.Document) ([]string, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "beginning insert transaction")
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = store.NewID()
		raw, err := store.EncodeDocument(doc, ids[i])
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`,
			collection, ids[i], string(raw),
		); err != nil {
			return nil, errors.Wrapf(err, "inserting into %s", collection)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing insert transaction")
	}
	return ids, nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var body string
	err := c.pool.QueryRow(ctx,
		`SELECT body::text FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s/%s", collection, id)
	}
	return store.DecodeDocument([]byte(body))
}

func (c *Client) Set(ctx context.Context, collection, id, field string, value any) error {
	raw, err := writeValue(field, value)
	if err != nil {
		return err
	}
	return c.update(ctx, collection, id, `
UPDATE documents SET body = jsonb_set(body, ARRAY[$1::text], $2::jsonb, true)
WHERE collection = $3 AND id = $4`,
		field, raw, collection, id,
	)
}

func (c *Client) Push(ctx context.Context, collection, id, field string, value any) error {
	raw, err := writeValue(field, value)
	if err != nil {
		return err
	}
	return c.update(ctx, collection, id, `
UPDATE documents SET body = jsonb_set(body, ARRAY[$1::text],
	CASE WHEN jsonb_typeof(body->$1::text) = 'array' THEN body->$1::text ELSE '[]'::jsonb END
	|| jsonb_build_array($2::jsonb), true)
WHERE collection = $3 AND id = $4`,
		field, raw, collection, id,
	)
}

func (c *Client) update(ctx context.Context, collection, id, query string, args ...any) error {
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "updating %s/%s", collection, id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrNotFound, "%s/%s", collection, id)
	}
	return nil
}

func (c *Client) Scan(ctx context.Context, collection, field string) ([]store.Document, error) {
	if _, err := store.FieldPath(field); err != nil {
		return nil, err
	}
	return c.query(ctx, `
SELECT body::text FROM documents
WHERE collection = $1 AND COALESCE(jsonb_typeof(body->$2::text), 'null') <> 'null'
ORDER BY seq`,
		collection, field,
	)
}

func (c *Client) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	if _, err := store.FieldPath(field); err != nil {
		return nil, err
	}
	return c.query(ctx, `
SELECT body::text FROM documents
WHERE collection = $1 AND jsonb_typeof(body->$2::text) = 'string' AND body->>$2::text = $3
ORDER BY seq`,
		collection, field, value,
	)
}

func (c *Client) query(ctx context.Context, query string, args ...any) ([]store.Document, error) {
	rows, err := c.pool.Query(ctx, query, args...)
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
	c.pool.Close()
	return nil
}

func writeValue(field string, value any) (string, error) {
	if err := store.ValidateField(field); err != nil {
		return "", err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", errors.Wrapf(err, "encoding value for %s", field)
	}
	return string(raw), nil
}

var _ store.Store = (*Client)(nil)
