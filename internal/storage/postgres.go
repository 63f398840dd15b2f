package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/udisondev/relay/internal/storage/migrations"
)

// resourceCollection is the reserved collection name single-valued
// resources live under in the relay_resources table. The '@' keeps it
// out of the namespace services can reach.
const resourceCollection = "@resource"

// Postgres is the network-reachable storage backend: one jsonb table
// behind a pgx pool. It satisfies the same contract as the filesystem
// tree, so the relay core cannot tell them apart.
type Postgres struct {
	dsn  string
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres backend for the given DSN.
func NewPostgres(dsn string) *Postgres {
	return &Postgres{dsn: dsn}
}

// Open connects, pings, and applies the embedded goose migrations.
func (p *Postgres) Open(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("connecting to storage database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging storage database: %w", err)
	}
	p.pool = pool

	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	sqlDB, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("running storage migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var value json.RawMessage
	err := withRetry(ctx, func() error {
		err := p.pool.QueryRow(ctx,
			`SELECT value FROM relay_resources WHERE collection = $1 AND key = $2`,
			collection, key,
		).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s/%s: %w", collection, key, err)
	}
	return value, nil
}

func (p *Postgres) set(ctx context.Context, collection, key string, value json.RawMessage) error {
	err := withRetry(ctx, func() error {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO relay_resources (collection, key, value, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (collection, key) DO UPDATE SET value = $3, updated_at = now()`,
			collection, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, key, err)
	}
	return nil
}

func (p *Postgres) exists(ctx context.Context, collection, key string) (bool, error) {
	var found bool
	err := withRetry(ctx, func() error {
		return p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM relay_resources WHERE collection = $1 AND key = $2)`,
			collection, key,
		).Scan(&found)
	})
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", collection, key, err)
	}
	return found, nil
}

func (p *Postgres) GetResource(ctx context.Context, name string) (json.RawMessage, error) {
	return p.get(ctx, resourceCollection, name)
}

func (p *Postgres) SetResource(ctx context.Context, name string, value json.RawMessage) error {
	return p.set(ctx, resourceCollection, name, value)
}

func (p *Postgres) ExistsResource(ctx context.Context, name string) (bool, error) {
	return p.exists(ctx, resourceCollection, name)
}

func (p *Postgres) GetKeyed(ctx context.Context, collection, key string) (json.RawMessage, error) {
	return p.get(ctx, collection, key)
}

func (p *Postgres) SetKeyed(ctx context.Context, collection, key string, value json.RawMessage) error {
	return p.set(ctx, collection, key, value)
}

func (p *Postgres) DeleteKeyed(ctx context.Context, collection, key string) (bool, error) {
	var deleted bool
	err := withRetry(ctx, func() error {
		tag, err := p.pool.Exec(ctx,
			`DELETE FROM relay_resources WHERE collection = $1 AND key = $2`,
			collection, key)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s/%s: %w", collection, key, err)
	}
	return deleted, nil
}

func (p *Postgres) ExistsKeyed(ctx context.Context, collection, key string) (bool, error) {
	return p.exists(ctx, collection, key)
}

func (p *Postgres) ListKeys(ctx context.Context, collection string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, func() error {
		rows, err := p.pool.Query(ctx,
			`SELECT key FROM relay_resources WHERE collection = $1 ORDER BY key`,
			collection)
		if err != nil {
			return err
		}
		defer rows.Close()

		keys = keys[:0]
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	return keys, nil
}
