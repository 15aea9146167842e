package kv

import (
	"context"
	"database/sql"
	"time"
)

var _ Tier = (*PG)(nil)

// PG is the durable tier backed by PostgreSQL. Schema:
//
//	create table if not exists kv_entries (
//	    key        text primary key,
//	    value      text not null,
//	    expires_at timestamptz
//	);
type PG struct {
	db  *sql.DB
	now func() time.Time
}

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db, now: time.Now}
}

func (p *PG) Get(ctx context.Context, key string) (string, error) {
	row := p.db.QueryRowContext(ctx,
		`select value, expires_at from kv_entries where key=$1`, key,
	)
	var (
		value     string
		expiresAt sql.NullTime
	)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	if expiresAt.Valid && p.now().After(expiresAt.Time) {
		_, _ = p.db.ExecContext(ctx, `delete from kv_entries where key=$1`, key)
		return "", ErrNotFound
	}
	return value, nil
}

func (p *PG) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: p.now().Add(ttl), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`insert into kv_entries(key, value, expires_at) values($1,$2,$3)
		 on conflict (key) do update set value=excluded.value, expires_at=excluded.expires_at`,
		key, value, expiresAt,
	)
	return err
}

func (p *PG) Remove(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `delete from kv_entries where key=$1`, key)
	return err
}
