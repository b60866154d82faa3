package dbsync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type (
	// Execer runs a statement on the sync target.
	Execer interface {
		Exec(ctx context.Context, sql string, args ...interface{}) error
	}

	// TargetTx is a transaction opened on the sync target.
	TargetTx interface {
		Execer
		Commit(ctx context.Context) error
		Rollback(ctx context.Context) error
	}

	// Target is one client connection to an external database.
	Target interface {
		Begin(ctx context.Context) (TargetTx, error)
		Close(ctx context.Context) error
	}

	// Dialer opens Target connections from a connection string.
	Dialer interface {
		Dial(ctx context.Context, url string) (Target, error)
	}
)

// PgxDialer opens a single pgx connection per sync attempt.
type PgxDialer struct {
	// ConnectTimeout bounds the connection handshake. Zero keeps the driver default.
	ConnectTimeout time.Duration
}

var _ Dialer = (*PgxDialer)(nil)

func (d PgxDialer) Dial(ctx context.Context, url string) (Target, error) {
	connConf, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing target connection string")
	}
	if d.ConnectTimeout > 0 {
		connConf.ConnectTimeout = d.ConnectTimeout
	}
	conn, err := pgx.ConnectConfig(ctx, connConf)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to target database")
	}
	return &pgxTarget{conn: conn}, nil
}

type pgxTarget struct {
	conn *pgx.Conn
}

func (t *pgxTarget) Begin(ctx context.Context) (TargetTx, error) {
	tx, err := t.conn.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "beginning target transaction")
	}
	return &pgxTx{tx: tx}, nil
}

func (t *pgxTarget) Close(ctx context.Context) error {
	return t.conn.Close(ctx)
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
