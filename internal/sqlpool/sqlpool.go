// Package sqlpool provides the RAII-style "acquire a connection, always
// release it" pattern from the original server's SqlConnPool/SqlConnRAII
// pair (code/pool/sqlconnRAII.h), adapted onto database/sql. database/sql
// already pools *sql.Conn values internally, so this package does not
// reimplement a free-list; it exists to keep the acquire/release call
// shape the original code used at its call sites, so userauth reads the
// same way the original Verify()/RegLogin() functions do.
package sqlpool

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// Pool wraps a *sql.DB, sized the way the original SqlConnPool constructor
// took a connection count.
type Pool struct {
	db *sql.DB
}

// Open dials dsn and caps the pool at maxConns, mirroring the original
// pool's fixed connection count (code/pool/sqlconnpool.cpp's constructor
// argument, MAX_CONN).
func Open(dsn string, maxConns int) (*Pool, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlpool: open")
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return &Pool{db: db}, nil
}

// Conn is the Go analogue of a SqlConnRAII value: it owns one connection
// checked out of the pool until Close returns it, the same lifetime the
// original's constructor/destructor pair enforced.
type Conn struct {
	c *sql.Conn
}

// Acquire checks out one connection, the equivalent of constructing a
// SqlConnRAII on the stack in the original code.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "sqlpool: acquire")
	}
	return &Conn{c: c}, nil
}

// Close returns the connection to the pool. Call it via defer immediately
// after Acquire, the same discipline SqlConnRAII's destructor enforced
// automatically.
func (c *Conn) Close() error {
	return c.c.Close()
}

// QueryRowContext runs a single-row query against the checked-out
// connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.c.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement against the checked-out connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.c.ExecContext(ctx, query, args...)
}

// Shutdown shuts the pool down, draining idle connections.
func (p *Pool) Shutdown() error {
	return p.db.Close()
}
