// Package userauth implements the auxiliary registration/login demo
// handler SPEC_FULL.md names as an external collaborator (§6): decode a
// urlencoded username/password form, check or insert a row via
// internal/sqlpool, and respond 200, 400, or 500 when the database call
// fails. It is a demo, not an auth
// system -- no sessions, no tokens, just the one round trip the original
// server's login/register form posts used.
package userauth

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtaci/webserver/internal/httpproto"
	"github.com/xtaci/webserver/internal/sqlpool"
)

// Handler answers the demo register/login POST, backed by a user table
// of the shape the original server's MySQL schema used: username and a
// hashed password.
type Handler struct {
	pool *sqlpool.Pool
}

// New builds a Handler over an already-open pool.
func New(pool *sqlpool.Pool) *Handler {
	return &Handler{pool: pool}
}

var (
	// ErrBadCredentials is returned by Login when the username does not
	// exist or the password does not match.
	ErrBadCredentials = errors.New("userauth: bad credentials")
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("userauth: user exists")
)

// Register inserts a new user row with a bcrypt-hashed password.
func (h *Handler) Register(ctx context.Context, username, password string) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "userauth: register acquire")
	}
	defer conn.Close()

	var exists int
	row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM user WHERE username = ?", username)
	if err := row.Scan(&exists); err != nil {
		return errors.Wrap(err, "userauth: register check")
	}
	if exists > 0 {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "userauth: hash password")
	}

	_, err = conn.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", username, hash)
	if err != nil {
		return errors.Wrap(err, "userauth: register insert")
	}
	return nil
}

// Login checks a username/password pair against the stored bcrypt hash.
func (h *Handler) Login(ctx context.Context, username, password string) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "userauth: login acquire")
	}
	defer conn.Close()

	var hash string
	row := conn.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ?", username)
	switch err := row.Scan(&hash); {
	case err == sql.ErrNoRows:
		return ErrBadCredentials
	case err != nil:
		return errors.Wrap(err, "userauth: login lookup")
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// HandleForm decodes the POST body the design's httpproto.Request already
// parsed into req.Form (application/x-www-form-urlencoded, §4.4) and
// dispatches to Register or Login based on the "mode" field, returning
// the status code and body the responder should send in place of a file.
func (h *Handler) HandleForm(ctx context.Context, req *httpproto.Request) (status int, body string) {
	username := req.Form["username"]
	password := req.Form["password"]
	if username == "" || password == "" {
		return 400, "missing username or password"
	}

	var err error
	switch req.Form["mode"] {
	case "register":
		err = h.Register(ctx, username, password)
	default:
		err = h.Login(ctx, username, password)
	}

	switch err {
	case nil:
		return 200, "ok"
	case ErrUserExists, ErrBadCredentials:
		return 400, err.Error()
	default:
		return 500, "internal error"
	}
}
