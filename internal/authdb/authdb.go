// Package authdb implements the auth verifier the HTTP parser calls
// for /register.html and /login.html submissions, grounded on
// original_source/code/http/httprequest.cpp's UserVerify but rewritten
// against parameterized queries: the original builds its SQL with
// snprintf string interpolation, which is injectable.
package authdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/bern-seu/webserver/internal/logging"
)

// queryTimeout bounds each auth query so a stalled connection can't
// block a worker goroutine indefinitely.
const queryTimeout = 5 * time.Second

// Config configures the connection pool backing the verifier, matching
// the DB fields of the server CLI (spec.md §6).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// DSN renders config as a go-sql-driver/mysql data source name.
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, host, c.Port, c.DBName)
}

// Verifier checks and registers username/password pairs against the
// `user(username, password)` table.
type Verifier struct {
	db *sql.DB
}

// Open creates a connection pool sized per config.PoolSize and
// verifies connectivity with a ping.
func Open(config Config) (*Verifier, error) {
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("authdb: open: %w", err)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("authdb: ping: %w", err)
	}
	return &Verifier{db: db}, nil
}

// Close releases the connection pool.
func (v *Verifier) Close() error {
	return v.db.Close()
}

// Verify implements httpparse.AuthVerifier. An empty username or
// password always fails, matching UserVerify's first check. On login
// it compares the stored password; on register it inserts a new row
// unless the username is already taken.
func (v *Verifier) Verify(username, password string, isLogin bool) bool {
	if username == "" || password == "" {
		return false
	}
	logging.Debug("verifying credentials", "username", username, "isLogin", isLogin)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var stored string
	err := v.db.QueryRowContext(ctx,
		"SELECT password FROM user WHERE username = ? LIMIT 1", username,
	).Scan(&stored)

	switch {
	case err == sql.ErrNoRows:
		if isLogin {
			return false
		}
		return v.register(ctx, username, password)
	case err != nil:
		logging.Error("authdb query failed", "error", err)
		return false
	default:
		if isLogin {
			return stored == password
		}
		// Registration against an already-taken username fails.
		return false
	}
}

func (v *Verifier) register(ctx context.Context, username, password string) bool {
	_, err := v.db.ExecContext(ctx,
		"INSERT INTO user(username, password) VALUES (?, ?)", username, password)
	if err != nil {
		logging.Error("authdb insert failed", "error", err)
		return false
	}
	return true
}
