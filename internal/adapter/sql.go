package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"radius-auth-proxy/internal/backend/domain"
	"radius-auth-proxy/internal/db"
)

// Connections older than this are recycled by the pool so long-lived
// adapters survive upstream failovers and idle-connection reaping.
const connMaxLifetime = time.Hour

const defaultPoolSize = 5

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// relationalAdapter authenticates against a user table in an external SQL
// database. The stored credential is verified locally under the configured
// digest scheme; the database never sees the presented secret.
type relationalAdapter struct {
	name            string
	pool            *sql.DB
	usersTable      string
	usernameColumn  string
	passwordColumn  string
	digestScheme    string
	attributesTable string
}

func newRelationalAdapter(name string, settings map[string]string) (*relationalAdapter, error) {
	for _, key := range []string{"usersTable", "usernameColumn", "passwordColumn"} {
		if !identifierPattern.MatchString(settings[key]) {
			return nil, fmt.Errorf("%w: %s %q is not a valid SQL identifier", domain.ErrInvalidConfig, key, settings[key])
		}
	}
	if t := settings["attributesTable"]; t != "" && !identifierPattern.MatchString(t) {
		return nil, fmt.Errorf("%w: attributesTable %q is not a valid SQL identifier", domain.ErrInvalidConfig, t)
	}

	driver, err := db.DriverFor(settings["connectionParams"])
	if err != nil {
		return nil, fmt.Errorf("%w: connectionParams: %v", domain.ErrInvalidConfig, err)
	}
	// sql.Open is lazy: a temporarily unreachable database must not block a
	// router reload, so connectivity errors surface per call instead.
	pool, err := sql.Open(driver, settings["connectionParams"])
	if err != nil {
		return nil, fmt.Errorf("%w: connectionParams: %v", domain.ErrInvalidConfig, err)
	}

	poolSize := defaultPoolSize
	if s := settings["poolSize"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			pool.Close()
			return nil, fmt.Errorf("%w: poolSize %q must be a positive integer", domain.ErrInvalidConfig, s)
		}
		poolSize = n
	}
	pool.SetMaxOpenConns(poolSize)
	pool.SetMaxIdleConns(poolSize)
	pool.SetConnMaxLifetime(connMaxLifetime)

	return &relationalAdapter{
		name:            name,
		pool:            pool,
		usersTable:      settings["usersTable"],
		usernameColumn:  settings["usernameColumn"],
		passwordColumn:  settings["passwordColumn"],
		digestScheme:    settings["digestScheme"],
		attributesTable: settings["attributesTable"],
	}, nil
}

func (a *relationalAdapter) Name() string      { return a.name }
func (a *relationalAdapter) Type() domain.Type { return domain.TypeRelational }

// Authenticate fetches the stored credential for identity and verifies the
// presented secret against it.
func (a *relationalAdapter) Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error) {
	if identity == "" || secret == "" {
		return false, nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, a.passwordColumn, a.usersTable, a.usernameColumn)
	var stored string
	err := a.pool.QueryRowContext(ctx, query, identity).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	granted, err := verifySecret(a.digestScheme, secret, stored)
	if err != nil {
		return false, nil, err
	}
	if !granted {
		return false, nil, nil
	}

	if a.attributesTable == "" {
		return true, nil, nil
	}
	attrs, err := a.fetchAttributes(ctx, identity)
	if err != nil {
		// The credential already verified; a failed attribute join degrades
		// to an accept with no extra attributes rather than a reject.
		return true, nil, nil
	}
	return true, attrs, nil
}

// fetchAttributes joins the optional attributes table, one reply attribute
// per row: (username, attribute, value).
func (a *relationalAdapter) fetchAttributes(ctx context.Context, identity string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT attribute, value FROM %s WHERE username = $1`, a.attributesTable)
	rows, err := a.pool.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var attr, value string
		if err := rows.Scan(&attr, &value); err != nil {
			return nil, err
		}
		attrs[attr] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

// TestConnection pings the database and probes the user table.
func (a *relationalAdapter) TestConnection(ctx context.Context) (bool, string) {
	if err := a.pool.PingContext(ctx); err != nil {
		return false, fmt.Sprintf("database unreachable: %v", err)
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, a.usersTable)
	var count int
	if err := a.pool.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, fmt.Sprintf("user table %s not readable: %v", a.usersTable, err)
	}
	return true, fmt.Sprintf("connected; %d rows in %s", count, a.usersTable)
}

// Close releases the connection pool. Called when the router drops the
// adapter from its chain.
func (a *relationalAdapter) Close() error {
	return a.pool.Close()
}
