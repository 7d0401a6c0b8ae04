/*
Package bitio uploads measurement records to a cloud Postgres table on bit.io.

bit.io speaks the ordinary Postgres wire protocol; the API key is the password
and the database name is the "owner/repo" pair.  The uploader holds a pgx pool
for the life of the process and appends one row per call, matching the table

	datetime   timestamp with time zone
	location   text
	sensor_id  integer
	pm_2_5     real
	pm_10      real

Failures are classified into three sentinels so the caller can tell a bad key
from a bad table from a bad network without parsing strings.
*/
package bitio

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	// ErrAuth is generated when the database rejects the API key
	ErrAuth = errors.New("database rejected the API key")

	// ErrSchema is generated when the record shape does not match the target table
	ErrSchema = errors.New("record does not match the target table")

	// ErrNetwork is generated when the database cannot be reached
	ErrNetwork = errors.New("could not reach the database")
)

// Record is one measurement ready for upload.  Field order matches the
// remote table's column order.
type Record struct {
	Time     time.Time
	Location string
	SensorID int
	PM25     float64
	PM10     float64
}

// Config holds the connection parameters for a bit.io database
type Config struct {
	// Host is the database server, e.g. db.bit.io
	Host string

	// Port is the Postgres port, almost always 5432
	Port int

	// User is the connecting username, the repo owner on bit.io
	User string

	// Database is the database name, "owner/repo" on bit.io
	Database string

	// APIKey authenticates the connection; it is the Postgres password
	APIKey string
}

// dsn renders the config as a postgres:// URL for pgx
func (c Config) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.APIKey),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// QualifiedTable renders the schema-qualified table name used by bit.io,
// `"owner/repo"."table"`
func QualifiedTable(owner, repo, table string) string {
	return fmt.Sprintf(`"%s/%s"."%s"`, owner, repo, table)
}

// execer is the slice of pgxpool.Pool used by the uploader
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Uploader appends measurement records to one remote table
type Uploader struct {
	pool *pgxpool.Pool
	exec execer
	sql  string
}

// Connect opens a pooled connection to the database and verifies it with a
// ping.  Establishment is retried with exponential backoff; transient network
// faults at boot (wifi still associating on a Pi, DNS cold) resolve within a
// few seconds, while a rejected key aborts the retry immediately.
func Connect(ctx context.Context, cfg Config, table string) (*Uploader, error) {
	var pool *pgxpool.Pool
	op := func() error {
		p, err := pgxpool.New(ctx, cfg.dsn())
		if err != nil {
			// malformed DSN, retrying will not fix it
			return backoff.Permanent(err)
		}
		err = p.Ping(ctx)
		if err != nil {
			p.Close()
			if errors.Is(Classify(err), ErrAuth) {
				return backoff.Permanent(err)
			}
			return err
		}
		pool = p
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, Classify(err)
	}
	return &Uploader{pool: pool, exec: pool, sql: insertSQL(table)}, nil
}

func insertSQL(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (datetime, location, sensor_id, pm_2_5, pm_10) VALUES ($1, $2, $3, $4, $5)",
		table)
}

// Insert appends one record to the table.  On failure nothing is written and
// the error wraps one of the package sentinels; the record is the caller's to
// drop or keep.
func (u *Uploader) Insert(ctx context.Context, r Record) error {
	_, err := u.exec.Exec(ctx, u.sql, r.Time, r.Location, r.SensorID, r.PM25, r.PM10)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// Close releases the pool.  The Uploader may not be used afterwards.
func (u *Uploader) Close() {
	if u.pool != nil {
		u.pool.Close()
	}
}

// Postgres error classes and codes, from appendix A of the manual
const (
	classAuth            = "28" // invalid_authorization_specification
	codeUndefinedTable   = "42P01"
	codeUndefinedColumn  = "42703"
	codeDatatypeMismatch = "42804"
	codeNotNullViolation = "23502"
	codeInvalidTextRep   = "22P02"
)

// Classify maps a pgx error onto the package sentinels.  Server-reported
// errors split into auth and schema problems by SQLSTATE; everything that
// never reached the server is a network problem.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == classAuth:
			return errors.Wrap(ErrAuth, pgErr.Message)
		case pgErr.Code == codeUndefinedTable,
			pgErr.Code == codeUndefinedColumn,
			pgErr.Code == codeDatatypeMismatch,
			pgErr.Code == codeNotNullViolation,
			pgErr.Code == codeInvalidTextRep:
			return errors.Wrap(ErrSchema, pgErr.Message)
		}
		return err
	}
	return errors.Wrap(ErrNetwork, err.Error())
}
