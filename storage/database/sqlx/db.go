package sqlxrepos

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const driverName = "postgres"

var errNoRowReturned = errors.New("no row returned")

// trapNoRowsErr replaces sql.ErrNoRows by notFound.
func trapNoRowsErr(err, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.WithStack(err)
}

// trapNotFound returns notFound as is, and wraps any other error with msg.
func trapNotFound(err, notFound error, msg string) error {
	if err == notFound {
		return err
	}
	return errors.Wrap(err, msg)
}

// scanOne scans the first row into dest and closes rows. No row yields notFound.
func scanOne(rows *sqlx.Rows, dest interface{}, notFound error) error {
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return notFound
	}
	return rows.StructScan(dest)
}
