package db

import (
	"context"
	_ "embed"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

// Migrate creates missing tables and indexes. Every statement is
// IF NOT EXISTS, so running it on each start is safe.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "apply schema")
	}
	return errors.Wrap(tx.Commit(), "commit migration")
}
