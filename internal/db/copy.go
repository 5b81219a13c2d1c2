package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceAll deletes the rows matching where and COPYs the new rows in a
// single transaction, so readers never observe a partially loaded set.
func ReplaceAll(ctx context.Context, pool Pool, table string, columns []string, where string, whereArgs []any, rows [][]any) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	del := "DELETE FROM " + identifier(table).Sanitize()
	if where != "" {
		del += " WHERE " + where
	}
	if _, err := tx.Exec(ctx, del, whereArgs...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}
