package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// queryer is satisfied by both *sql.DB and *sql.Tx. Reads made while a write
// transaction is open must use the transaction: the pool holds a single connection.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NextNumber allocates the next human-readable number for a prefix, e.g. WO-000042.
func (r Repo) NextNumber(ctx context.Context, tx *sql.Tx, prefix string) (string, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO order_sequences(prefix,next_value) VALUES (?,1)
		ON CONFLICT(prefix) DO UPDATE SET next_value=next_value+1`, prefix); err != nil {
		return "", fmt.Errorf("bump sequence %s: %w", prefix, err)
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT next_value FROM order_sequences WHERE prefix=?`, prefix).Scan(&n); err != nil {
		return "", fmt.Errorf("read sequence %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%06d", prefix, n), nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
