package handlers

import (
	"github.com/jackc/pgx/v5"
)

// SimpleRow is a pgx.Row stand-in for fake SQL executors in tests. A nil
// scanner behaves like an empty result set.
type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}
