package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrAccessDenied   = errors.New("access denied")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles the repositories handed to services.
type Models struct {
	Shops     ShopModel
	Anomalies AnomalyModel
}

func NewModels(db *sql.DB) Models {
	return Models{
		Shops:     ShopModel{DB: db},
		Anomalies: AnomalyModel{DB: db},
	}
}
