// Package archive persists terminal loan application outcomes for
// compliance. Archival is best effort and never blocks the conversation.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

// Config holds the archival database settings. An empty DSN disables
// archival entirely.
type Config struct {
	DSN     string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

/* -------------------------------- application row -------------------------------- */

type applicationRow struct {
	bun.BaseModel `bun:"table:loan_applications"`

	ID           int64     `bun:"id,pk,autoincrement"`
	LoanID       string    `bun:"loan_id,notnull"`
	CustomerID   string    `bun:"customer_id,notnull"`
	Status       string    `bun:"status,notnull"`
	Amount       int64     `bun:"amount"`
	InterestRate float64   `bun:"interest_rate"`
	TenureMonths int       `bun:"tenure_months"`
	Reason       string    `bun:"reason"`
	ArchivedAt   time.Time `bun:"archived_at,notnull"`
}

/* ---------------------------------- PostgresArchiver ---------------------------------- */

// PostgresArchiver writes application records to Postgres through bun.
type PostgresArchiver struct {
	db      *bun.DB
	timeout time.Duration
}

// NewPostgres connects to the archival database and ensures the target
// table exists.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresArchiver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: empty archive dsn", contractx.ErrValidation)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if _, err := db.NewCreateTable().
		Model((*applicationRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}
	return &PostgresArchiver{db: db, timeout: cfg.Timeout}, nil
}

// Archive stores one terminal application record.
func (a *PostgresArchiver) Archive(ctx context.Context, record contractx.ApplicationRecord) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	row := applicationRow{
		LoanID:       record.LoanID,
		CustomerID:   record.CustomerID,
		Status:       record.Status,
		Amount:       record.Amount,
		InterestRate: record.InterestRate,
		TenureMonths: record.TenureMonths,
		Reason:       record.Reason,
		ArchivedAt:   time.Now().UTC(),
	}
	if _, err := a.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert application record: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (a *PostgresArchiver) Close() error {
	return a.db.Close()
}

/* ---------------------------------- NoopArchiver ---------------------------------- */

// NoopArchiver logs records instead of persisting them. Used when no
// archive database is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(_ context.Context, record contractx.ApplicationRecord) error {
	log.Info().
		Str("loan_id", record.LoanID).
		Str("customer_id", record.CustomerID).
		Str("status", record.Status).
		Msg("application archived (noop)")
	return nil
}
