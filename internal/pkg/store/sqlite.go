// Package store persists normalized TIBC rate records into a single-file
// SQLite database. The schema is created idempotently on first use and one
// pipeline run writes inside exactly one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"
)

const tableDDL = `
CREATE TABLE IF NOT EXISTS tasas_interes_bancario (
	report_date     TEXT NOT NULL,
	credit_type     TEXT NOT NULL,
	tasa_ea         NUMERIC,
	resolucion      TEXT,
	vigencia_desde  TEXT,
	vigencia_hasta  TEXT,
	source_batch_id TEXT NOT NULL,
	loaded_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (report_date, credit_type)
)`

// Sqlite is the file-backed store. The connection is owned by this value and
// released on Close, never shared across runs.
type Sqlite struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

func NewSqlite(path string, logger *zap.Logger) (*Sqlite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	return &Sqlite{db: db, path: path, logger: logger}, nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) Path() string {
	return s.path
}

// EnsureSchema creates the rates table if it does not exist yet. Safe to call
// on every run; it never alters an existing table.
func (s *Sqlite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, tableDDL); err != nil {
		return fmt.Errorf("creating rates table: %w", err)
	}
	return nil
}

// ExistingKeys returns the natural keys of every stored row.
func (s *Sqlite) ExistingKeys(ctx context.Context) (map[model.RateKey]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT report_date, credit_type FROM tasas_interes_bancario`)
	if err != nil {
		return nil, fmt.Errorf("querying existing keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[model.RateKey]struct{})
	for rows.Next() {
		var dateStr, creditType string
		if err := rows.Scan(&dateStr, &creditType); err != nil {
			return nil, fmt.Errorf("scanning key row: %w", err)
		}
		date, err := civil.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("stored report_date %q is not a date: %w", dateStr, err)
		}
		keys[model.RateKey{ReportDate: date, CreditType: model.CreditType(creditType)}] = struct{}{}
	}
	return keys, rows.Err()
}

// Apply executes one run's load actions inside a single transaction. Any
// failure rolls the whole batch back, leaving the table untouched.
// Update actions write only when the stored rate differs from the incoming
// one, so replaying an unchanged source is a no-op.
func (s *Sqlite) Apply(ctx context.Context, actions []model.LoadAction) (model.LoadResult, error) {
	var result model.LoadResult
	if len(actions) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO tasas_interes_bancario
			(report_date, credit_type, tasa_ea, resolucion, vigencia_desde, vigencia_hasta, source_batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return result, fmt.Errorf("preparing insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.PrepareContext(ctx, `
		UPDATE tasas_interes_bancario
		SET tasa_ea = ?, resolucion = ?, vigencia_desde = ?, vigencia_hasta = ?,
			source_batch_id = ?, loaded_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE report_date = ? AND credit_type = ? AND tasa_ea IS NOT ?`)
	if err != nil {
		return result, fmt.Errorf("preparing update: %w", err)
	}
	defer update.Close()

	for _, action := range actions {
		rec := action.Record
		switch action.Kind {
		case model.ActionInsert:
			_, err := insert.ExecContext(ctx,
				rec.ReportDate.String(), string(rec.CreditType), rec.Rate,
				nullableString(rec.Resolution), nullableDate(rec.ValidFrom), nullableDate(rec.ValidUntil),
				rec.SourceBatchID)
			if err != nil {
				return model.LoadResult{}, fmt.Errorf("inserting %s/%s: %w", rec.ReportDate, rec.CreditType, err)
			}
			result.Inserted++
		case model.ActionUpdateIfChanged:
			res, err := update.ExecContext(ctx,
				rec.Rate, nullableString(rec.Resolution), nullableDate(rec.ValidFrom), nullableDate(rec.ValidUntil),
				rec.SourceBatchID,
				rec.ReportDate.String(), string(rec.CreditType), rec.Rate)
			if err != nil {
				return model.LoadResult{}, fmt.Errorf("updating %s/%s: %w", rec.ReportDate, rec.CreditType, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return model.LoadResult{}, fmt.Errorf("reading update result for %s/%s: %w", rec.ReportDate, rec.CreditType, err)
			}
			if affected > 0 {
				result.Updated++
			} else {
				result.Skipped++
			}
		default:
			return model.LoadResult{}, fmt.Errorf("unknown load action %q", action.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.LoadResult{}, fmt.Errorf("committing load transaction: %w", err)
	}
	s.logger.Debug("load transaction committed",
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func nullableDate(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
