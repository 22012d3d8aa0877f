package store

import (
	"context"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"
)

func setupTestStore(t *testing.T) *Sqlite {
	t.Helper()

	s, err := NewSqlite(filepath.Join(t.TempDir(), "tibc-test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func record(day int, creditType model.CreditType, rate string) model.RateRecord {
	rec := model.RateRecord{
		ReportDate:    civil.Date{Year: 2024, Month: 1, Day: day},
		CreditType:    creditType,
		Resolution:    "1716",
		SourceBatchID: "batch-test",
	}
	if rate != "" {
		rec.Rate = decimal.NullDecimal{Decimal: decimal.RequireFromString(rate), Valid: true}
	}
	return rec
}

func insertAction(rec model.RateRecord) model.LoadAction {
	return model.LoadAction{Kind: model.ActionInsert, Record: rec}
}

func updateAction(rec model.RateRecord) model.LoadAction {
	return model.LoadAction{Kind: model.ActionUpdateIfChanged, Record: rec}
}

func rowCount(t *testing.T, s *Sqlite) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM tasas_interes_bancario`).Scan(&n))
	return n
}

func storedRate(t *testing.T, s *Sqlite, rec model.RateRecord) decimal.NullDecimal {
	t.Helper()
	var rate decimal.NullDecimal
	err := s.db.QueryRow(
		`SELECT tasa_ea FROM tasas_interes_bancario WHERE report_date = ? AND credit_type = ?`,
		rec.ReportDate.String(), string(rec.CreditType),
	).Scan(&rate)
	require.NoError(t, err)
	return rate
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestApplyInsertsAndExistingKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := record(15, model.CreditConsumoOrdinario, "12.5")
	b := record(15, model.CreditMicrocredito, "33.9")

	result, err := s.Apply(ctx, []model.LoadAction{insertAction(a), insertAction(b)})
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{Inserted: 2}, result)

	keys, err := s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, a.Key())
	assert.Contains(t, keys, b.Key())
}

func TestApplyUpdateOnlyWhenChanged(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := record(15, model.CreditConsumoOrdinario, "12.5")
	_, err := s.Apply(ctx, []model.LoadAction{insertAction(rec)})
	require.NoError(t, err)

	// Same value again: no write.
	result, err := s.Apply(ctx, []model.LoadAction{updateAction(rec)})
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{Skipped: 1}, result)

	// Changed value: one write.
	changed := record(15, model.CreditConsumoOrdinario, "12.7")
	result, err = s.Apply(ctx, []model.LoadAction{updateAction(changed)})
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{Updated: 1}, result)

	got := storedRate(t, s, rec)
	require.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(decimal.RequireFromString("12.7")), "got %s", got.Decimal)
	assert.Equal(t, 1, rowCount(t, s))
}

func TestApplyPreservesNullRate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	withNull := record(15, model.CreditConsumoOrdinario, "")
	withZero := record(15, model.CreditMicrocredito, "0")

	_, err := s.Apply(ctx, []model.LoadAction{insertAction(withNull), insertAction(withZero)})
	require.NoError(t, err)

	assert.False(t, storedRate(t, s, withNull).Valid, "null rate must stay null")

	zero := storedRate(t, s, withZero)
	require.True(t, zero.Valid, "zero rate must not degrade to null")
	assert.True(t, zero.Decimal.IsZero())
}

func TestApplyNullToNullIsNoOp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := record(15, model.CreditConsumoOrdinario, "")
	_, err := s.Apply(ctx, []model.LoadAction{insertAction(rec)})
	require.NoError(t, err)

	result, err := s.Apply(ctx, []model.LoadAction{updateAction(rec)})
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{Skipped: 1}, result)
}

func TestApplyRollsBackWholeBatchOnFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	good := record(15, model.CreditConsumoOrdinario, "12.5")
	// Same natural key bypassing the planner: violates the primary key on
	// the last action of the batch.
	conflicting := record(15, model.CreditConsumoOrdinario, "99.9")

	_, err := s.Apply(ctx, []model.LoadAction{
		insertAction(good),
		insertAction(record(16, model.CreditMicrocredito, "33.9")),
		insertAction(conflicting),
	})
	require.Error(t, err)

	assert.Equal(t, 0, rowCount(t, s), "failed batch must leave no rows behind")
}

func TestApplyEmptyBatch(t *testing.T) {
	s := setupTestStore(t)
	result, err := s.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{}, result)
}

func TestExistingKeysOnEmptyTable(t *testing.T) {
	s := setupTestStore(t)
	keys, err := s.ExistingKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}
