package etl

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"
)

func rateRecord(day int, creditType model.CreditType, rate string) model.RateRecord {
	return model.RateRecord{
		ReportDate: civil.Date{Year: 2024, Month: 1, Day: day},
		CreditType: creditType,
		Rate:       decimal.NullDecimal{Decimal: decimal.RequireFromString(rate), Valid: true},
	}
}

func TestPlanSplitsInsertsAndUpdates(t *testing.T) {
	known := rateRecord(10, model.CreditConsumoOrdinario, "15.1")
	fresh := rateRecord(11, model.CreditMicrocredito, "33.9")

	existing := map[model.RateKey]struct{}{known.Key(): {}}
	actions := Plan([]model.RateRecord{known, fresh}, existing)

	require.Len(t, actions, 2)
	assert.Equal(t, model.ActionUpdateIfChanged, actions[0].Kind)
	assert.Equal(t, known.Key(), actions[0].Record.Key())
	assert.Equal(t, model.ActionInsert, actions[1].Kind)
	assert.Equal(t, fresh.Key(), actions[1].Record.Key())
}

func TestPlanCollapsesInBatchDuplicates(t *testing.T) {
	first := rateRecord(15, model.CreditConsumoOrdinario, "12.5")
	duplicate := rateRecord(15, model.CreditConsumoOrdinario, "12.5")

	actions := Plan([]model.RateRecord{first, duplicate}, nil)

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionInsert, actions[0].Kind)
}

func TestPlanLastOccurrenceWins(t *testing.T) {
	stale := rateRecord(15, model.CreditConsumoOrdinario, "12.5")
	corrected := rateRecord(15, model.CreditConsumoOrdinario, "12.7")
	other := rateRecord(16, model.CreditMicrocredito, "30.0")

	actions := Plan([]model.RateRecord{stale, other, corrected}, nil)

	require.Len(t, actions, 2)
	// Corrected value replaces the stale one, in first-seen order.
	assert.Equal(t, stale.Key(), actions[0].Record.Key())
	assert.True(t, actions[0].Record.Rate.Decimal.Equal(decimal.RequireFromString("12.7")))
	assert.Equal(t, other.Key(), actions[1].Record.Key())
}

func TestPlanEmptyBatch(t *testing.T) {
	assert.Empty(t, Plan(nil, map[model.RateKey]struct{}{}))
}
