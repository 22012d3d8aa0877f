package model

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const (
	CreditConsumoOrdinario CreditType = "consumo_y_ordinario"
	CreditMicrocredito     CreditType = "microcredito"
	CreditConsumoBajoMonto CreditType = "consumo_de_bajo_monto"

	ActionInsert          ActionKind = "insert"
	ActionUpdateIfChanged ActionKind = "update_if_changed"
)

// CreditType is a canonical credit modality label. Source labels vary in
// casing, spacing and accents; the normalizer folds them onto these values.
type CreditType string

type ActionKind string

// RateKey is the natural key of a stored rate observation.
type RateKey struct {
	ReportDate civil.Date
	CreditType CreditType
}

// RateRecord is one normalized TIBC observation, the unit that gets persisted.
// Rate is null when the source explicitly published no value; null must stay
// distinguishable from zero all the way down to storage.
type RateRecord struct {
	ReportDate    civil.Date
	CreditType    CreditType
	Rate          decimal.NullDecimal
	Resolution    string
	ValidFrom     *civil.Date
	ValidUntil    *civil.Date
	SourceBatchID string
}

func (r RateRecord) Key() RateKey {
	return RateKey{ReportDate: r.ReportDate, CreditType: r.CreditType}
}

// LoadAction tells the store what to do with one record. ActionUpdateIfChanged
// becomes a real write only when the stored rate differs from Record.Rate.
type LoadAction struct {
	Kind   ActionKind
	Record RateRecord
}

// LoadResult reports what one transactional load actually did.
type LoadResult struct {
	Inserted int
	Updated  int
	Skipped  int
}
