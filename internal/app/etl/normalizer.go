package etl

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"
)

const (
	fieldResolution = "resolucion"
	fieldValidFrom  = "vigencia_desde"
	fieldValidUntil = "vigencia_hasta"
	fieldRate       = "interes_bancario_corriente"
	fieldCreditType = "modalidad"

	// Source publishes dates as dd/mm/yyyy.
	sourceDateFormat = "02/01/2006"
)

var (
	// Sanity ceiling for an effective annual rate, in percentage points.
	maxRate = decimal.NewFromInt(1000)

	multiSpace = regexp.MustCompile(`\s+`)

	// Strips combining marks so "Microcrédito" and "MICROCREDITO" fold to
	// the same label.
	accentFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	// Socrata also serves floating timestamps; accept those as fallbacks.
	dateFallbackFormats = []string{"2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02"}
)

// Normalizer maps raw source rows onto model.RateRecord, rejecting rows that
// cannot be coerced. Rejections carry a reason and never abort a run.
type Normalizer struct {
	batchID string
}

func NewNormalizer(batchID string) *Normalizer {
	return &Normalizer{batchID: batchID}
}

// Normalize returns the canonical record, or a *Rejection describing why the
// row was dropped.
func (n *Normalizer) Normalize(raw RawRecord) (model.RateRecord, error) {
	dateStr, ok := stringField(raw, fieldReportDate)
	if !ok || dateStr == "" {
		return model.RateRecord{}, &Rejection{Reason: RejectMissingField, Field: fieldReportDate, Detail: "required field absent"}
	}
	reportDate, err := parseSourceDate(dateStr)
	if err != nil {
		return model.RateRecord{}, &Rejection{Reason: RejectInvalidDate, Field: fieldReportDate, Detail: err.Error()}
	}

	label, ok := stringField(raw, fieldCreditType)
	if !ok {
		return model.RateRecord{}, &Rejection{Reason: RejectMissingField, Field: fieldCreditType, Detail: "required field absent"}
	}
	creditType, ok := canonicalCreditType(label)
	if !ok {
		return model.RateRecord{}, &Rejection{Reason: RejectInvalidCategory, Field: fieldCreditType, Detail: fmt.Sprintf("unknown modality %q", label)}
	}

	rawRate, present := raw[fieldRate]
	if !present {
		return model.RateRecord{}, &Rejection{Reason: RejectMissingField, Field: fieldRate, Detail: "required field absent"}
	}
	rateValue, rej := parseRate(rawRate)
	if rej != nil {
		return model.RateRecord{}, rej
	}

	resolution, _ := stringField(raw, fieldResolution)

	return model.RateRecord{
		ReportDate:    reportDate,
		CreditType:    creditType,
		Rate:          rateValue,
		Resolution:    strings.TrimSpace(resolution),
		ValidFrom:     optionalDate(raw, fieldValidFrom),
		ValidUntil:    optionalDate(raw, fieldValidUntil),
		SourceBatchID: n.batchID,
	}, nil
}

// stringField renders a raw value as a string. JSON numbers arrive as
// float64; everything else is taken verbatim.
func stringField(raw RawRecord, name string) (string, bool) {
	v, ok := raw[name]
	if !ok || v == nil {
		return "", ok
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return decimal.NewFromFloat(t).String(), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

func parseSourceDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(sourceDateFormat, s); err == nil {
		return civil.DateOf(t), nil
	}
	for _, format := range dateFallbackFormats {
		if t, err := time.Parse(format, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unparseable date %q", s)
}

// optionalDate coerces an unparseable or absent validity date to nil rather
// than rejecting the record.
func optionalDate(raw RawRecord, name string) *civil.Date {
	s, ok := stringField(raw, name)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	d, err := parseSourceDate(s)
	if err != nil {
		return nil
	}
	return &d
}

// canonicalCreditType folds a source modality label (trim, lower-case,
// de-accent, collapse spacing) onto one canonical value.
func canonicalCreditType(label string) (model.CreditType, bool) {
	folded, _, err := transform.String(accentFold, strings.ToLower(label))
	if err != nil {
		folded = strings.ToLower(label)
	}
	folded = strings.TrimSpace(multiSpace.ReplaceAllString(folded, " "))

	switch folded {
	case "consumo", "ordinario", "consumo y ordinario", "credito de consumo y ordinario":
		return model.CreditConsumoOrdinario, true
	case "microcredito", "credito microcredito":
		return model.CreditMicrocredito, true
	case "consumo de bajo monto", "credito de consumo de bajo monto":
		return model.CreditConsumoBajoMonto, true
	}
	return "", false
}

// parseRate coerces the source rate into a nullable decimal. An explicit null
// (or blank) stays null; it is not the same thing as zero.
func parseRate(v any) (decimal.NullDecimal, *Rejection) {
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		sanitized := strings.TrimSpace(t)
		sanitized = strings.ReplaceAll(sanitized, "%", "")
		sanitized = strings.ReplaceAll(sanitized, " ", "")
		sanitized = strings.Replace(sanitized, ",", ".", -1)
		if sanitized == "" {
			return decimal.NullDecimal{}, nil
		}
		parsed, err := decimal.NewFromString(sanitized)
		if err != nil {
			return decimal.NullDecimal{}, &Rejection{
				Reason: RejectOutOfRangeRate,
				Field:  fieldRate,
				Detail: fmt.Sprintf("non-numeric rate %q", t),
			}
		}
		d = parsed
	default:
		return decimal.NullDecimal{}, &Rejection{
			Reason: RejectOutOfRangeRate,
			Field:  fieldRate,
			Detail: fmt.Sprintf("unexpected rate value %v", v),
		}
	}

	if d.IsNegative() || d.GreaterThan(maxRate) {
		return decimal.NullDecimal{}, &Rejection{
			Reason: RejectOutOfRangeRate,
			Field:  fieldRate,
			Detail: fmt.Sprintf("rate %s outside [0, %s]", d, maxRate),
		}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
