package entity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"github.com/spf13/cast"
)

// Record keys used by the key-value form and the extraction schema
const (
	FieldDate            = "date"
	FieldLocationName    = "location_name"
	FieldAddress         = "address"
	FieldCurrencySymbol  = "currency_symbol"
	FieldCurrencyCode    = "currency_code"
	FieldTaxes           = "taxes"
	FieldTotalWithoutTip = "total_without_tip"
	FieldTotalWithTip    = "total_with_tip"
	FieldTipAmount       = "tip_amount"
	FieldTipPercentage   = "tip_percentage"
	FieldTopic           = "topic"
	FieldNames           = "names"
	FieldStage           = "stage"
)

// requiredFields must be present in any key-value record
var requiredFields = []string{
	FieldDate,
	FieldLocationName,
	FieldTotalWithoutTip,
	FieldTotalWithTip,
	FieldTipAmount,
}

var amountPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ToMap converts the record into a plain key-value structure.
// Optional fields are only present once their enrichment has run.
func (r BillingRecord) ToMap() map[string]any {
	taxes := make([]any, 0, len(r.Taxes))
	for _, t := range r.Taxes {
		taxes = append(taxes, map[string]any{
			"percentage":   t.Percentage,
			"amount_taxed": t.AmountTaxed,
			"value_added":  t.ValueAdded,
		})
	}

	m := map[string]any{
		FieldDate:            r.Date,
		FieldLocationName:    r.LocationName,
		FieldAddress:         r.Address,
		FieldCurrencySymbol:  r.CurrencySymbol,
		FieldCurrencyCode:    r.CurrencyCode,
		FieldTaxes:           taxes,
		FieldTotalWithoutTip: r.TotalWithoutTip,
		FieldTotalWithTip:    r.TotalWithTip,
		FieldTipAmount:       r.TipAmount,
		FieldTipPercentage:   r.TipPercentage,
		FieldStage:           r.Stage.String(),
	}
	if r.Topic != nil {
		m[FieldTopic] = *r.Topic
	}
	if r.Names != nil {
		m[FieldNames] = append([]string(nil), r.Names...)
	}
	return m
}

// RecordFromMap builds a record from a key-value structure such as a decoded
// extraction response or a persisted snapshot. Amounts given as strings are
// normalized ("12,50 €" -> 12.5). A missing required key yields *MissingFieldError.
func RecordFromMap(m map[string]any) (BillingRecord, error) {
	for _, key := range requiredFields {
		if v, ok := m[key]; !ok || v == nil {
			return BillingRecord{}, &MissingFieldError{Field: key}
		}
	}

	var (
		r   BillingRecord
		err error
	)
	r.Date = cast.ToString(m[FieldDate])
	r.LocationName = cast.ToString(m[FieldLocationName])
	r.Address = cast.ToString(m[FieldAddress])
	r.CurrencySymbol = cast.ToString(m[FieldCurrencySymbol])
	r.CurrencyCode = cast.ToString(m[FieldCurrencyCode])

	amounts := []struct {
		key string
		dst *float64
	}{
		{FieldTotalWithoutTip, &r.TotalWithoutTip},
		{FieldTotalWithTip, &r.TotalWithTip},
		{FieldTipAmount, &r.TipAmount},
		{FieldTipPercentage, &r.TipPercentage},
	}
	for _, a := range amounts {
		v, ok := m[a.key]
		if !ok || v == nil {
			continue
		}
		if *a.dst, err = ParseAmount(v); err != nil {
			return BillingRecord{}, fmt.Errorf("field %s: %w", a.key, err)
		}
	}

	if r.Taxes, err = parseTaxes(m[FieldTaxes]); err != nil {
		return BillingRecord{}, err
	}

	if v, ok := m[FieldTopic]; ok && v != nil {
		topic := cast.ToString(v)
		r.Topic = &topic
	}
	if v, ok := m[FieldNames]; ok && v != nil {
		names, err := cast.ToStringSliceE(v)
		if err != nil {
			return BillingRecord{}, fmt.Errorf("field %s: %w", FieldNames, err)
		}
		r.Names = names
	}

	r.Stage = workflow.StateRaw
	if v, ok := m[FieldStage]; ok && v != nil {
		stage := workflow.State(cast.ToString(v))
		if !stage.IsValid() {
			return BillingRecord{}, fmt.Errorf("field %s: %w: %s", FieldStage, workflow.ErrInvalidState, stage)
		}
		r.Stage = stage
	}

	return r, nil
}

// ParseAmount converts a JSON/YAML scalar into a float. Strings may use a
// decimal comma and may carry currency symbols around the number.
func ParseAmount(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToFloat64E(v)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Contains(s, ",") {
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// 1.234,56 style
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	num := amountPattern.FindString(s)
	if num == "" {
		return 0, fmt.Errorf("no numeric value in %q", v)
	}
	return cast.ToFloat64E(num)
}

func parseTaxes(v any) ([]VatEntry, error) {
	switch taxes := v.(type) {
	case nil:
		return []VatEntry{}, nil
	case []VatEntry:
		return append([]VatEntry(nil), taxes...), nil
	case []map[string]any:
		items := make([]any, len(taxes))
		for i := range taxes {
			items[i] = taxes[i]
		}
		return parseTaxes(items)
	case []any:
		out := make([]VatEntry, 0, len(taxes))
		for i, item := range taxes {
			fields, err := cast.ToStringMapE(item)
			if err != nil {
				return nil, fmt.Errorf("taxes[%d]: %w", i, err)
			}
			var entry VatEntry
			for key, dst := range map[string]*float64{
				"percentage":   &entry.Percentage,
				"amount_taxed": &entry.AmountTaxed,
				"value_added":  &entry.ValueAdded,
			} {
				raw, ok := fields[key]
				if !ok || raw == nil {
					continue
				}
				if *dst, err = ParseAmount(raw); err != nil {
					return nil, fmt.Errorf("taxes[%d].%s: %w", i, key, err)
				}
			}
			out = append(out, entry)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %s: unsupported type %T", FieldTaxes, v)
	}
}
