// Package export renders finalized receipts for people: the Bewirtungsbeleg
// form text, an Excel summary and the per-page JSON/YAML artifacts.
package export

import (
	"fmt"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// DefaultCity is printed on the place and date line of the form
const DefaultCity = "Berlin"

// FormTitle and FormSubtitle head every entertainment receipt form
const (
	FormTitle    = "Bewirtungsbeleg"
	FormSubtitle = "(nach § 4 Abs. 5 Nr. 2 EStG)"
)

// FormatAmount renders an amount with two decimals and a decimal comma
func FormatAmount(v float64) string {
	return strings.Replace(decimal.NewFromFloat(v).StringFixed(2), ".", ",", 1)
}

// FormLines returns the body of the entertainment receipt form for a record.
// Host and guest sections need sampled names, the occasion needs a topic and
// the tip line needs a tip; each is left out while its field is absent.
// "Höhe der Aufwendungen" states total_without_tip, and the tip and the total
// with tip follow on their own lines. Older forms printed total_with_tip there.
func FormLines(record entity.BillingRecord, city string) []string {
	if city == "" {
		city = DefaultCity
	}
	currency := record.CurrencyCode
	if currency == "" {
		currency = record.CurrencySymbol
	}

	lines := []string{
		"Name und Ort der Bewirtung:",
		record.LocationName,
	}
	if record.Address != "" {
		lines = append(lines, record.Address)
	}
	lines = append(lines, "")

	if payer, ok := record.Payer(); ok {
		lines = append(lines, "Bewirtende Person:", payer, "")
		lines = append(lines, "Bewirtete Personen:")
		for _, guest := range record.Guests() {
			lines = append(lines, " - "+guest)
		}
		lines = append(lines, "")
	}

	if record.HasTopic() {
		lines = append(lines, "Anlass der Bewirtung:", record.TopicOrEmpty(), "")
	}

	lines = append(lines,
		"Höhe der Aufwendungen gemäß beigefügter Rechnung:",
		fmt.Sprintf("%s %s (inkl. MwSt.)", FormatAmount(record.TotalWithoutTip), currency),
		"",
	)
	if record.HasTip() {
		lines = append(lines, fmt.Sprintf("Trinkgeld:\t\t%s %s", FormatAmount(record.TipAmount), currency), "")
	}
	if record.TotalWithTip > 0 {
		lines = append(lines, fmt.Sprintf("Gesamtbetrag:\t\t%s %s", FormatAmount(record.TotalWithTip), currency), "")
	}

	if record.Date != "" {
		lines = append(lines, fmt.Sprintf("Ort, Datum: %s, %s", city, record.Date), "")
	}
	lines = append(lines, "Unterschrift des Bewirtenden:")

	return lines
}
