package entity

import (
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

// VatEntry is one value-added-tax line printed on a receipt
type VatEntry struct {
	Percentage  float64 `json:"percentage" yaml:"percentage"`
	AmountTaxed float64 `json:"amount_taxed" yaml:"amount_taxed"`
	ValueAdded  float64 `json:"value_added" yaml:"value_added"`
}

// BillingRecord is one version of a receipt's structured data.
// Values are treated as immutable: enrichment steps return modified copies.
type BillingRecord struct {
	Date            string         `json:"date" yaml:"date"`
	LocationName    string         `json:"location_name" yaml:"location_name"`
	Address         string         `json:"address" yaml:"address"`
	CurrencySymbol  string         `json:"currency_symbol" yaml:"currency_symbol"`
	CurrencyCode    string         `json:"currency_code" yaml:"currency_code"`
	Taxes           []VatEntry     `json:"taxes" yaml:"taxes"`
	TotalWithoutTip float64        `json:"total_without_tip" yaml:"total_without_tip"`
	TotalWithTip    float64        `json:"total_with_tip" yaml:"total_with_tip"`
	TipAmount       float64        `json:"tip_amount" yaml:"tip_amount"`
	TipPercentage   float64        `json:"tip_percentage" yaml:"tip_percentage"`
	Topic           *string        `json:"topic,omitempty" yaml:"topic,omitempty"`
	Names           []string       `json:"names,omitempty" yaml:"names,omitempty"`
	Stage           workflow.State `json:"stage" yaml:"stage"`
}

// Clone returns a deep copy of the record
func (r BillingRecord) Clone() BillingRecord {
	c := r
	if r.Taxes != nil {
		c.Taxes = append([]VatEntry(nil), r.Taxes...)
	}
	if r.Names != nil {
		c.Names = append([]string(nil), r.Names...)
	}
	if r.Topic != nil {
		topic := *r.Topic
		c.Topic = &topic
	}
	return c
}

// HasTip reports whether the extracted data already carries a tip
func (r BillingRecord) HasTip() bool {
	return r.TipAmount != 0
}

// HasTopic reports whether topic assignment has run
func (r BillingRecord) HasTopic() bool {
	return r.Topic != nil
}

// HasNames reports whether attendee sampling has run
func (r BillingRecord) HasNames() bool {
	return r.Names != nil
}

// TopicOrEmpty returns the topic, or "" when none was assigned
func (r BillingRecord) TopicOrEmpty() string {
	if r.Topic == nil {
		return ""
	}
	return *r.Topic
}

// Payer returns the first attendee, the person who paid the bill
func (r BillingRecord) Payer() (string, bool) {
	if len(r.Names) == 0 {
		return "", false
	}
	return r.Names[0], true
}

// Guests returns the attendees other than the payer
func (r BillingRecord) Guests() []string {
	if len(r.Names) < 2 {
		return nil
	}
	return append([]string(nil), r.Names[1:]...)
}
