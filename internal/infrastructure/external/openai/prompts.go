package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompts and model parameters used by the extractor
type PromptConfig struct {
	ReceiptExtraction struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"receipt_extraction"`
}

const defaultPrompts = `
receipt_extraction:
  temperature: 0
  max_tokens: 1024
  system: >-
    You are a world class algorithm for extracting information in structured formats.
    Always respond with a single valid JSON object and nothing else.
  user_template: |
    Use the given format to extract information from the following input.

    Fields:
    {{- range .Fields}}
    - {{.Name}} ({{.Type}}): {{.Description}}
    {{- end}}

    Input:
    {{.RawText}}
`

// FieldSpec describes one field of the billing schema sent to the model
type FieldSpec struct {
	Name        string
	Type        string
	Description string
}

// billingSchema mirrors entity.BillingRecord before enrichment
var billingSchema = []FieldSpec{
	{"date", "string", "The date of the billing in the format YYYY-MM-DD"},
	{"location_name", "string", "The name of the place"},
	{"address", "string", "The address of the place including street and number, city, postal code, and country"},
	{"currency_symbol", "string", "The currency of the billing"},
	{"currency_code", "string", "The currency code of the billing"},
	{"taxes", "array of {percentage, amount_taxed, value_added}", "Sequence of VAT entries. Convert commas to periods."},
	{"total_without_tip", "number", "The total without tip. Convert commas to periods."},
	{"total_with_tip", "number", "The total with tip, equal to total_without_tip when no tip is printed. Convert commas to periods."},
	{"tip_amount", "number", "The tip amount, 0 when no tip is printed. Convert commas to periods."},
	{"tip_percentage", "number", "The tip percentage, 0 when no tip is printed. Convert commas to periods."},
}

// DefaultPrompts returns the built-in prompt configuration
func DefaultPrompts() *PromptConfig {
	prompts, err := parsePrompts([]byte(defaultPrompts))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in prompts: %v", err))
	}
	return prompts
}

// LoadPrompts loads prompt configuration from YAML file. Sections missing
// from the file fall back to the built-in prompts.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts, err := parsePrompts(data)
	if err != nil {
		return nil, err
	}

	defaults := DefaultPrompts()
	if prompts.ReceiptExtraction.System == "" {
		prompts.ReceiptExtraction.System = defaults.ReceiptExtraction.System
	}
	if prompts.ReceiptExtraction.UserTemplate == "" {
		prompts.ReceiptExtraction.UserTemplate = defaults.ReceiptExtraction.UserTemplate
	}
	return prompts, nil
}

func parsePrompts(data []byte) (*PromptConfig, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	return &prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
