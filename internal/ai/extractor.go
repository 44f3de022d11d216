package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gulfstack/invoice-agent/internal/models"
	"github.com/gulfstack/invoice-agent/internal/taxonomy"
)

// Extractor turns raw invoice text into a structured field bag via an LLM
// provider. Model output is treated as hostile: every field is coerced
// individually and a bad value degrades to nil instead of failing the call.
type Extractor struct {
	provider Provider
}

func NewExtractor(provider Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract runs field extraction over the document text. categoryHint is the
// rule-based category guess ("" when none) and is offered to the model for
// confirmation; it also backs up an invalid or missing model answer.
func (e *Extractor) Extract(ctx context.Context, text, categoryHint string) (models.Extraction, error) {
	response, err := e.provider.ExtractData(ctx, systemPrompt(), userPrompt(text, categoryHint))
	if err != nil {
		return models.Extraction{}, fmt.Errorf("AI extraction failed: %w", err)
	}
	return e.parseResponse(response, text, categoryHint), nil
}

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert invoice parser specialized in UAE (United Arab Emirates) business documents.

Extract structured data from the invoice text and return ONLY a valid JSON object (no markdown, no comments) with these keys:
{
  "vendor": "company issuing the invoice, or null",
  "date": "invoice date as YYYY-MM-DD, or null",
  "amount": final total including VAT as a number, or null,
  "currency": "3-letter code, default AED",
  "tax_amount": VAT amount as a number, or null,
  "category": "exactly one of the categories below, or null",
  "payment_method": "cash, card, bank transfer, cheque, or null",
  "transaction_type": "b2b for supplier invoices, operational_expense for recurring costs (utilities, telecom, rent, government fees)",
  "is_paid": true/false if the document states payment status, else null,
  "extraction_confidence": your confidence in this extraction from 0.0 to 1.0
}

CATEGORIES (choose exactly one or null):
%s

RULES:
1. NEVER invent values. Use null when a field is not in the text.
2. Amounts are plain numbers without currency symbols or thousands separators.
3. UAE VAT is 5%%; "TRN" lines identify tax registrations, not amounts.
4. Common UAE vendors: DEWA (electricity/water), Etisalat and du (telecom), Salik (tolls), ADNOC/ENOC/EPPCO (fuel), RTA (transport).`,
		strings.Join(taxonomy.Categories, "\n"))
}

func userPrompt(text, categoryHint string) string {
	if categoryHint != "" {
		return fmt.Sprintf("Raw invoice text:\n\n%s\n\nHINT: Based on keywords, this might be category %q. Verify and confirm or correct.\n\nReturn JSON now.", text, categoryHint)
	}
	return fmt.Sprintf("Raw invoice text:\n\n%s\n\nReturn JSON now.", text)
}

// parseResponse converts the raw model output into an Extraction.
// It never fails: unusable output yields an empty extraction with zero
// confidence, which the classifier then routes to review.
func (e *Extractor) parseResponse(response, text, categoryHint string) models.Extraction {
	cleaned := stripFences(response)

	var raw struct {
		Vendor          any `json:"vendor"`
		Date            any `json:"date"`
		Amount          any `json:"amount"`
		Currency        any `json:"currency"`
		TaxAmount       any `json:"tax_amount"`
		Category        any `json:"category"`
		PaymentMethod   any `json:"payment_method"`
		TransactionType any `json:"transaction_type"`
		IsPaid          any `json:"is_paid"`
		Confidence      any `json:"extraction_confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return models.Extraction{Currency: models.DefaultCurrency}
	}

	ext := models.Extraction{Currency: models.DefaultCurrency}

	if v := asString(raw.Vendor); v != "" {
		normalized := taxonomy.NormalizeVendor(v)
		ext.Vendor = &normalized
	}

	if d := asString(raw.Date); d != "" {
		iso := normalizeDate(d)
		ext.Date = &iso
	}

	ext.Amount = parseAmount(raw.Amount)
	ext.TaxAmount = parseAmount(raw.TaxAmount)

	if c := strings.ToUpper(asString(raw.Currency)); c != "" {
		ext.Currency = c
	}

	category := asString(raw.Category)
	switch {
	case category != "" && !taxonomy.Valid(category):
		if categoryHint != "" {
			category = categoryHint
		} else {
			category = taxonomy.DefaultCategory
		}
	case category == "" && categoryHint != "":
		category = categoryHint
	}
	if category != "" {
		ext.Category = &category
	}

	if pm := asString(raw.PaymentMethod); pm != "" {
		ext.PaymentMethod = &pm
	}

	vendorName := ""
	if ext.Vendor != nil {
		vendorName = *ext.Vendor
	}
	tt := asString(raw.TransactionType)
	if tt != models.TransactionB2B && tt != models.TransactionOperational {
		tt = taxonomy.DetectTransactionType(text, vendorName)
	}
	ext.TransactionType = &tt

	// Only a literal boolean counts; "unknown", 1, etc. stay nil.
	if b, ok := raw.IsPaid.(bool); ok {
		ext.IsPaid = &b
	}

	if conf := parseAmount(raw.Confidence); conf != nil {
		c := *conf
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		ext.Confidence = c
	}

	return ext
}

// stripFences removes markdown code fences and trims to the outermost JSON
// object, since models routinely wrap their answer in prose.
func stripFences(s string) string {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start != -1 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return cleaned
}

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
}

// normalizeDate maps common date spellings to YYYY-MM-DD. Unparseable input
// is returned as entered so a reviewer can fix it.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// parseAmount handles the number shapes models actually emit: JSON numbers,
// quoted numbers, and strings with thousands separators ("3,965.34").
func parseAmount(v any) *float64 {
	var d decimal.Decimal
	switch val := v.(type) {
	case float64:
		d = decimal.NewFromFloat(val)
	case int:
		d = decimal.NewFromInt(int64(val))
	case int64:
		d = decimal.NewFromInt(val)
	case json.Number:
		parsed, err := decimal.NewFromString(string(val))
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if cleaned == "" {
			return nil
		}
		parsed, err := decimal.NewFromString(cleaned)
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	f, _ := d.Float64()
	return &f
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
