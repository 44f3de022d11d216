package review

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gulfstack/invoice-agent/internal/apperrors"
	"github.com/gulfstack/invoice-agent/internal/models"
)

// DefaultVATRate is the UAE VAT rate.
const DefaultVATRate = 0.05

// Fields a reviewer may set through resolve answers, in addition to any
// field a review question asked about. vat_inclusive is a directive consumed
// by NormalizeVAT, never stored.
var allowedAnswerFields = []string{
	"vendor",
	"date",
	"amount",
	"currency",
	"tax_amount",
	"category",
	"payment_method",
	"transaction_type",
	"is_paid",
	"notes",
	"vat_inclusive",
}

// CoerceBool interprets loosely-typed reviewer input as a boolean.
// Returns nil when the value cannot be read as one.
func CoerceBool(v any) *bool {
	switch b := v.(type) {
	case nil:
		return nil
	case bool:
		return &b
	case int:
		r := b != 0
		return &r
	case int64:
		r := b != 0
		return &r
	case float64:
		r := b != 0
		return &r
	case json.Number:
		if f, err := b.Float64(); err == nil {
			r := f != 0
			return &r
		}
		return nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "y":
			r := true
			return &r
		case "false", "0", "no", "n":
			r := false
			return &r
		}
		return nil
	default:
		return nil
	}
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func round2(f float64) float64 {
	out, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return out
}

// NormalizeVAT reconciles amount and tax_amount in a reviewer's answers
// using the vat_inclusive directive:
//
//   - vat_inclusive = true: amount is GROSS. Missing tax_amount becomes the
//     VAT portion inside the gross at the given rate.
//   - vat_inclusive = false: amount is NET. Missing tax_amount becomes
//     net x rate. The net amount is stored as entered; only the tax is
//     derived.
//
// Without the directive the answers pass through untouched. The input map
// is not modified.
func NormalizeVAT(answers map[string]any, rate float64) (map[string]any, error) {
	out := make(map[string]any, len(answers))
	for k, v := range answers {
		out[k] = v
	}

	raw, present := out["vat_inclusive"]
	if !present {
		return out, nil
	}
	inclusive := CoerceBool(raw)
	if inclusive == nil {
		return nil, apperrors.NewValidation("vat_inclusive must be a boolean")
	}

	// Without an amount there is nothing to reconcile; a provided
	// tax_amount still passes through.
	if amt, ok := out["amount"]; !ok || amt == nil {
		out["vat_inclusive"] = *inclusive
		return out, nil
	}

	entered, ok := coerceFloat(out["amount"])
	if !ok {
		return nil, apperrors.NewValidation("amount must be a number")
	}

	var tax *float64
	if tv, ok := out["tax_amount"]; ok && tv != nil && tv != "" {
		f, ok := coerceFloat(tv)
		if !ok {
			return nil, apperrors.NewValidation("tax_amount must be a number")
		}
		tax = &f
	}

	d := decimal.NewFromFloat(entered)
	rateD := decimal.NewFromFloat(rate)

	if *inclusive {
		if tax == nil {
			t, _ := d.Sub(d.Div(decimal.NewFromInt(1).Add(rateD))).Float64()
			tax = &t
		}
		out["amount"] = round2(entered)
		out["tax_amount"] = round2(*tax)
		out["vat_inclusive"] = true
		return out, nil
	}

	if tax == nil {
		t, _ := d.Mul(rateD).Float64()
		tax = &t
	}
	out["amount"] = round2(entered)
	out["tax_amount"] = round2(*tax)
	out["vat_inclusive"] = false
	return out, nil
}

// ApplyAnswers merges reviewer answers into the invoice and closes the
// review: status becomes ok, questions and reason are cleared, and the
// extraction confidence is raised to reflect human verification. Answers
// outside the allowlist (plus whatever the stored questions asked about)
// are rejected whole, nothing partially applied.
func ApplyAnswers(inv *models.Invoice, answers map[string]any, vatRate float64) error {
	if len(answers) > 0 {
		normalized, err := NormalizeVAT(answers, vatRate)
		if err != nil {
			return err
		}

		valid := make(map[string]bool, len(allowedAnswerFields))
		for _, f := range allowedAnswerFields {
			valid[f] = true
		}
		for _, q := range inv.ReviewQuestions {
			valid[q.FieldName] = true
		}

		var invalid []string
		for k := range normalized {
			if !valid[k] {
				invalid = append(invalid, k)
			}
		}
		if len(invalid) > 0 {
			sort.Strings(invalid)
			validList := make([]string, 0, len(valid))
			for f := range valid {
				validList = append(validList, f)
			}
			sort.Strings(validList)
			return apperrors.NewValidation("invalid fields: %s; valid fields are: %s",
				strings.Join(invalid, ", "), strings.Join(validList, ", "))
		}

		for k, v := range normalized {
			if k == "vat_inclusive" {
				continue
			}
			applyField(inv, k, v)
		}
	}

	inv.Status = models.StatusOK
	inv.ReviewQuestions = nil
	inv.ReviewReason = nil
	inv.ExtractionConfidence = 0.95
	return nil
}

func applyField(inv *models.Invoice, field string, v any) {
	switch field {
	case "vendor":
		inv.Vendor = coerceStringPtr(v)
	case "date":
		inv.Date = coerceStringPtr(v)
	case "currency":
		if s := coerceStringPtr(v); s != nil {
			inv.Currency = *s
		}
	case "category":
		inv.Category = coerceStringPtr(v)
	case "payment_method":
		inv.PaymentMethod = coerceStringPtr(v)
	case "transaction_type":
		inv.TransactionType = coerceStringPtr(v)
	case "notes":
		if s := coerceStringPtr(v); s != nil {
			inv.Notes = *s
		}
	case "amount":
		if f, ok := coerceFloat(v); ok {
			inv.Amount = &f
		} else if v == nil {
			inv.Amount = nil
		}
	case "tax_amount":
		if f, ok := coerceFloat(v); ok {
			inv.TaxAmount = &f
		} else if v == nil {
			inv.TaxAmount = nil
		}
	case "is_paid":
		inv.IsPaid = CoerceBool(v)
	}
}

func coerceStringPtr(v any) *string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return &s
	default:
		out := fmt.Sprint(v)
		return &out
	}
}
