package review

import (
	"fmt"
	"strings"

	"github.com/gulfstack/invoice-agent/internal/models"
)

// Below this confidence a complete extraction still gets one
// confirm-or-correct question on the amount.
const verifyConfidence = 0.5

const maxQuestions = 4

var categoryOptions = []models.QuestionOption{
	{Value: "Occupancy & Facilities", Label: "Occupancy & Facilities (rent, DEWA, Ejari)"},
	{Value: "Telecom & Connectivity", Label: "Telecom & Connectivity (Etisalat, du)"},
	{Value: "Travel & Transport", Label: "Travel & Transport (Salik, RTA, fuel)"},
	{Value: "IT, Software & Cloud", Label: "IT, Software & Cloud (AWS, subscriptions)"},
	{Value: "Professional, Banking & Insurance", Label: "Professional & Banking (licenses, insurance, PRO)"},
	{Value: "Office Supplies", Label: "Office Supplies"},
	{Value: "Marketing & Advertising", Label: "Marketing & Advertising"},
	{Value: "Other Business Expenses", Label: "Other Business Expenses"},
}

// BuildQuestions generates targeted clarification questions for what is
// missing or uncertain in an extraction, capped at four, plus the reason
// string shown to the reviewer. Deterministic: same extraction, same output.
func BuildQuestions(ext models.Extraction) ([]models.ReviewQuestion, string) {
	var questions []models.ReviewQuestion
	var reasons []string

	if ext.Amount == nil {
		questions = append(questions, models.ReviewQuestion{
			FieldName: "amount",
			Question:  "What is the total amount on this invoice?",
			InputType: "number",
			Hint:      "Enter the final total including VAT (in AED unless stated otherwise)",
		})
		reasons = append(reasons, "amount missing")
	}

	if ext.Date == nil {
		questions = append(questions, models.ReviewQuestion{
			FieldName: "date",
			Question:  "What is the invoice date?",
			InputType: "date",
			Hint:      "Format: DD/MM/YYYY (e.g., 15/03/2024)",
		})
		reasons = append(reasons, "date missing")
	}

	if ext.Vendor == nil || strings.TrimSpace(*ext.Vendor) == "" {
		q := models.ReviewQuestion{
			FieldName: "vendor",
			Question:  "Who is the vendor or supplier?",
			InputType: "text",
			Hint:      "Company name as shown on the invoice",
		}
		if ext.Vendor != nil {
			q.CurrentValue = *ext.Vendor
		}
		questions = append(questions, q)
		reasons = append(reasons, "vendor missing")
	}

	if ext.IsPaid == nil {
		questions = append(questions, models.ReviewQuestion{
			FieldName: "is_paid",
			Question:  "Has this invoice been paid?",
			InputType: "select",
			Options: []models.QuestionOption{
				{Value: true, Label: "Yes, paid"},
				{Value: false, Label: "No, still outstanding"},
				{Value: nil, Label: "Not sure"},
			},
		})
		reasons = append(reasons, "payment status unclear")
	}

	if ext.Category == nil {
		questions = append(questions, models.ReviewQuestion{
			FieldName: "category",
			Question:  "What category does this expense belong to?",
			InputType: "select",
			Options:   categoryOptions,
		})
		reasons = append(reasons, "category missing")
	}

	// All fields present but the model is unsure of itself: ask to verify
	// the amount instead of asking nothing.
	if ext.Confidence < verifyConfidence && len(questions) == 0 {
		questions = append(questions, models.ReviewQuestion{
			FieldName:    "amount",
			Question:     fmt.Sprintf("Please verify: is the total amount AED %.2f?", *ext.Amount),
			InputType:    "confirm_or_correct",
			CurrentValue: *ext.Amount,
			Hint:         "Confirm if correct, or enter the right amount",
		})
		reasons = append(reasons, "low extraction confidence")
	}

	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}

	reason := "Needs manual verification"
	if len(reasons) > 0 {
		shown := reasons
		if len(shown) > 3 {
			shown = shown[:3]
		}
		reason = "Needs review: " + strings.Join(shown, ", ")
		if len(reasons) > 3 {
			reason += fmt.Sprintf(" (+%d more)", len(reasons)-3)
		}
	}

	return questions, reason
}
