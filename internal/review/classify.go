// Package review implements the extraction review engine: the status
// classifier, the clarification question builder, and the answer merge with
// VAT reconciliation.
package review

import (
	"fmt"
	"strings"

	"github.com/gulfstack/invoice-agent/internal/models"
)

// Thresholds are the confidence cut-offs for the classifier.
type Thresholds struct {
	// Below MinConfidence the extraction is flagged regardless of fields.
	MinConfidence float64
	// At or above OKConfidence a complete extraction passes without review.
	OKConfidence float64
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{MinConfidence: 0.6, OKConfidence: 0.75}
}

// Classify decides whether an extraction is accepted or routed to review.
// Returns the status and a short human-readable reason ("" when accepted).
func Classify(ext models.Extraction, th Thresholds) (models.Status, string) {
	var issues []string

	if ext.Amount == nil {
		issues = append(issues, "no amount")
	}
	if ext.Date == nil {
		issues = append(issues, "no date")
	}
	if ext.Vendor == nil || *ext.Vendor == "" {
		issues = append(issues, "no vendor")
	}

	conf := ext.Confidence
	if conf < th.MinConfidence {
		issues = append(issues, fmt.Sprintf("low confidence (%.0f%%)", conf*100))
	}

	if len(issues) > 0 {
		return models.StatusNeedsReview, strings.Join(issues, ", ")
	}

	if conf >= th.OKConfidence {
		return models.StatusOK, ""
	}

	return models.StatusNeedsReview, fmt.Sprintf("medium confidence (%.0f%%)", conf*100)
}
