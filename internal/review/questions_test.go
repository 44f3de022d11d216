package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfstack/invoice-agent/internal/models"
)

func fieldNames(qs []models.ReviewQuestion) []string {
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.FieldName
	}
	return names
}

func TestBuildQuestionsEmptyExtraction(t *testing.T) {
	qs, reason := BuildQuestions(models.Extraction{Confidence: 0.2})

	// Five fields are missing but the list is capped at four, in priority order.
	require.Len(t, qs, 4)
	assert.Equal(t, []string{"amount", "date", "vendor", "is_paid"}, fieldNames(qs))
	assert.Equal(t, "Needs review: amount missing, date missing, vendor missing (+2 more)", reason)
}

func TestBuildQuestionsPartialExtraction(t *testing.T) {
	ext := models.Extraction{
		Vendor:     models.Ptr("Etisalat"),
		Date:       models.Ptr("2024-05-01"),
		Amount:     models.Ptr(315.0),
		IsPaid:     models.Ptr(true),
		Confidence: 0.65,
	}
	qs, reason := BuildQuestions(ext)

	require.Len(t, qs, 1)
	assert.Equal(t, "category", qs[0].FieldName)
	assert.Equal(t, "select", qs[0].InputType)
	assert.Len(t, qs[0].Options, 8)
	assert.Equal(t, "Needs review: category missing", reason)
}

func TestBuildQuestionsLowConfidenceFallback(t *testing.T) {
	ext := models.Extraction{
		Vendor:     models.Ptr("ADNOC"),
		Date:       models.Ptr("2024-02-10"),
		Amount:     models.Ptr(105.0),
		Category:   models.Ptr("Travel & Transport"),
		IsPaid:     models.Ptr(true),
		Confidence: 0.4,
	}
	qs, reason := BuildQuestions(ext)

	require.Len(t, qs, 1)
	assert.Equal(t, "amount", qs[0].FieldName)
	assert.Equal(t, "confirm_or_correct", qs[0].InputType)
	assert.Equal(t, "Please verify: is the total amount AED 105.00?", qs[0].Question)
	assert.Equal(t, 105.0, qs[0].CurrentValue)
	assert.Equal(t, "Needs review: low extraction confidence", reason)
}

func TestBuildQuestionsNoFallbackWhenOtherQuestionsExist(t *testing.T) {
	// Low confidence plus a missing field: only the field question fires.
	ext := models.Extraction{
		Vendor:     models.Ptr("ADNOC"),
		Date:       models.Ptr("2024-02-10"),
		Amount:     models.Ptr(105.0),
		Category:   models.Ptr("Travel & Transport"),
		Confidence: 0.4,
	}
	qs, _ := BuildQuestions(ext)

	require.Len(t, qs, 1)
	assert.Equal(t, "is_paid", qs[0].FieldName)
}

func TestBuildQuestionsNothingToAsk(t *testing.T) {
	ext := models.Extraction{
		Vendor:     models.Ptr("ADNOC"),
		Date:       models.Ptr("2024-02-10"),
		Amount:     models.Ptr(105.0),
		Category:   models.Ptr("Travel & Transport"),
		IsPaid:     models.Ptr(false),
		Confidence: 0.7,
	}
	qs, reason := BuildQuestions(ext)

	assert.Empty(t, qs)
	assert.Equal(t, "Needs manual verification", reason)
}

func TestBuildQuestionsDeterministic(t *testing.T) {
	ext := models.Extraction{Confidence: 0.1}
	a, reasonA := BuildQuestions(ext)
	b, reasonB := BuildQuestions(ext)
	assert.Equal(t, a, b)
	assert.Equal(t, reasonA, reasonB)
}
