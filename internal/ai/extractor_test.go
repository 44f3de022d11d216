package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfstack/invoice-agent/internal/models"
)

type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) ExtractData(_ context.Context, _, _ string) (string, error) {
	return s.response, s.err
}

func (s *stubProvider) Name() string { return "stub" }

func TestExtractParsesCleanResponse(t *testing.T) {
	e := NewExtractor(&stubProvider{response: `{
		"vendor": "DUBAI ELECTRICITY AND WATER AUTHORITY",
		"date": "15/03/2024",
		"amount": "1,234.50",
		"currency": "aed",
		"tax_amount": 58.79,
		"category": "Occupancy & Facilities",
		"payment_method": "card",
		"transaction_type": "operational_expense",
		"is_paid": true,
		"extraction_confidence": 0.92
	}`})

	ext, err := e.Extract(context.Background(), "DEWA bill", "")
	require.NoError(t, err)

	require.NotNil(t, ext.Vendor)
	assert.Equal(t, "DEWA", *ext.Vendor)
	require.NotNil(t, ext.Date)
	assert.Equal(t, "2024-03-15", *ext.Date)
	require.NotNil(t, ext.Amount)
	assert.Equal(t, 1234.50, *ext.Amount)
	assert.Equal(t, "AED", ext.Currency)
	require.NotNil(t, ext.TaxAmount)
	assert.Equal(t, 58.79, *ext.TaxAmount)
	require.NotNil(t, ext.Category)
	assert.Equal(t, "Occupancy & Facilities", *ext.Category)
	require.NotNil(t, ext.TransactionType)
	assert.Equal(t, "operational_expense", *ext.TransactionType)
	require.NotNil(t, ext.IsPaid)
	assert.True(t, *ext.IsPaid)
	assert.Equal(t, 0.92, ext.Confidence)
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	e := NewExtractor(&stubProvider{response: "Here is the result:\n```json\n{\"vendor\": \"Acme Trading LLC\", \"extraction_confidence\": 0.8}\n```\nDone."})

	ext, err := e.Extract(context.Background(), "some text", "")
	require.NoError(t, err)
	require.NotNil(t, ext.Vendor)
	assert.Equal(t, "Acme Trading", *ext.Vendor)
	assert.Equal(t, 0.8, ext.Confidence)
}

func TestExtractInvalidCategoryFallsBack(t *testing.T) {
	t.Run("to hint", func(t *testing.T) {
		e := NewExtractor(&stubProvider{response: `{"category": "Groceries"}`})
		ext, err := e.Extract(context.Background(), "", "Telecom & Connectivity")
		require.NoError(t, err)
		require.NotNil(t, ext.Category)
		assert.Equal(t, "Telecom & Connectivity", *ext.Category)
	})

	t.Run("to default without hint", func(t *testing.T) {
		e := NewExtractor(&stubProvider{response: `{"category": "Groceries"}`})
		ext, err := e.Extract(context.Background(), "", "")
		require.NoError(t, err)
		require.NotNil(t, ext.Category)
		assert.Equal(t, "Other Business Expenses", *ext.Category)
	})

	t.Run("missing category takes hint", func(t *testing.T) {
		e := NewExtractor(&stubProvider{response: `{}`})
		ext, err := e.Extract(context.Background(), "", "Office Supplies")
		require.NoError(t, err)
		require.NotNil(t, ext.Category)
		assert.Equal(t, "Office Supplies", *ext.Category)
	})
}

func TestExtractGarbageResponse(t *testing.T) {
	e := NewExtractor(&stubProvider{response: "I could not read this document, sorry."})

	ext, err := e.Extract(context.Background(), "blurry scan", "")
	require.NoError(t, err)
	assert.Nil(t, ext.Vendor)
	assert.Nil(t, ext.Amount)
	assert.Equal(t, models.DefaultCurrency, ext.Currency)
	assert.Zero(t, ext.Confidence)
}

func TestExtractTransactionTypeFallback(t *testing.T) {
	e := NewExtractor(&stubProvider{response: `{"vendor": "Etisalat", "transaction_type": "personal"}`})

	ext, err := e.Extract(context.Background(), "etisalat phone bill", "")
	require.NoError(t, err)
	require.NotNil(t, ext.TransactionType)
	assert.Equal(t, "operational_expense", *ext.TransactionType)
}

func TestExtractNonBooleanIsPaidStaysNil(t *testing.T) {
	e := NewExtractor(&stubProvider{response: `{"is_paid": "probably"}`})

	ext, err := e.Extract(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, ext.IsPaid)
}

func TestExtractConfidenceClamped(t *testing.T) {
	e := NewExtractor(&stubProvider{response: `{"extraction_confidence": 7.5}`})
	ext, err := e.Extract(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ext.Confidence)
}
