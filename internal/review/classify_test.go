package review

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gulfstack/invoice-agent/internal/models"
)

func completeExtraction(conf float64) models.Extraction {
	return models.Extraction{
		Vendor:     models.Ptr("DEWA"),
		Date:       models.Ptr("2024-03-15"),
		Amount:     models.Ptr(525.00),
		Currency:   "AED",
		Confidence: conf,
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name       string
		ext        models.Extraction
		wantStatus models.Status
		wantReason string
	}{
		{
			name:       "complete and confident",
			ext:        completeExtraction(0.9),
			wantStatus: models.StatusOK,
			wantReason: "",
		},
		{
			name:       "exactly at ok threshold",
			ext:        completeExtraction(0.75),
			wantStatus: models.StatusOK,
			wantReason: "",
		},
		{
			name:       "medium confidence",
			ext:        completeExtraction(0.7),
			wantStatus: models.StatusNeedsReview,
			wantReason: "medium confidence (70%)",
		},
		{
			name:       "low confidence with complete fields",
			ext:        completeExtraction(0.5),
			wantStatus: models.StatusNeedsReview,
			wantReason: "low confidence (50%)",
		},
		{
			name: "missing amount only",
			ext: models.Extraction{
				Vendor:     models.Ptr("du"),
				Date:       models.Ptr("2024-01-02"),
				Confidence: 0.9,
			},
			wantStatus: models.StatusNeedsReview,
			wantReason: "no amount",
		},
		{
			name:       "everything missing",
			ext:        models.Extraction{Confidence: 0.3},
			wantStatus: models.StatusNeedsReview,
			wantReason: "no amount, no date, no vendor, low confidence (30%)",
		},
		{
			name: "empty vendor counts as missing",
			ext: models.Extraction{
				Vendor:     models.Ptr(""),
				Date:       models.Ptr("2024-01-02"),
				Amount:     models.Ptr(10.0),
				Confidence: 0.9,
			},
			wantStatus: models.StatusNeedsReview,
			wantReason: "no vendor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := Classify(tt.ext, th)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	strict := Thresholds{MinConfidence: 0.8, OKConfidence: 0.95}
	status, reason := Classify(completeExtraction(0.9), strict)
	assert.Equal(t, models.StatusNeedsReview, status)
	assert.Equal(t, "medium confidence (90%)", reason)
}
