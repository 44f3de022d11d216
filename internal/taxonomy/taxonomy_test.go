package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVendor(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "Unknown Vendor"},
		{"whitespace only", "   ", "Unknown Vendor"},
		{"dewa long form", "DUBAI ELECTRICITY AND WATER AUTHORITY", "DEWA"},
		{"etisalat rebrand", "etisalat by e&", "Etisalat"},
		{"adnoc long form", "Abu Dhabi National Oil Company", "ADNOC"},
		{"salik", "SALIK TOLL GATE", "Salik"},
		{"cloud", "Amazon Web Services EMEA SARL", "AWS"},
		{"llc suffix stripped", "Acme Trading LLC", "Acme Trading"},
		{"fz-llc suffix stripped", "Bright Media FZ-LLC", "Bright Media"},
		{"plain vendor untouched", "Jumbo Electronics", "Jumbo Electronics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeVendor(tt.raw))
		})
	}
}

func TestDetectCategory(t *testing.T) {
	t.Run("vendor match beats keywords", func(t *testing.T) {
		// Text full of travel words, but the vendor is a utility.
		got := DetectCategory("fuel petrol salik toll parking", "DEWA")
		assert.Equal(t, "Occupancy & Facilities", got)
	})

	t.Run("keyword scoring needs two hits", func(t *testing.T) {
		assert.Equal(t, "", DetectCategory("monthly insurance", ""))
		got := DetectCategory("health insurance premium and bank charges", "")
		assert.Equal(t, "Professional, Banking & Insurance", got)
	})

	t.Run("no signal returns empty", func(t *testing.T) {
		assert.Equal(t, "", DetectCategory("lorem ipsum dolor", ""))
	})

	t.Run("telecom bill", func(t *testing.T) {
		got := DetectCategory("etisalat monthly mobile data plan phone bill", "")
		assert.Equal(t, "Telecom & Connectivity", got)
	})
}

func TestDetectTransactionType(t *testing.T) {
	assert.Equal(t, "operational_expense", DetectTransactionType("DEWA bill for July", ""))
	assert.Equal(t, "operational_expense", DetectTransactionType("", "Ejari Registration"))
	assert.Equal(t, "b2b", DetectTransactionType("supply of steel pipes", "Gulf Steel Trading"))
}

func TestValid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, Valid(c))
	}
	assert.False(t, Valid("Groceries"))
	assert.False(t, Valid(""))
}
