// Package taxonomy holds the fixed UAE expense taxonomy: the eight spend
// categories, vendor name normalization, rule-based category detection and
// transaction-type detection. All matching is case-insensitive substring
// matching over lookup tables; order matters, so the tables are slices.
package taxonomy

import "strings"

// Categories is the closed set of expense categories, in priority order.
// The order is also the tie-break order for keyword scoring.
var Categories = []string{
	"Occupancy & Facilities",
	"Telecom & Connectivity",
	"Travel & Transport",
	"IT, Software & Cloud",
	"Professional, Banking & Insurance",
	"Office Supplies",
	"Marketing & Advertising",
	"Other Business Expenses",
}

// DefaultCategory is used when nothing else matches.
const DefaultCategory = "Other Business Expenses"

// UnknownVendor is the placeholder for a missing vendor name.
const UnknownVendor = "Unknown Vendor"

type vendorRule struct {
	pattern    string // matched as a substring of the lowercased vendor
	normalized string
}

// Earlier entries win, so the more specific patterns come first within
// each group.
var vendorRules = []vendorRule{
	// Utilities
	{"dewa", "DEWA"},
	{"dubai electricity", "DEWA"},
	{"dubai water", "DEWA"},
	{"dubai electricity and water", "DEWA"},
	{"dubai electricity & water authority", "DEWA"},

	// Telecom
	{"etisalat", "Etisalat"},
	{"e&", "Etisalat"},
	{"emirates telecommunications", "Etisalat"},
	{"du", "du"},
	{"emirates integrated telecommunications", "du"},
	{"virgin mobile", "Virgin Mobile"},

	// Fuel
	{"enoc", "ENOC"},
	{"emirates national oil company", "ENOC"},
	{"eppco", "EPPCO"},
	{"adnoc", "ADNOC"},
	{"abu dhabi national oil company", "ADNOC"},
	{"emarat", "Emarat"},

	// Government and RTA
	{"rta", "RTA"},
	{"roads and transport authority", "RTA"},
	{"roads & transport authority", "RTA"},
	{"salik", "Salik"},
	{"dubai land department", "Dubai Land Department"},
	{"dld", "Dubai Land Department"},
	{"ejari", "Ejari"},
	{"tawtheeq", "Tawtheeq"},
	{"amer", "AMER"},
	{"gdrfa", "GDRFA"},
	{"general directorate of residency", "GDRFA"},
	{"dubai municipality", "Dubai Municipality"},
	{"ded", "DED"},
	{"department of economic development", "DED"},
	{"mohre", "MOHRE"},
	{"ministry of human resources", "MOHRE"},

	// Cloud providers
	{"amazon web services", "AWS"},
	{"aws", "AWS"},
	{"microsoft azure", "Microsoft Azure"},
	{"azure", "Microsoft Azure"},
	{"google cloud", "Google Cloud"},
	{"gcp", "Google Cloud"},
}

// vendorCategory maps a normalized vendor straight to its category.
// Checked before any keyword scoring.
var vendorCategory = map[string]string{
	"DEWA": "Occupancy & Facilities",

	"Etisalat":      "Telecom & Connectivity",
	"du":            "Telecom & Connectivity",
	"Virgin Mobile": "Telecom & Connectivity",

	"ENOC":   "Travel & Transport",
	"EPPCO":  "Travel & Transport",
	"ADNOC":  "Travel & Transport",
	"Emarat": "Travel & Transport",

	"RTA":                   "Travel & Transport",
	"Salik":                 "Travel & Transport",
	"Dubai Land Department": "Occupancy & Facilities",
	"Ejari":                 "Occupancy & Facilities",
	"Tawtheeq":              "Occupancy & Facilities",
	"AMER":                  "Professional, Banking & Insurance",
	"GDRFA":                 "Professional, Banking & Insurance",
	"Dubai Municipality":    "Professional, Banking & Insurance",
	"DED":                   "Professional, Banking & Insurance",
	"MOHRE":                 "Professional, Banking & Insurance",

	"AWS":             "IT, Software & Cloud",
	"Microsoft Azure": "IT, Software & Cloud",
	"Google Cloud":    "IT, Software & Cloud",
}

// categoryKeywords drives the text scoring pass. Categories with no entry
// (Other Business Expenses) can only win as the default.
var categoryKeywords = map[string][]string{
	"Occupancy & Facilities": {
		"dewa", "electricity", "water bill", "utility bill",
		"office rent", "rental", "lease agreement", "tenancy",
		"ejari", "tawtheeq", "dld", "dubai land department",
		"chiller", "district cooling", "empower", "tabreed",
		"building maintenance", "facilities management", "fm contract",
		"cleaning services", "security services", "parking fees",
	},
	"Telecom & Connectivity": {
		"etisalat", "e&", "du", "virgin mobile",
		"mobile", "telecom", "internet", "broadband",
		"data plan", "phone bill", "sim card", "roaming",
		"landline", "voip", "fiber", "wifi",
	},
	"Travel & Transport": {
		"fuel", "petrol", "diesel", "enoc", "eppco", "adnoc", "emarat",
		"salik", "toll", "parking", "rta",
		"vehicle registration", "registration renewal", "mulkiya",
		"traffic fine", "vehicle insurance", "car rental",
		"taxi", "uber", "careem", "metro", "bus",
		"flight", "airline", "hotel", "travel",
	},
	"IT, Software & Cloud": {
		"aws", "amazon web services", "azure", "google cloud", "gcp",
		"software", "saas", "subscription", "license",
		"domain", "hosting", "server", "cloud storage",
		"microsoft 365", "office 365", "google workspace",
		"adobe", "zoom", "slack", "dropbox", "github",
		"antivirus", "cybersecurity", "ssl", "api",
	},
	"Professional, Banking & Insurance": {
		"trade license", "license renewal", "business license",
		"visa", "emirates id", "medical fitness", "immigration",
		"work permit", "labour card", "establishment card",
		"pro services", "public relations officer",
		"accounting", "audit", "bookkeeping", "tax consultancy",
		"legal", "lawyer", "attorney", "law firm",
		"insurance", "health insurance", "medical insurance",
		"business insurance", "liability insurance",
		"bank charges", "bank fees", "swift", "transfer fee",
	},
	"Office Supplies": {
		"stationery", "office supplies", "printer", "cartridge",
		"paper", "pens", "folders", "files",
		"desk", "chair", "furniture", "equipment",
		"pantry", "coffee", "water dispenser",
	},
	"Marketing & Advertising": {
		"marketing", "advertising", "ads", "campaign",
		"social media", "facebook ads", "google ads", "instagram",
		"seo", "sem", "digital marketing", "content creation",
		"branding", "design", "graphics", "print",
		"billboard", "signage", "banner", "flyer",
	},
}

// Recurring-cost keywords marking an operational expense rather than a
// supplier (B2B) invoice.
var operationalKeywords = []string{
	"dewa", "etisalat", "du", "virgin mobile",
	"rent", "ejari", "utility", "telecom",
	"visa", "emirates id", "medical fitness",
	"insurance", "government fee", "municipality",
}

var vendorSuffixes = []string{" LLC", " L.L.C", " FZ-LLC", " FZE", " FZCO", " PJSC", " EST"}

// Valid reports whether category is one of the eight taxonomy categories.
func Valid(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// NormalizeVendor cleans a raw vendor name. Known UAE entities collapse to
// their canonical short name; otherwise common legal suffixes are stripped.
func NormalizeVendor(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return UnknownVendor
	}

	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, rule := range vendorRules {
		if strings.Contains(lower, rule.pattern) {
			return rule.normalized
		}
	}

	clean := strings.TrimSpace(raw)
	for _, suffix := range vendorSuffixes {
		if strings.HasSuffix(strings.ToUpper(clean), suffix) {
			clean = strings.TrimSpace(clean[:len(clean)-len(suffix)])
		}
	}
	return clean
}

// DetectCategory runs the rule-based pass used to hint the LLM and to fill
// gaps in its answer. A direct vendor match wins; otherwise the document
// text is scored against the keyword tables and the best category is
// returned when it has at least two hits. Ties go to the earlier category.
// Returns "" when nothing is confident enough.
func DetectCategory(text, vendor string) string {
	if vendor != "" {
		if cat, ok := vendorCategory[NormalizeVendor(vendor)]; ok {
			return cat
		}
	}

	lower := strings.ToLower(text)
	best, bestScore := "", 0
	for _, category := range Categories {
		score := 0
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	if bestScore >= 2 {
		return best
	}
	return ""
}

// DetectTransactionType classifies a document as a recurring operational
// expense or a B2B supplier invoice.
func DetectTransactionType(text, vendor string) string {
	textLower := strings.ToLower(text)
	vendorLower := strings.ToLower(vendor)
	for _, kw := range operationalKeywords {
		if strings.Contains(textLower, kw) || strings.Contains(vendorLower, kw) {
			return "operational_expense"
		}
	}
	return "b2b"
}
