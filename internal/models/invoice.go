package models

import "time"

// Status tracks an invoice record through the extraction/review lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusOK          Status = "ok"
	StatusNeedsReview Status = "needs_review"
	StatusError       Status = "error"
)

// Text source tags reported by the OCR layer.
const (
	SourcePDFText  = "pdf_text"
	SourceOCRImage = "ocr_image"
	SourceOCRPDF   = "ocr_pdf"
	SourceOCROnly  = "ocr_only"
)

// Transaction types.
const (
	TransactionB2B         = "b2b"
	TransactionOperational = "operational_expense"
)

// DefaultCurrency is assumed for UAE invoices unless the document states otherwise.
const DefaultCurrency = "AED"

// Invoice is the persisted state of one processed document.
// Nullable extracted fields are pointers: nil means "not extracted".
type Invoice struct {
	ID int64 `json:"id"`

	// File provenance
	FileOriginalName string `json:"file_original_name"`
	FileNewPath      string `json:"file_new_path"`
	Source           string `json:"source"` // upload, inbox, email

	// Email provenance (only set for email-sourced documents)
	EmailFrom      *string `json:"email_from,omitempty"`
	EmailSubject   *string `json:"email_subject,omitempty"`
	EmailMessageID *string `json:"email_message_id,omitempty"`

	// Extracted fields
	Date            *string  `json:"date"` // ISO YYYY-MM-DD
	Vendor          *string  `json:"vendor"`
	Amount          *float64 `json:"amount"`
	Currency        string   `json:"currency"`
	TaxAmount       *float64 `json:"tax_amount"`
	Category        *string  `json:"category"`
	PaymentMethod   *string  `json:"payment_method"`
	TransactionType *string  `json:"transaction_type"` // b2b | operational_expense
	IsPaid          *bool    `json:"is_paid"`

	// Extraction provenance
	TextSource           string   `json:"text_source,omitempty"`
	OCRConfidence        *float64 `json:"ocr_confidence"`
	ExtractionConfidence float64  `json:"extraction_confidence"`

	// Review workflow
	Status          Status           `json:"status"`
	Notes           string           `json:"notes"`
	ReviewReason    *string          `json:"review_reason"`
	ReviewQuestions []ReviewQuestion `json:"review_questions,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`

	ImportTimestamp time.Time  `json:"import_timestamp"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ReviewQuestion is one clarification asked of a human reviewer.
type ReviewQuestion struct {
	FieldName    string           `json:"field_name"`
	Question     string           `json:"question"`
	InputType    string           `json:"input_type"` // text, number, date, select, confirm_or_correct
	CurrentValue any              `json:"current_value"`
	Hint         string           `json:"hint,omitempty"`
	Options      []QuestionOption `json:"options,omitempty"`
}

// QuestionOption is one selectable choice for select questions.
type QuestionOption struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// Extraction is the coerced output of the LLM provider for one document.
// It carries only extracted fields plus the model's self-reported confidence;
// status and review questions are decided afterwards by the review package.
type Extraction struct {
	Vendor          *string
	Date            *string
	Amount          *float64
	Currency        string
	TaxAmount       *float64
	Category        *string
	PaymentMethod   *string
	TransactionType *string
	IsPaid          *bool
	Confidence      float64
}

// Ptr returns a pointer to v. Handy when building records in handlers and tests.
func Ptr[T any](v T) *T { return &v }
