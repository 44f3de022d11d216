// Package pipeline orchestrates the invoice lifecycle: placeholder row,
// text extraction, LLM field extraction, classification, persistence, file
// organization and the review workflow. Collaborators sit behind small
// interfaces so the stages stay swappable and testable.
package pipeline

import (
	"context"

	"github.com/gulfstack/invoice-agent/internal/models"
)

// TextExtractor pulls raw text out of a document file.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, source string, err error)
}

// FieldExtractor turns raw text into a structured field bag.
type FieldExtractor interface {
	Extract(ctx context.Context, text, categoryHint string) (models.Extraction, error)
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	Insert(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, id int64) (*models.Invoice, error)
	List(ctx context.Context, status string, limit int) ([]models.Invoice, error)
	UpdateFields(ctx context.Context, id int64, updates map[string]any) error
	// UpdateLocked loads the record under a row lock, applies fn and writes
	// it back atomically.
	UpdateLocked(ctx context.Context, id int64, fn func(*models.Invoice) error) (*models.Invoice, error)
}

// FileOrganizer relocates a processed document into the archive tree.
type FileOrganizer interface {
	Move(originalPath, vendor, date, category string) (newPath string, err error)
}

// Mirror reflects records into an external spreadsheet and reads them back
// for reverse sync.
type Mirror interface {
	Upsert(ctx context.Context, inv models.Invoice) error
	// PullAll returns every mirrored row as a column-name -> cell map.
	PullAll(ctx context.Context) ([]map[string]string, error)
}
