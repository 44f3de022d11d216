package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/internal/apperrors"
	"github.com/gulfstack/invoice-agent/internal/models"
	"github.com/gulfstack/invoice-agent/internal/review"
	"github.com/gulfstack/invoice-agent/internal/taxonomy"
)

// Processor drives invoice records through the lifecycle.
type Processor struct {
	ocr        TextExtractor
	llm        FieldExtractor
	store      Store
	organizer  FileOrganizer
	mirror     Mirror // nil when no spreadsheet is configured
	thresholds review.Thresholds
	vatRate    float64
	log        *zap.Logger
}

func NewProcessor(ocr TextExtractor, llm FieldExtractor, store Store, organizer FileOrganizer, mirror Mirror, thresholds review.Thresholds, vatRate float64, log *zap.Logger) *Processor {
	if vatRate <= 0 {
		vatRate = review.DefaultVATRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		ocr:        ocr,
		llm:        llm,
		store:      store,
		organizer:  organizer,
		mirror:     mirror,
		thresholds: thresholds,
		vatRate:    vatRate,
		log:        log,
	}
}

// Register creates the placeholder row for a document so callers can show
// it immediately while extraction runs.
func (p *Processor) Register(ctx context.Context, path, source string) (*models.Invoice, error) {
	inv := &models.Invoice{
		FileOriginalName: filepath.Base(path),
		FileNewPath:      path,
		Source:           source,
		Currency:         models.DefaultCurrency,
		Status:           models.StatusProcessing,
		Notes:            "Processing…",
	}
	if err := p.store.Insert(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Process runs one document end to end. A placeholder row appears
// immediately with status processing; extraction failures mark that same
// row as error and never propagate a panic to the caller's batch. The
// returned record reflects the final persisted state.
func (p *Processor) Process(ctx context.Context, path, source string) (*models.Invoice, error) {
	inv, err := p.Register(ctx, path, source)
	if err != nil {
		return nil, err
	}
	return p.Complete(ctx, inv, path)
}

// Complete extracts and persists a registered document, marking the row as
// error when any stage fails.
func (p *Processor) Complete(ctx context.Context, inv *models.Invoice, path string) (*models.Invoice, error) {
	final, err := p.populate(ctx, inv.ID, path)
	if err != nil {
		p.log.Warn("invoice processing failed",
			zap.Int64("id", inv.ID),
			zap.String("file", inv.FileOriginalName),
			zap.Error(err))
		if _, markErr := p.store.UpdateLocked(ctx, inv.ID, func(row *models.Invoice) error {
			row.Status = models.StatusError
			row.Notes = "Processing error: " + err.Error()
			return nil
		}); markErr != nil {
			p.log.Error("could not mark record as error", zap.Int64("id", inv.ID), zap.Error(markErr))
		}
		inv.Status = models.StatusError
		inv.Notes = "Processing error: " + err.Error()
		return inv, err
	}
	return final, nil
}

// populate extracts, classifies and persists; then relocates the file and
// mirrors the row, both best-effort.
func (p *Processor) populate(ctx context.Context, id int64, path string) (*models.Invoice, error) {
	text, textSource, err := p.ocr.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}

	hint := taxonomy.DetectCategory(text, "")
	ext, err := p.llm.Extract(ctx, text, hint)
	if err != nil {
		return nil, err
	}

	status, reason := review.Classify(ext, p.thresholds)
	var questions []models.ReviewQuestion
	if status == models.StatusNeedsReview {
		questions, reason = review.BuildQuestions(ext)
	}
	notes := Excerpt(text, 400)

	final, err := p.store.UpdateLocked(ctx, id, func(row *models.Invoice) error {
		row.Date = ext.Date
		row.Vendor = ext.Vendor
		row.Amount = ext.Amount
		row.Currency = ext.Currency
		row.TaxAmount = ext.TaxAmount
		row.Category = ext.Category
		row.PaymentMethod = ext.PaymentMethod
		row.TransactionType = ext.TransactionType
		row.IsPaid = ext.IsPaid
		row.TextSource = textSource
		row.ExtractionConfidence = ext.Confidence
		row.Status = status
		row.Notes = notes
		row.ReviewQuestions = questions
		if reason == "" {
			row.ReviewReason = nil
		} else {
			row.ReviewReason = &reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The record is safe; moving the file and mirroring only improve on it.
	vendor, date, category := "", "", ""
	if final.Vendor != nil {
		vendor = *final.Vendor
	}
	if final.Date != nil {
		date = *final.Date
	}
	if final.Category != nil {
		category = *final.Category
	}
	if newPath, moveErr := p.organizer.Move(path, vendor, date, category); moveErr != nil {
		p.log.Warn("could not organize file", zap.Int64("id", id), zap.String("path", path), zap.Error(moveErr))
	} else {
		final.FileNewPath = newPath
		if err := p.store.UpdateFields(ctx, id, map[string]any{"file_new_path": newPath}); err != nil {
			p.log.Warn("could not record organized path", zap.Int64("id", id), zap.Error(err))
		}
	}

	p.mirrorUpsert(ctx, *final)
	return final, nil
}

// GetOrBuildQuestions returns the persisted review questions for a record,
// generating and storing them on first access for needs_review rows.
// Idempotent: repeated calls return the same stored questions.
func (p *Processor) GetOrBuildQuestions(ctx context.Context, id int64) ([]models.ReviewQuestion, *string, error) {
	inv, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if len(inv.ReviewQuestions) > 0 {
		return inv.ReviewQuestions, inv.ReviewReason, nil
	}
	if inv.Status != models.StatusNeedsReview {
		return nil, inv.ReviewReason, nil
	}

	updated, err := p.store.UpdateLocked(ctx, id, func(row *models.Invoice) error {
		if len(row.ReviewQuestions) > 0 || row.Status != models.StatusNeedsReview {
			return nil
		}
		questions, reason := review.BuildQuestions(extractionSnapshot(row))
		row.ReviewQuestions = questions
		row.ReviewReason = &reason
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated.ReviewQuestions, updated.ReviewReason, nil
}

// Resolve closes a review by merging the reviewer's answers. Only
// needs_review records can be resolved; anything else is a state conflict.
// The row lock serializes concurrent resolves of the same record, so the
// loser of the race sees the conflict instead of double-applying.
func (p *Processor) Resolve(ctx context.Context, id int64, answers map[string]any) (*models.Invoice, error) {
	inv, err := p.store.UpdateLocked(ctx, id, func(row *models.Invoice) error {
		if row.Status != models.StatusNeedsReview {
			return apperrors.NewStateConflict(string(row.Status),
				"invoice status is %q, not %q: nothing to resolve", row.Status, models.StatusNeedsReview)
		}
		if len(row.ReviewQuestions) == 0 {
			questions, reason := review.BuildQuestions(extractionSnapshot(row))
			row.ReviewQuestions = questions
			row.ReviewReason = &reason
		}
		if err := review.ApplyAnswers(row, answers, p.vatRate); err != nil {
			return err
		}
		now := time.Now()
		row.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mirrorUpsert(ctx, *inv)
	return inv, nil
}

// MarkReviewed approves a record as-is without answers. An optional note is
// appended to the record's notes.
func (p *Processor) MarkReviewed(ctx context.Context, id int64, note string) (*models.Invoice, error) {
	inv, err := p.store.UpdateLocked(ctx, id, func(row *models.Invoice) error {
		row.Status = models.StatusOK
		row.ReviewQuestions = nil
		row.ReviewReason = nil
		if note != "" {
			row.Notes = strings.TrimSpace(row.Notes + "\n[Manually reviewed] " + note)
		}
		now := time.Now()
		row.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mirrorUpsert(ctx, *inv)
	return inv, nil
}

// SyncRecord re-mirrors one record, e.g. after a manual field update.
func (p *Processor) SyncRecord(ctx context.Context, id int64) error {
	inv, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	p.mirrorUpsert(ctx, *inv)
	return nil
}

// Fields the spreadsheet is allowed to write back into the database.
// Identity, money entry and file locations stay DB-owned.
var mirrorWritableFields = []string{
	"vendor", "tax_amount", "category", "payment_method", "transaction_type", "is_paid", "notes",
}

// SyncFromMirror pulls the spreadsheet and applies edits inside the
// allowlist back to matching records. Returns how many records changed.
func (p *Processor) SyncFromMirror(ctx context.Context) (int, error) {
	if p.mirror == nil {
		return 0, nil
	}
	rows, err := p.mirror.PullAll(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		id, err := strconv.ParseInt(strings.TrimSpace(row["id"]), 10, 64)
		if err != nil {
			continue
		}
		inv, err := p.store.Get(ctx, id)
		if err != nil {
			continue
		}

		updates := map[string]any{}
		for _, field := range mirrorWritableFields {
			cell, ok := row[field]
			if !ok {
				continue
			}
			if value, changed := mirrorFieldChange(inv, field, cell); changed {
				updates[field] = value
			}
		}
		if len(updates) == 0 {
			continue
		}
		if err := p.store.UpdateFields(ctx, id, updates); err != nil {
			p.log.Warn("reverse sync update failed", zap.Int64("id", id), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// mirrorFieldChange coerces a sheet cell for one field and reports whether
// it differs from the stored value.
func mirrorFieldChange(inv *models.Invoice, field, cell string) (any, bool) {
	cell = strings.TrimSpace(cell)
	switch field {
	case "tax_amount":
		if cell == "" {
			return nil, inv.TaxAmount != nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
		if err != nil {
			return nil, false
		}
		return f, inv.TaxAmount == nil || *inv.TaxAmount != f
	case "is_paid":
		if cell == "" {
			return nil, inv.IsPaid != nil
		}
		b := review.CoerceBool(cell)
		if b == nil {
			return nil, false
		}
		return *b, inv.IsPaid == nil || *inv.IsPaid != *b
	case "notes":
		return cell, inv.Notes != cell
	default: // vendor, category, payment_method, transaction_type
		current := ""
		switch field {
		case "vendor":
			if inv.Vendor != nil {
				current = *inv.Vendor
			}
		case "category":
			if inv.Category != nil {
				current = *inv.Category
			}
		case "payment_method":
			if inv.PaymentMethod != nil {
				current = *inv.PaymentMethod
			}
		case "transaction_type":
			if inv.TransactionType != nil {
				current = *inv.TransactionType
			}
		}
		if cell == "" {
			return nil, current != ""
		}
		return cell, current != cell
	}
}

func (p *Processor) mirrorUpsert(ctx context.Context, inv models.Invoice) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.Upsert(ctx, inv); err != nil {
		p.log.Warn("could not sync record to mirror", zap.Int64("id", inv.ID), zap.Error(err))
	}
}

// extractionSnapshot views a persisted record as an extraction so the
// question builder can run over it.
func extractionSnapshot(inv *models.Invoice) models.Extraction {
	return models.Extraction{
		Vendor:          inv.Vendor,
		Date:            inv.Date,
		Amount:          inv.Amount,
		Currency:        inv.Currency,
		TaxAmount:       inv.TaxAmount,
		Category:        inv.Category,
		PaymentMethod:   inv.PaymentMethod,
		TransactionType: inv.TransactionType,
		IsPaid:          inv.IsPaid,
		Confidence:      inv.ExtractionConfidence,
	}
}

// Excerpt collapses whitespace and trims the text to at most width runes,
// breaking on a word boundary with an ellipsis.
func Excerpt(text string, width int) string {
	joined := strings.Join(strings.Fields(text), " ")
	runes := []rune(joined)
	if len(runes) <= width {
		return joined
	}

	cut := width - 1 // room for the ellipsis
	truncated := string(runes[:cut])
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + "…"
}
