package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gulfstack/invoice-agent/internal/apperrors"
	"github.com/gulfstack/invoice-agent/internal/models"
)

// Store persists invoice records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS invoices (
	id                    BIGSERIAL PRIMARY KEY,
	import_timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
	file_original_name    TEXT NOT NULL DEFAULT '',
	file_new_path         TEXT NOT NULL DEFAULT '',
	source                TEXT NOT NULL DEFAULT 'upload',
	email_from            TEXT,
	email_subject         TEXT,
	email_message_id      TEXT,
	date                  TEXT,
	vendor                TEXT,
	amount                DOUBLE PRECISION,
	currency              TEXT NOT NULL DEFAULT 'AED',
	tax_amount            DOUBLE PRECISION,
	category              TEXT,
	payment_method        TEXT,
	transaction_type      TEXT,
	is_paid               BOOLEAN,
	text_source           TEXT NOT NULL DEFAULT '',
	ocr_confidence        DOUBLE PRECISION,
	extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending',
	notes                 TEXT NOT NULL DEFAULT '',
	review_reason         TEXT,
	review_questions      JSONB,
	reviewed_at           TIMESTAMPTZ,
	updated_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices (status);
CREATE INDEX IF NOT EXISTS idx_invoices_import_timestamp ON invoices (import_timestamp);
`

// InitSchema creates the invoices table when missing.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

const invoiceColumns = `
	id, import_timestamp, COALESCE(file_original_name, ''), COALESCE(file_new_path, ''),
	COALESCE(source, 'upload'), email_from, email_subject, email_message_id,
	date, vendor, amount, COALESCE(currency, 'AED'), tax_amount, category,
	payment_method, transaction_type, is_paid, COALESCE(text_source, ''),
	ocr_confidence, COALESCE(extraction_confidence, 0), COALESCE(status, 'pending'),
	COALESCE(notes, ''), review_reason, review_questions, reviewed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var status string
	var questionsJSON []byte

	err := row.Scan(
		&inv.ID, &inv.ImportTimestamp, &inv.FileOriginalName, &inv.FileNewPath,
		&inv.Source, &inv.EmailFrom, &inv.EmailSubject, &inv.EmailMessageID,
		&inv.Date, &inv.Vendor, &inv.Amount, &inv.Currency, &inv.TaxAmount, &inv.Category,
		&inv.PaymentMethod, &inv.TransactionType, &inv.IsPaid, &inv.TextSource,
		&inv.OCRConfidence, &inv.ExtractionConfidence, &status,
		&inv.Notes, &inv.ReviewReason, &questionsJSON, &inv.ReviewedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = models.Status(status)
	if len(questionsJSON) > 0 {
		// Corrupt JSON leaves questions empty; the review flow rebuilds them.
		_ = json.Unmarshal(questionsJSON, &inv.ReviewQuestions)
	}
	return &inv, nil
}

// Insert writes a new record and fills in its id and import timestamp.
func (s *Store) Insert(ctx context.Context, inv *models.Invoice) error {
	questionsJSON, err := marshalQuestions(inv.ReviewQuestions)
	if err != nil {
		return err
	}
	if inv.Currency == "" {
		inv.Currency = models.DefaultCurrency
	}
	if inv.Status == "" {
		inv.Status = models.StatusPending
	}

	query := `
		INSERT INTO invoices (
			file_original_name, file_new_path, source,
			email_from, email_subject, email_message_id,
			date, vendor, amount, currency, tax_amount, category,
			payment_method, transaction_type, is_paid,
			text_source, ocr_confidence, extraction_confidence,
			status, notes, review_reason, review_questions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		          $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, import_timestamp`

	return s.pool.QueryRow(ctx, query,
		inv.FileOriginalName, inv.FileNewPath, inv.Source,
		inv.EmailFrom, inv.EmailSubject, inv.EmailMessageID,
		inv.Date, inv.Vendor, inv.Amount, inv.Currency, inv.TaxAmount, inv.Category,
		inv.PaymentMethod, inv.TransactionType, inv.IsPaid,
		inv.TextSource, inv.OCRConfidence, inv.ExtractionConfidence,
		string(inv.Status), inv.Notes, inv.ReviewReason, questionsJSON,
	).Scan(&inv.ID, &inv.ImportTimestamp)
}

// Get returns one record or apperrors.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*models.Invoice, error) {
	query := "SELECT" + invoiceColumns + " FROM invoices WHERE id = $1"
	inv, err := scanInvoice(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return inv, err
}

// List returns records newest-first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 200
	}

	query := "SELECT" + invoiceColumns + " FROM invoices"
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY import_timestamp DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// Columns settable through UpdateFields. Everything else changes only
// through Insert or UpdateLocked.
var updatableColumns = map[string]bool{
	"file_original_name":    true,
	"file_new_path":         true,
	"date":                  true,
	"vendor":                true,
	"amount":                true,
	"currency":              true,
	"tax_amount":            true,
	"category":              true,
	"payment_method":        true,
	"transaction_type":      true,
	"is_paid":               true,
	"text_source":           true,
	"ocr_confidence":        true,
	"extraction_confidence": true,
	"status":                true,
	"notes":                 true,
	"review_reason":         true,
	"review_questions":      true,
	"reviewed_at":           true,
}

// UpdateFields applies a partial update built from a column/value map.
func (s *Store) UpdateFields(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	sets := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+2)
	i := 1
	for key, value := range updates {
		if !updatableColumns[key] {
			return apperrors.NewValidation("column %q is not updatable", key)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", key, i))
		args = append(args, value)
		i++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now())
	i++
	args = append(args, id)

	query := fmt.Sprintf("UPDATE invoices SET %s WHERE id = $%d", strings.Join(sets, ", "), i)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM invoices WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateLocked loads the record under a row lock, applies fn, and writes the
// result back in the same transaction. Concurrent resolves of one record
// serialize here. An error from fn rolls back and is returned as-is.
func (s *Store) UpdateLocked(ctx context.Context, id int64, fn func(*models.Invoice) error) (*models.Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := "SELECT" + invoiceColumns + " FROM invoices WHERE id = $1 FOR UPDATE"
	inv, err := scanInvoice(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := fn(inv); err != nil {
		return nil, err
	}

	questionsJSON, err := marshalQuestions(inv.ReviewQuestions)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	inv.UpdatedAt = &now

	_, err = tx.Exec(ctx, `
		UPDATE invoices SET
			file_original_name = $2, file_new_path = $3,
			date = $4, vendor = $5, amount = $6, currency = $7, tax_amount = $8,
			category = $9, payment_method = $10, transaction_type = $11, is_paid = $12,
			text_source = $13, ocr_confidence = $14, extraction_confidence = $15,
			status = $16, notes = $17, review_reason = $18, review_questions = $19,
			reviewed_at = $20, updated_at = $21
		WHERE id = $1`,
		inv.ID, inv.FileOriginalName, inv.FileNewPath,
		inv.Date, inv.Vendor, inv.Amount, inv.Currency, inv.TaxAmount,
		inv.Category, inv.PaymentMethod, inv.TransactionType, inv.IsPaid,
		inv.TextSource, inv.OCRConfidence, inv.ExtractionConfidence,
		string(inv.Status), inv.Notes, inv.ReviewReason, questionsJSON,
		inv.ReviewedAt, inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inv, nil
}

func marshalQuestions(questions []models.ReviewQuestion) ([]byte, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	return json.Marshal(questions)
}
