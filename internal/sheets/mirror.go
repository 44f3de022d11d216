// Package sheets mirrors invoice records into a Google Sheets worksheet so
// reviewers can work in a spreadsheet. Column A holds the record id and is
// the upsert key; the layout is fixed at 22 columns (A:V).
package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/gulfstack/invoice-agent/internal/config"
	"github.com/gulfstack/invoice-agent/internal/models"
)

// Column order of the worksheet. Changing this breaks existing sheets.
var columns = []string{
	"id",
	"import_timestamp",
	"file_original_name",
	"file_new_path",
	"source",
	"date",
	"vendor",
	"amount",
	"currency",
	"tax_amount",
	"category",
	"payment_method",
	"transaction_type",
	"is_paid",
	"ocr_confidence",
	"extraction_confidence",
	"status",
	"notes",
	"reviewed_at",
	"email_from",
	"email_subject",
	"email_message_id",
}

// Mirror talks to one worksheet of one spreadsheet.
type Mirror struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	worksheet     string
}

// New builds the mirror from a service-account credentials file. Returns an
// error when the sheet is not configured; callers treat that as "no mirror".
func New(ctx context.Context, cfg config.SheetsConfig) (*Mirror, error) {
	if cfg.SpreadsheetID == "" || cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("sheets mirror not configured")
	}

	svc, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	worksheet := cfg.WorksheetName
	if worksheet == "" {
		worksheet = "Invoices"
	}
	return &Mirror{svc: svc, spreadsheetID: cfg.SpreadsheetID, worksheet: worksheet}, nil
}

// Upsert writes the record into the row whose column A matches its id,
// appending a new row (and a header row on an empty sheet) otherwise.
func (m *Mirror) Upsert(ctx context.Context, inv models.Invoice) error {
	idColumn, err := m.svc.Spreadsheets.Values.
		Get(m.spreadsheetID, m.worksheet+"!A:A").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading id column: %w", err)
	}

	if len(idColumn.Values) == 0 {
		if err := m.appendRow(ctx, headerRow()); err != nil {
			return err
		}
	}

	id := strconv.FormatInt(inv.ID, 10)
	rowIndex := 0
	for i, row := range idColumn.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		if cell, ok := row[0].(string); ok && strings.TrimSpace(cell) == id {
			rowIndex = i + 1 // sheet rows are 1-based
			break
		}
	}

	values := rowValues(inv)
	if rowIndex == 0 {
		return m.appendRow(ctx, values)
	}

	rangeName := fmt.Sprintf("%s!A%d:V%d", m.worksheet, rowIndex, rowIndex)
	_, err = m.svc.Spreadsheets.Values.
		Update(m.spreadsheetID, rangeName, &sheetsapi.ValueRange{Values: [][]any{values}}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("updating row %d: %w", rowIndex, err)
	}
	return nil
}

// PullAll reads the whole worksheet as column-name -> cell maps, skipping
// the header row.
func (m *Mirror) PullAll(ctx context.Context) ([]map[string]string, error) {
	resp, err := m.svc.Spreadsheets.Values.
		Get(m.spreadsheetID, m.worksheet+"!A:V").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading sheet: %w", err)
	}
	if len(resp.Values) < 2 {
		return nil, nil
	}

	headers := make([]string, len(resp.Values[0]))
	for i, h := range resp.Values[0] {
		headers[i] = strings.TrimSpace(fmt.Sprint(h))
	}

	var out []map[string]string
	for _, row := range resp.Values[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(row) {
				record[header] = fmt.Sprint(row[i])
			} else {
				record[header] = ""
			}
		}
		out = append(out, record)
	}
	return out, nil
}

func (m *Mirror) appendRow(ctx context.Context, values []any) error {
	_, err := m.svc.Spreadsheets.Values.
		Append(m.spreadsheetID, m.worksheet+"!A:V", &sheetsapi.ValueRange{Values: [][]any{values}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending row: %w", err)
	}
	return nil
}

func headerRow() []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return row
}

func rowValues(inv models.Invoice) []any {
	return []any{
		strconv.FormatInt(inv.ID, 10),
		inv.ImportTimestamp.Format("2006-01-02 15:04:05"),
		inv.FileOriginalName,
		inv.FileNewPath,
		inv.Source,
		strPtr(inv.Date),
		strPtr(inv.Vendor),
		floatPtr(inv.Amount),
		inv.Currency,
		floatPtr(inv.TaxAmount),
		strPtr(inv.Category),
		strPtr(inv.PaymentMethod),
		strPtr(inv.TransactionType),
		boolPtr(inv.IsPaid),
		floatPtr(inv.OCRConfidence),
		strconv.FormatFloat(inv.ExtractionConfidence, 'f', -1, 64),
		string(inv.Status),
		inv.Notes,
		timePtr(inv.ReviewedAt),
		strPtr(inv.EmailFrom),
		strPtr(inv.EmailSubject),
		strPtr(inv.EmailMessageID),
	}
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func boolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func timePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
