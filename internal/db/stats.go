package db

import (
	"context"
	"time"
)

// MonthlyStats summarizes the current calendar month.
type MonthlyStats struct {
	Month            string          `json:"month"`
	InvoiceCount     int             `json:"invoice_count"`
	TotalAmount      float64         `json:"total_amount"`
	TotalVAT         float64         `json:"total_vat"`
	NeedsReviewCount int             `json:"needs_review_count"`
	ByCategory       []CategoryTotal `json:"by_category"`
}

type CategoryTotal struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Total    float64 `json:"total"`
}

// GetMonthlyStats aggregates spend for the current month by import time.
func (s *Store) GetMonthlyStats(ctx context.Context) (*MonthlyStats, error) {
	stats := &MonthlyStats{Month: time.Now().Format("2006-01")}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(tax_amount), 0),
			COUNT(*) FILTER (WHERE status = 'needs_review')
		FROM invoices
		WHERE DATE_TRUNC('month', import_timestamp) = DATE_TRUNC('month', CURRENT_DATE)
	`).Scan(&stats.InvoiceCount, &stats.TotalAmount, &stats.TotalVAT, &stats.NeedsReviewCount)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(category, 'Uncategorized'), COUNT(*), COALESCE(SUM(amount), 0)
		FROM invoices
		WHERE DATE_TRUNC('month', import_timestamp) = DATE_TRUNC('month', CURRENT_DATE)
		GROUP BY 1
		ORDER BY 3 DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Count, &ct.Total); err != nil {
			return nil, err
		}
		stats.ByCategory = append(stats.ByCategory, ct)
	}
	return stats, rows.Err()
}

// InsightRow is the slice of a record the VAT insight needs. Dates live in a
// text column (unparseable extractions are stored as entered), so filtering
// by year happens in Go, not SQL.
type InsightRow struct {
	Date      *string
	Amount    *float64
	TaxAmount *float64
}

// ListForInsight returns date/amount/tax for every record.
func (s *Store) ListForInsight(ctx context.Context) ([]InsightRow, error) {
	rows, err := s.pool.Query(ctx, "SELECT date, amount, tax_amount FROM invoices")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InsightRow
	for rows.Next() {
		var r InsightRow
		if err := rows.Scan(&r.Date, &r.Amount, &r.TaxAmount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
