// Package export renders invoice records as an XLSX workbook for download.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/internal/models"
)

const sheetName = "Invoices"

var headers = []string{
	"ID",
	"Import Date",
	"Invoice Date",
	"Vendor",
	"Amount",
	"Currency",
	"Tax Amount",
	"Category",
	"Payment Method",
	"Transaction Type",
	"Paid",
	"Status",
	"Confidence",
	"Notes",
	"File",
}

// Exporter produces XLSX bytes from invoice lists.
type Exporter struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{log: log}
}

// InvoicesXLSX writes one row per invoice and returns the workbook bytes.
func (e *Exporter) InvoicesXLSX(invoices []models.Invoice) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for rowIdx, inv := range invoices {
		row := rowIdx + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		write(1, inv.ID)
		write(2, inv.ImportTimestamp.Format("2006-01-02"))
		write(3, deref(inv.Date))
		write(4, deref(inv.Vendor))
		if inv.Amount != nil {
			write(5, *inv.Amount)
		}
		write(6, inv.Currency)
		if inv.TaxAmount != nil {
			write(7, *inv.TaxAmount)
		}
		write(8, deref(inv.Category))
		write(9, deref(inv.PaymentMethod))
		write(10, deref(inv.TransactionType))
		if inv.IsPaid != nil {
			if *inv.IsPaid {
				write(11, "Yes")
			} else {
				write(11, "No")
			}
		}
		write(12, string(inv.Status))
		write(13, inv.ExtractionConfidence)
		write(14, inv.Notes)
		write(15, inv.FileNewPath)
	}

	_ = f.SetColWidth(sheetName, "B", "C", 12)
	_ = f.SetColWidth(sheetName, "D", "D", 30)
	_ = f.SetColWidth(sheetName, "E", "G", 12)
	_ = f.SetColWidth(sheetName, "H", "H", 28)
	_ = f.SetColWidth(sheetName, "N", "N", 48)
	_ = f.SetColWidth(sheetName, "O", "O", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}

	e.log.Info("exported invoices to xlsx",
		zap.Int("rows", len(invoices)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
