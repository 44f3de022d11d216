// Package api exposes the invoice pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/internal/apperrors"
	"github.com/gulfstack/invoice-agent/internal/auth"
	"github.com/gulfstack/invoice-agent/internal/config"
	"github.com/gulfstack/invoice-agent/internal/db"
	"github.com/gulfstack/invoice-agent/internal/export"
	"github.com/gulfstack/invoice-agent/internal/models"
	"github.com/gulfstack/invoice-agent/internal/pipeline"
	"github.com/gulfstack/invoice-agent/internal/storage"
)

const (
	MaxUploadSize = 20 * 1024 * 1024 // 20MB
	Version       = "1.0.0"
)

var allowedExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".bmp": true,
}

// Fields a PATCH may touch. Everything else is pipeline-owned.
var patchableFields = map[string]bool{
	"vendor": true, "date": true, "amount": true, "currency": true,
	"tax_amount": true, "category": true, "payment_method": true,
	"transaction_type": true, "is_paid": true, "notes": true,
}

// Handler handles HTTP requests for invoice processing.
type Handler struct {
	store     *db.Store
	processor *pipeline.Processor
	archive   *storage.Archive // nil when object storage is not configured
	exporter  *export.Exporter
	logins    *auth.Logins
	config    *config.Config
	log       *zap.Logger
	hasMirror bool
}

func NewHandler(store *db.Store, processor *pipeline.Processor, archive *storage.Archive, exporter *export.Exporter, logins *auth.Logins, cfg *config.Config, hasMirror bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:     store,
		processor: processor,
		archive:   archive,
		exporter:  exporter,
		logins:    logins,
		config:    cfg,
		log:       log,
		hasMirror: hasMirror,
	}
}

// SetupRoutes configures the HTTP routes. Fixed paths register before the
// {id} routes so "export" never parses as an id.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/login", h.logins.LoginHandler).Methods("POST")

	router.HandleFunc("/api/invoices/upload", h.Upload).Methods("POST")
	router.HandleFunc("/api/invoices/export", h.Export).Methods("GET")
	router.HandleFunc("/api/invoices", h.ListInvoices).Methods("GET")

	router.HandleFunc("/api/invoices/{id}/review-questions", h.GetReviewQuestions).Methods("GET")
	router.HandleFunc("/api/invoices/{id}/resolve-review", h.ResolveReview).Methods("POST")
	router.HandleFunc("/api/invoices/{id}/mark-reviewed", h.MarkReviewed).Methods("POST")
	router.HandleFunc("/api/invoices/{id}/file", h.GetInvoiceFile).Methods("GET")
	router.HandleFunc("/api/invoices/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/api/invoices/{id}", h.UpdateInvoice).Methods("PATCH")
	router.HandleFunc("/api/invoices/{id}", h.DeleteInvoice).Methods("DELETE")

	router.HandleFunc("/api/insights/vat", h.VATInsight).Methods("GET")
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")

	router.HandleFunc("/api/sheets/sync", h.SyncFromSheets).Methods("POST")
	router.HandleFunc("/api/sheets/status", h.SheetsStatus).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse is the health check response structure.
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Tesseract ServiceStatus `json:"tesseract"`
	Database  ServiceStatus `json:"database"`
	Storage   ServiceStatus `json:"storage"`
	AI        ServiceStatus `json:"ai"`
}

// ServiceStatus is the status of one service dependency.
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports service and dependency status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tesseract := checkTesseract()
	database := h.checkDatabase(r.Context())

	storageStatus := ServiceStatus{Available: h.archive != nil}
	if h.archive == nil {
		storageStatus.Error = "object storage not configured"
	}

	aiStatus := ServiceStatus{Available: true, Version: h.config.AI.DefaultProvider}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Tesseract: tesseract,
		Database:  database,
		Storage:   storageStatus,
		AI:        aiStatus,
	}

	if !tesseract.Available || !database.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func checkTesseract() ServiceStatus {
	output, err := exec.Command("tesseract", "--version").CombinedOutput()
	if err != nil {
		return ServiceStatus{Available: false, Error: "tesseract not found or not executable"}
	}
	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ServiceStatus{Available: true, Version: version}
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.store.Ping(pingCtx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// UploadResult reports the outcome for one file in a batch upload.
type UploadResult struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // uploaded or error
	Message   string `json:"message"`
	InvoiceID int64  `json:"invoice_id,omitempty"`
}

// Upload accepts one or more documents, creates a processing placeholder
// row per file and finishes extraction in the background.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize*8)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		h.sendError(w, http.StatusBadRequest, "no files provided (use the 'files' field)")
		return
	}

	results := make([]UploadResult, 0, len(files))
	successes := 0
	for _, header := range files {
		result := h.uploadOne(r.Context(), header)
		if result.Status == "uploaded" {
			successes++
		}
		results = append(results, result)
	}

	message := fmt.Sprintf("Uploaded %d file(s)", successes)
	statusCode := http.StatusOK
	if failures := len(results) - successes; failures > 0 {
		message += fmt.Sprintf(", %d failed", failures)
		statusCode = http.StatusMultiStatus
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"message": message,
		"results": results,
	})
}

func (h *Handler) uploadOne(ctx context.Context, header *multipart.FileHeader) UploadResult {
	result := UploadResult{Filename: header.Filename}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		result.Status = "error"
		result.Message = fmt.Sprintf("file type %q not allowed", ext)
		return result
	}
	if header.Size > MaxUploadSize {
		result.Status = "error"
		result.Message = "file exceeds maximum size of 20MB"
		return result
	}

	file, err := header.Open()
	if err != nil {
		result.Status = "error"
		result.Message = "could not read file"
		return result
	}
	defer file.Close()

	if err := os.MkdirAll(h.config.Paths.Uploads, 0o755); err != nil {
		result.Status = "error"
		result.Message = "could not prepare upload directory"
		return result
	}

	stem := strings.TrimSuffix(filepath.Base(header.Filename), ext)
	localName := fmt.Sprintf("%s_%s%s", stem, time.Now().Format("20060102_150405.000000"), ext)
	localPath := filepath.Join(h.config.Paths.Uploads, localName)

	dst, err := os.Create(localPath)
	if err != nil {
		result.Status = "error"
		result.Message = "could not save file"
		return result
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(localPath)
		result.Status = "error"
		result.Message = "could not save file"
		return result
	}
	dst.Close()

	// Keep a copy of the original in object storage when available.
	if h.archive != nil {
		if f, err := os.Open(localPath); err == nil {
			objectPath, upErr := h.archive.Upload(ctx, header.Filename, f, header.Size, header.Header.Get("Content-Type"))
			f.Close()
			if upErr != nil {
				h.log.Warn("could not archive upload", zap.String("file", header.Filename), zap.Error(upErr))
			} else {
				h.log.Info("archived upload", zap.String("file", header.Filename), zap.String("object", objectPath))
			}
		}
	}

	inv, err := h.processor.Register(ctx, localPath, "upload")
	if err != nil {
		os.Remove(localPath)
		result.Status = "error"
		result.Message = "could not create invoice record"
		return result
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := h.processor.Complete(bgCtx, inv, localPath); err != nil {
			h.log.Warn("background processing failed", zap.Int64("id", inv.ID), zap.Error(err))
		}
		// The organizer moves processed files; anything left over is a
		// failed extraction the operator may still want to inspect.
	}()

	result.Status = "uploaded"
	result.Message = "File uploaded and processing started"
	result.InvoiceID = inv.ID
	return result
}

// ListInvoices returns records, optionally filtered by status.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := r.URL.Query().Get("status")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	invoices, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice returns one record, generating review questions on first read
// of a needs_review row.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, _, err := h.processor.GetOrBuildQuestions(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	inv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(inv)
}

// UpdateInvoice applies a manual field update and re-mirrors the record.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		if patchableFields[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		h.sendError(w, http.StatusBadRequest, "no valid fields to update")
		return
	}

	if err := h.store.UpdateFields(r.Context(), id, filtered); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.processor.SyncRecord(r.Context(), id); err != nil {
		h.log.Warn("could not re-mirror record", zap.Int64("id", id), zap.Error(err))
	}

	inv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(inv)
}

// DeleteInvoice removes a record.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReviewQuestions returns the clarification questions for a record.
// Records outside review return an empty list.
func (h *Handler) GetReviewQuestions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	questions, _, err := h.processor.GetOrBuildQuestions(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if questions == nil {
		questions = []models.ReviewQuestion{}
	}
	json.NewEncoder(w).Encode(questions)
}

// ResolveReviewRequest carries the reviewer's answers keyed by field name.
type ResolveReviewRequest struct {
	Answers map[string]any `json:"answers"`
}

// ResolveReview merges answers into a needs_review record and closes it.
func (h *Handler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req ResolveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := h.processor.Resolve(r.Context(), id, req.Answers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "Invoice updated successfully. Status is now 'ok'.",
		"invoice": inv,
	})
}

// MarkReviewedRequest carries an optional reviewer note.
type MarkReviewedRequest struct {
	Note string `json:"note"`
}

// MarkReviewed approves a record as-is.
func (h *Handler) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req MarkReviewedRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	inv, err := h.processor.MarkReviewed(r.Context(), id, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"invoice": inv,
	})
}

// GetInvoiceFile serves the organized document from disk.
func (h *Handler) GetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	inv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if inv.FileNewPath == "" {
		h.sendError(w, http.StatusNotFound, "file not found on disk")
		return
	}
	if _, err := os.Stat(inv.FileNewPath); err != nil {
		h.sendError(w, http.StatusNotFound, "file not found on disk")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(inv.FileNewPath)))
	http.ServeFile(w, r, inv.FileNewPath)
}

// Export streams all records as an XLSX workbook.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	invoices, err := h.store.List(r.Context(), status, 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.exporter.InvoicesXLSX(invoices)
	if err != nil {
		h.writeError(w, err)
		return
	}

	filename := fmt.Sprintf("invoices_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// VATInsight summarizes VAT recovered and estimates VAT hiding in records
// missing a tax amount, for one calendar year.
func (h *Handler) VATInsight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	year := time.Now().UTC().Year()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = y
	}

	rows, err := h.store.ListForInsight(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	vatRate := h.config.VAT.Rate
	var (
		vatTotal         float64
		invoiceCount     int
		withVATCount     int
		missingVATCount  int
		estimatedMissing float64
	)
	for _, row := range rows {
		y, ok := invoiceYear(row.Date)
		if !ok || y != year {
			continue
		}
		invoiceCount++

		if row.TaxAmount != nil {
			vatTotal += *row.TaxAmount
			withVATCount++
		} else if row.Amount != nil {
			gross := *row.Amount
			estimatedMissing += gross - gross/(1.0+vatRate)
			missingVATCount++
		}
	}

	json.NewEncoder(w).Encode(map[string]any{
		"year":                        year,
		"vat_total":                   round2(vatTotal),
		"invoice_count":               invoiceCount,
		"invoices_with_vat_count":     withVATCount,
		"missing_vat_count":           missingVATCount,
		"estimated_missing_vat_total": round2(estimatedMissing),
		"currency":                    models.DefaultCurrency,
		"assumptions": map[string]any{
			"vat_rate_assumed":       vatRate,
			"missing_vat_estimation": "Assumes amount is VAT-inclusive when VAT is missing.",
		},
	})
}

// invoiceYear parses the year from a stored date. Dates live in a text
// column, so unparseable values simply fall outside every year.
func invoiceYear(date *string) (int, bool) {
	if date == nil {
		return 0, false
	}
	s := strings.TrimSpace(*date)
	if len(s) < 10 {
		return 0, false
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return 0, false
	}
	return t.Year(), true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// GetStats returns the current month's aggregates.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	stats, err := h.store.GetMonthlyStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

// SyncFromSheets pulls spreadsheet edits back into the database.
func (h *Handler) SyncFromSheets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !h.hasMirror {
		h.sendError(w, http.StatusServiceUnavailable, "sheets mirror not configured")
		return
	}

	updated, err := h.processor.SyncFromMirror(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"message":       "Sync completed",
		"updated_count": updated,
	})
}

// SheetsStatus reports whether the spreadsheet mirror is configured.
func (h *Handler) SheetsStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"configured":     h.hasMirror,
		"spreadsheet_id": h.config.Sheets.SpreadsheetID,
		"worksheet":      h.config.Sheets.WorksheetName,
	})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperrors.NewValidation("invalid invoice id")
	}
	return id, nil
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "Invoice not found")
	case apperrors.IsValidation(err):
		h.sendError(w, http.StatusBadRequest, err.Error())
	case apperrors.IsStateConflict(err):
		h.sendError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
