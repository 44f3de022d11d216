package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gulfstack/invoice-agent/internal/apperrors"
	"github.com/gulfstack/invoice-agent/internal/models"
	"github.com/gulfstack/invoice-agent/internal/review"
)

// --- fakes ---

type fakeOCR struct {
	text   string
	source string
	err    error
}

func (f *fakeOCR) ExtractText(context.Context, string) (string, string, error) {
	return f.text, f.source, f.err
}

type fakeLLM struct {
	ext models.Extraction
	err error
}

func (f *fakeLLM) Extract(context.Context, string, string) (models.Extraction, error) {
	return f.ext, f.err
}

type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Invoice
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[int64]*models.Invoice{}}
}

func (s *fakeStore) Insert(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	inv.ID = s.nextID
	cp := *inv
	s.rows[inv.ID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *fakeStore) List(_ context.Context, status string, _ int) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invoice
	for _, row := range s.rows {
		if status == "" || string(row.Status) == status {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateFields(_ context.Context, id int64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "file_new_path":
			row.FileNewPath = v.(string)
		case "status":
			row.Status = models.Status(v.(string))
		case "notes":
			row.Notes = v.(string)
		case "vendor":
			if v == nil {
				row.Vendor = nil
			} else {
				val := v.(string)
				row.Vendor = &val
			}
		case "tax_amount":
			if v == nil {
				row.TaxAmount = nil
			} else {
				val := v.(float64)
				row.TaxAmount = &val
			}
		case "category":
			if v == nil {
				row.Category = nil
			} else {
				val := v.(string)
				row.Category = &val
			}
		case "is_paid":
			if v == nil {
				row.IsPaid = nil
			} else {
				val := v.(bool)
				row.IsPaid = &val
			}
		}
	}
	return nil
}

func (s *fakeStore) UpdateLocked(_ context.Context, id int64, fn func(*models.Invoice) error) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *row
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.rows[id] = &cp
	out := cp
	return &out, nil
}

type fakeOrganizer struct {
	err   error
	moved []string
}

func (f *fakeOrganizer) Move(originalPath, vendor, date, category string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	target := "/organized/" + vendor + "_" + date
	f.moved = append(f.moved, originalPath)
	return target, nil
}

type fakeMirror struct {
	mu       sync.Mutex
	upserts  []models.Invoice
	pullRows []map[string]string
	err      error
}

func (f *fakeMirror) Upsert(_ context.Context, inv models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, inv)
	return nil
}

func (f *fakeMirror) PullAll(context.Context) ([]map[string]string, error) {
	return f.pullRows, f.err
}

func goodExtraction() models.Extraction {
	return models.Extraction{
		Vendor:          models.Ptr("DEWA"),
		Date:            models.Ptr("2024-03-15"),
		Amount:          models.Ptr(525.0),
		Currency:        "AED",
		TaxAmount:       models.Ptr(25.0),
		Category:        models.Ptr("Occupancy & Facilities"),
		TransactionType: models.Ptr("operational_expense"),
		IsPaid:          models.Ptr(true),
		Confidence:      0.9,
	}
}

func newTestProcessor(ocr *fakeOCR, llm *fakeLLM, store *fakeStore, mirror *fakeMirror) *Processor {
	// A nil *fakeMirror must become a nil interface, not a typed nil.
	var m Mirror
	if mirror != nil {
		m = mirror
	}
	return NewProcessor(ocr, llm, store, &fakeOrganizer{}, m, review.DefaultThresholds(), review.DefaultVATRate, zap.NewNop())
}

// --- tests ---

func TestProcessHappyPath(t *testing.T) {
	store := newFakeStore()
	mirror := &fakeMirror{}
	p := newTestProcessor(
		&fakeOCR{text: "DEWA electricity bill March 2024 Total AED 525.00", source: models.SourcePDFText},
		&fakeLLM{ext: goodExtraction()},
		store, mirror,
	)

	inv, err := p.Process(context.Background(), "/inbox/dewa.pdf", "inbox")
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, inv.Status)
	assert.Equal(t, "dewa.pdf", inv.FileOriginalName)
	assert.Equal(t, "/organized/DEWA_2024-03-15", inv.FileNewPath)
	assert.Equal(t, models.SourcePDFText, inv.TextSource)
	assert.Nil(t, inv.ReviewReason)
	assert.Empty(t, inv.ReviewQuestions)
	assert.Equal(t, "DEWA electricity bill March 2024 Total AED 525.00", inv.Notes)

	stored, err := store.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, stored.Status)
	assert.Equal(t, "/organized/DEWA_2024-03-15", stored.FileNewPath)

	require.Len(t, mirror.upserts, 1)
	assert.Equal(t, inv.ID, mirror.upserts[0].ID)
}

func TestProcessWithoutMirrorConfigured(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(
		&fakeOCR{text: "DEWA electricity bill March 2024 Total AED 525.00", source: models.SourcePDFText},
		&fakeLLM{ext: goodExtraction()},
		store, nil,
	)

	inv, err := p.Process(context.Background(), "/inbox/dewa.pdf", "inbox")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, inv.Status)
}

func TestProcessLowConfidenceGoesToReview(t *testing.T) {
	store := newFakeStore()
	ext := goodExtraction()
	ext.Confidence = 0.3
	p := newTestProcessor(&fakeOCR{text: "blurry scan", source: models.SourceOCRImage}, &fakeLLM{ext: ext}, store, nil)

	inv, err := p.Process(context.Background(), "/inbox/blurry.jpg", "inbox")
	require.NoError(t, err)

	assert.Equal(t, models.StatusNeedsReview, inv.Status)
	require.NotNil(t, inv.ReviewReason)
	assert.NotEmpty(t, inv.ReviewQuestions)
}

func TestProcessOCRFailureMarksError(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(&fakeOCR{err: errors.New("tesseract exploded")}, &fakeLLM{}, store, nil)

	inv, err := p.Process(context.Background(), "/inbox/bad.pdf", "upload")
	require.Error(t, err)
	require.NotNil(t, inv)

	stored, getErr := store.Get(context.Background(), inv.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Contains(t, stored.Notes, "Processing error:")
	assert.Contains(t, stored.Notes, "tesseract exploded")
}

func TestProcessLLMFailureMarksError(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(&fakeOCR{text: "some text", source: models.SourcePDFText}, &fakeLLM{err: errors.New("model offline")}, store, nil)

	inv, err := p.Process(context.Background(), "/inbox/doc.pdf", "upload")
	require.Error(t, err)

	stored, getErr := store.Get(context.Background(), inv.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Contains(t, stored.Notes, "model offline")
}

func TestProcessOrganizerFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	p := NewProcessor(
		&fakeOCR{text: "text", source: models.SourcePDFText},
		&fakeLLM{ext: goodExtraction()},
		store,
		&fakeOrganizer{err: errors.New("disk full")},
		nil,
		review.DefaultThresholds(), review.DefaultVATRate, zap.NewNop(),
	)

	inv, err := p.Process(context.Background(), "/inbox/doc.pdf", "inbox")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, inv.Status)
	// Original path preserved when the move fails.
	assert.Equal(t, "/inbox/doc.pdf", inv.FileNewPath)
}

func TestGetOrBuildQuestionsIdempotent(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{
		Status:               models.StatusNeedsReview,
		Currency:             "AED",
		ExtractionConfidence: 0.3,
	}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, nil)

	first, reason, err := p.GetOrBuildQuestions(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.NotNil(t, reason)

	second, _, err := p.GetOrBuildQuestions(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetOrBuildQuestionsSkipsNonReviewRecords(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{Status: models.StatusOK, Currency: "AED"}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, nil)
	questions, _, err := p.GetOrBuildQuestions(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestResolveAppliesAnswersAndCloses(t *testing.T) {
	store := newFakeStore()
	mirror := &fakeMirror{}
	inv := &models.Invoice{
		Status:               models.StatusNeedsReview,
		Currency:             "AED",
		ExtractionConfidence: 0.4,
	}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, mirror)

	resolved, err := p.Resolve(context.Background(), inv.ID, map[string]any{
		"amount":        105.0,
		"vat_inclusive": true,
		"vendor":        "DEWA",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, resolved.Status)
	require.NotNil(t, resolved.Amount)
	assert.Equal(t, 105.0, *resolved.Amount)
	require.NotNil(t, resolved.TaxAmount)
	assert.Equal(t, 5.0, *resolved.TaxAmount)
	assert.Equal(t, 0.95, resolved.ExtractionConfidence)
	assert.NotNil(t, resolved.ReviewedAt)
	assert.Nil(t, resolved.ReviewQuestions)
	require.Len(t, mirror.upserts, 1)
}

func TestResolveTwiceConflicts(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{Status: models.StatusNeedsReview, Currency: "AED"}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, nil)

	_, err := p.Resolve(context.Background(), inv.ID, nil)
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), inv.ID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsStateConflict(err))
}

func TestResolveInvalidAnswerLeavesRecordUntouched(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{Status: models.StatusNeedsReview, Currency: "AED"}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, nil)

	_, err := p.Resolve(context.Background(), inv.ID, map[string]any{"shoe_size": 44})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	stored, getErr := store.Get(context.Background(), inv.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusNeedsReview, stored.Status)
}

func TestResolveNotFound(t *testing.T) {
	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, newFakeStore(), nil)
	_, err := p.Resolve(context.Background(), 999, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMarkReviewed(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{
		Status:   models.StatusNeedsReview,
		Currency: "AED",
		Notes:    "original excerpt",
		ReviewQuestions: []models.ReviewQuestion{
			{FieldName: "amount", InputType: "number"},
		},
	}
	require.NoError(t, store.Insert(context.Background(), inv))

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, nil)
	updated, err := p.MarkReviewed(context.Background(), inv.ID, "checked by hand")
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, updated.Status)
	assert.Nil(t, updated.ReviewQuestions)
	assert.Nil(t, updated.ReviewReason)
	assert.Equal(t, "original excerpt\n[Manually reviewed] checked by hand", updated.Notes)
	assert.NotNil(t, updated.ReviewedAt)
}

func TestSyncFromMirrorAppliesAllowlistedEdits(t *testing.T) {
	store := newFakeStore()
	inv := &models.Invoice{
		Status:   models.StatusOK,
		Currency: "AED",
		Vendor:   models.Ptr("DEWA"),
		Amount:   models.Ptr(500.0),
	}
	require.NoError(t, store.Insert(context.Background(), inv))

	mirror := &fakeMirror{pullRows: []map[string]string{
		{
			"id":       "1",
			"vendor":   "DEWA",               // unchanged
			"amount":   "999999",             // protected, must be ignored
			"category": "Occupancy & Facilities",
			"is_paid":  "true",
			"notes":    "paid via portal",
		},
		{"id": "not-a-number", "vendor": "garbage"},
	}}

	p := newTestProcessor(&fakeOCR{}, &fakeLLM{}, store, mirror)
	updated, err := p.SyncFromMirror(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	stored, err := store.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Amount)
	assert.Equal(t, 500.0, *stored.Amount) // untouched
	require.NotNil(t, stored.Category)
	assert.Equal(t, "Occupancy & Facilities", *stored.Category)
	require.NotNil(t, stored.IsPaid)
	assert.True(t, *stored.IsPaid)
	assert.Equal(t, "paid via portal", stored.Notes)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("short\n\ntext", 400))

	long := strings.Repeat("word ", 200)
	got := Excerpt(long, 400)
	assert.LessOrEqual(t, len([]rune(got)), 400)
	assert.True(t, strings.HasSuffix(got, "…"))

	assert.Equal(t, "", Excerpt("", 400))
}
