// Package ocr extracts raw text from invoice documents. PDFs are read with
// pdftotext first and only rasterized for OCR when they carry no text layer;
// images go straight to tesseract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gulfstack/invoice-agent/internal/models"
)

// A PDF text layer shorter than this is treated as absent (stamps, page
// numbers) and the document is OCRed instead.
const minPDFTextLen = 50

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// Engine shells out to poppler-utils and tesseract.
type Engine struct {
	// Languages is the tesseract -l value, e.g. "eng+ara" for UAE
	// documents. Falls back to plain English when the pack is missing.
	Languages string
}

func NewEngine(languages string) *Engine {
	if languages == "" {
		languages = "eng+ara"
	}
	return &Engine{Languages: languages}
}

// ExtractText returns the document text and a source tag describing how it
// was obtained: pdf_text, ocr_pdf, ocr_image or ocr_only.
func (e *Engine) ExtractText(ctx context.Context, path string) (string, string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".pdf":
		text, err := pdfText(ctx, path)
		if err == nil && len(strings.TrimSpace(text)) > minPDFTextLen {
			return text, models.SourcePDFText, nil
		}
		ocrText, ocrErr := e.ocrPDF(ctx, path)
		if ocrErr != nil {
			// Keep whatever the text layer gave us rather than failing
			// outright on a thin but non-empty extraction.
			if err == nil && strings.TrimSpace(text) != "" {
				return text, models.SourceOCRPDF, nil
			}
			return "", models.SourceOCRPDF, fmt.Errorf("pdf ocr: %w", ocrErr)
		}
		return ocrText, models.SourceOCRPDF, nil

	case imageExts[ext]:
		text, err := e.ocrImage(ctx, path)
		return text, models.SourceOCRImage, err

	default:
		text, err := e.ocrImage(ctx, path)
		return text, models.SourceOCROnly, err
	}
}

func pdfText(ctx context.Context, path string) (string, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, stderr.String())
	}
	return out.String(), nil
}

// ocrPDF rasterizes every page with pdftoppm and runs tesseract on each.
func (e *Engine) ocrPDF(ctx context.Context, path string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "invoice-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pdftoppm", "-r", "300", "-png", path, prefix)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, stderr.String())
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("pdftoppm produced no pages for %s", filepath.Base(path))
	}
	sort.Strings(pages)

	var texts []string
	for _, page := range pages {
		text, err := e.ocrImage(ctx, page)
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	return strings.TrimSpace(strings.Join(texts, "\n\n")), nil
}

func (e *Engine) ocrImage(ctx context.Context, path string) (string, error) {
	text, err := runTesseract(ctx, path, e.Languages)
	if err != nil && e.Languages != "eng" {
		// Arabic language pack may be missing on the host.
		text, err = runTesseract(ctx, path, "eng")
	}
	return text, err
}

func runTesseract(ctx context.Context, path, languages string) (string, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "tesseract", path, "stdout", "-l", languages)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, stderr.String())
	}
	return out.String(), nil
}
