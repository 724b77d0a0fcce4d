// Package tesseract implements the extraction adapter over the external
// OCR toolchain (tesseract, pdftotext, pdftoppm run as subprocesses).
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/certimed/internal/domain/extraction"
	"github.com/bryanwahyu/certimed/internal/domain/reports"
)

// MinLegibleChars is the threshold below which an extraction counts as an
// empty result.
const MinLegibleChars = 20

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftotext string // if empty -> "pdftotext"
	Pdftoppm  string // if empty -> "pdftoppm"

	Lang     string // default "eng"
	DPI      int    // rasterization DPI for scanned PDFs, default 300
	MaxPages int    // 0 = no limit

	// PageWorkers bounds concurrent per-page OCR for rasterized PDFs.
	PageWorkers int
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.PageWorkers <= 0 {
		cfg.PageWorkers = 2
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Extract dispatches on the declared media type. The document bytes are
// written to a temp file for the engine and removed before returning; raw
// bytes are never retained.
func (e *Extractor) Extract(ctx context.Context, doc reports.Document) (reports.ExtractedText, error) {
	var ext string
	switch doc.MediaType {
	case reports.MediaTypePDF:
		ext = ".pdf"
	case reports.MediaTypePNG:
		ext = ".png"
	case reports.MediaTypeJPEG:
		ext = ".jpg"
	default:
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonUnsupportedFormat,
			fmt.Errorf("media type %q", doc.MediaType))
	}

	tmpDir, err := os.MkdirTemp("", "certimed-ocr-*")
	if err != nil {
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonEngineFailure, err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "document"+ext)
	if err := os.WriteFile(path, doc.Bytes, 0o600); err != nil {
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonEngineFailure, err)
	}

	var res reports.ExtractedText
	if doc.MediaType == reports.MediaTypePDF {
		res, err = e.extractPDF(ctx, tmpDir, path)
	} else {
		res, err = e.extractImage(ctx, path)
	}
	if err != nil {
		return reports.ExtractedText{}, err
	}

	res.Text = Normalize(res.Text)
	res.MediaType = doc.MediaType
	if len(res.Text) < MinLegibleChars {
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonEmptyResult,
			fmt.Errorf("only %d legible characters", len(res.Text)))
	}
	return res, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (reports.ExtractedText, error) {
	txt, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return reports.ExtractedText{}, err
	}
	return reports.ExtractedText{Text: txt, Pages: 1, Method: "image-ocr"}, nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.Lang)
	if err != nil {
		return "", classifyExecErr(ctx, fmt.Errorf("tesseract: %w", err))
	}
	return string(out), nil
}

// classifyExecErr maps a subprocess failure onto the extraction taxonomy.
func classifyExecErr(ctx context.Context, err error) *extraction.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return extraction.NewError(extraction.ReasonEngineTimeout, err)
	}
	return extraction.NewError(extraction.ReasonEngineFailure, err)
}
