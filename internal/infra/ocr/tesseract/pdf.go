package tesseract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/certimed/internal/domain/extraction"
	"github.com/bryanwahyu/certimed/internal/domain/reports"
)

// directTextThreshold: embedded PDF text shorter than this is treated as a
// scan and sent through rasterize+OCR instead.
const directTextThreshold = 50

func (e *Extractor) extractPDF(ctx context.Context, tmpDir, path string) (reports.ExtractedText, error) {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonEngineFailure,
			fmt.Errorf("invalid pdf: %w", err))
	}
	if e.cfg.MaxPages > 0 && pages > e.cfg.MaxPages {
		pages = e.cfg.MaxPages
	}

	// Fast path: embedded text layer.
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, _, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err == nil && len(strings.TrimSpace(string(out))) > directTextThreshold {
		return reports.ExtractedText{Text: string(out), Pages: pages, Method: "pdf-text"}, nil
	}
	if err != nil {
		e.logger.Warn("ocr.pdftotext_failed", "error", err)
	}

	return e.pdfToOCR(ctx, tmpDir, path, pages)
}

// pdfToOCR rasterizes pages then OCRs each one, bounded fan-out.
func (e *Extractor) pdfToOCR(ctx context.Context, tmpDir, path string, pages int) (reports.ExtractedText, error) {
	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return reports.ExtractedText{}, classifyExecErr(ctx, fmt.Errorf("pdftoppm: %w", err))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return reports.ExtractedText{}, extraction.NewError(extraction.ReasonEngineFailure,
			fmt.Errorf("pdftoppm produced no images"))
	}

	texts := make([]string, len(matches))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PageWorkers)
	for i, img := range matches {
		g.Go(func() error {
			txt, err := e.tesseractOCR(gctx, img)
			if err != nil {
				return err
			}
			mu.Lock()
			texts[i] = txt
			mu.Unlock()
			_ = os.Remove(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var exErr *extraction.Error
		if errors.As(err, &exErr) {
			return reports.ExtractedText{}, exErr
		}
		return reports.ExtractedText{}, classifyExecErr(ctx, err)
	}

	return reports.ExtractedText{
		Text:   strings.Join(texts, "\n\f\n"),
		Pages:  len(matches),
		Method: "pdf-ocr",
	}, nil
}
