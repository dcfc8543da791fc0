// Package extract turns an uploaded PDF into per-page artifacts: a raster
// image for the vision model and whatever text layer the PDF carries.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/opsdesk/pamphletd/internal/store"
)

type Extractor struct {
	store   *store.Store
	dpi     float64
	quality int
	log     *slog.Logger
}

func New(st *store.Store, dpi float64, jpegQuality int, log *slog.Logger) *Extractor {
	return &Extractor{store: st, dpi: dpi, quality: jpegQuality, log: log}
}

// ExtractPages renders every page of the stored original to JPEG and
// writes its text layer alongside. Pages whose mupdf text comes back
// empty get a second chance through the pdf text-layer reader; scanned
// pages legitimately end up with an empty page.txt. Returns the page
// count and records it in the document meta.
func (e *Extractor) ExtractPages(ctx context.Context, docID string) (int, error) {
	path := filepath.Join(e.store.DocDir(docID), store.OriginalFile)
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	var fallback *pdf.Reader
	if f, r, err := pdf.Open(path); err == nil {
		defer f.Close()
		fallback = r
	}

	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pageNum := n + 1

		img, err := doc.ImageDPI(n, e.dpi)
		if err != nil {
			return 0, fmt.Errorf("render page %d: %w", pageNum, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
			return 0, fmt.Errorf("encode page %d: %w", pageNum, err)
		}
		if err := e.store.WritePageArtifact(docID, pageNum, store.PageImageFile, buf.Bytes()); err != nil {
			return 0, err
		}

		text, err := doc.Text(n)
		if err != nil {
			e.log.Warn("page text extraction failed", "doc_id", docID, "page", pageNum, "error", err)
			text = ""
		}
		if strings.TrimSpace(text) == "" && fallback != nil {
			text = textLayerPage(fallback, pageNum)
		}
		if err := e.store.WritePageArtifact(docID, pageNum, store.PageTextFile, []byte(text)); err != nil {
			return 0, err
		}
	}

	if _, err := e.store.UpdateMeta(docID, func(m *store.Meta) {
		m.Pages = pages
	}); err != nil {
		return 0, err
	}
	e.log.Info("pages extracted", "doc_id", docID, "pages", pages)
	return pages, nil
}

// textLayerPage pulls plain text for one page from the alternate PDF
// reader. Failures here are not fatal: the page simply has no usable
// text layer and the vision pass carries it.
func textLayerPage(r *pdf.Reader, page int) string {
	defer func() { recover() }() // the reader panics on some malformed PDFs
	if page > r.NumPage() {
		return ""
	}
	p := r.Page(page)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
