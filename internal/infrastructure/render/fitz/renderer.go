package fitz

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"

	gofitz "github.com/gen2brain/go-fitz"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// Renderer turns an uploaded document into a sequence of JPEG page images
// using MuPDF. PDFs yield one image per page; standalone images pass through
// the same path and yield a single page.
type Renderer struct {
	dpi     float64
	quality int
}

var _ ports.PageRenderer = (*Renderer)(nil)

func New(dpi float64, quality int) *Renderer {
	if dpi <= 0 {
		dpi = 96
	}
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	return &Renderer{dpi: dpi, quality: quality}
}

func (r *Renderer) RenderPages(ctx context.Context, kind domain.DocumentKind, data io.Reader) (*domain.RenderReport, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render.read", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render.read", fmt.Errorf("empty document"))
	}

	doc, err := gofitz.NewFromMemory(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render.open", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return &domain.RenderReport{}, nil
	}
	if kind == domain.KindImage {
		pageCount = 1
	}

	report := &domain.RenderReport{
		Pages: make([]domain.RenderedPage, 0, pageCount),
	}

	// A corrupt page must not take its siblings down with it: render what
	// we can and report the rest as skipped.
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page, err := r.renderPage(doc, pageNum)
		if err != nil {
			slog.Warn("page_render_skipped", "page", pageNum+1, "error", err)
			report.Skipped = append(report.Skipped, domain.SkippedPage{
				Number: pageNum + 1,
				Reason: err.Error(),
			})
			continue
		}
		// Successful pages are renumbered contiguously so page_%03d keys
		// never have holes.
		page.Number = len(report.Pages) + 1
		report.Pages = append(report.Pages, *page)
	}

	return report, nil
}

func (r *Renderer) renderPage(doc *gofitz.Document, pageNum int) (*domain.RenderedPage, error) {
	img, err := doc.ImageDPI(pageNum, r.dpi)
	if err != nil {
		return nil, fmt.Errorf("rasterize page %d: %w", pageNum+1, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", pageNum+1, err)
	}

	bounds := img.Bounds()
	return &domain.RenderedPage{
		JPEG:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
