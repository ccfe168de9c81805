// Package pdf turns finalized invoice data into a printable PDF via a
// headless Chrome instance.
package pdf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

// A4 paper size in inches for Chrome's print backend.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69
)

// Renderer converts invoice data to PDF bytes.
type Renderer interface {
	Render(ctx context.Context, data invoice.Data) ([]byte, error)
}

// ChromeRenderer prints the invoice HTML through headless Chrome.
type ChromeRenderer struct {
	logger *slog.Logger
}

func NewChromeRenderer(log *slog.Logger) *ChromeRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &ChromeRenderer{logger: log.With(slog.String("service", "pdf"))}
}

func (r *ChromeRenderer) Render(ctx context.Context, data invoice.Data) ([]byte, error) {
	html, err := RenderHTML(data)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdfBytes []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBytes, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paperWidthIn).
				WithPaperHeight(paperHeightIn).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print invoice pdf: %w", err)
	}
	r.logger.Debug("invoice pdf rendered", slog.Int("bytes", len(pdfBytes)))
	return pdfBytes, nil
}
