package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFOptions contains options for PDF generation
type PDFOptions struct {
	Landscape           bool
	PrintBackground     bool
	PreferCSSPageSize   bool
	PaperWidth          float64
	PaperHeight         float64
	MarginTop           float64
	MarginBottom        float64
	MarginLeft          float64
	MarginRight         float64
	HeaderTemplate      string
	FooterTemplate      string
	DisplayHeaderFooter bool
	// Timeout bounds the browser session
	Timeout time.Duration
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PrintBackground:   true,
		PaperWidth:        8.5,  // Letter width in inches
		PaperHeight:       11.0, // Letter height in inches
		MarginTop:         0.4,
		MarginBottom:      0.4,
		MarginLeft:        0.4,
		MarginRight:       0.4,
		Timeout:           30 * time.Second,
		PreferCSSPageSize: false,
	}
}

// GeneratePDF renders the HTML report of a run and prints it to outputPath
// with a headless Chrome. Nil options use DefaultPDFOptions
func (g *Generator) GeneratePDF(ctx context.Context, runID int64, wf *Waveform, outputPath string, options *PDFOptions) error {
	html, err := g.GenerateHTML(runID, wf)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "hummingbird-report-*.html")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()

	if _, err := tmpFile.WriteString(html); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write HTML: %w", err)
	}
	_ = tmpFile.Close()

	if options == nil {
		defaults := DefaultPDFOptions()
		options = &defaults
	}
	return htmlToPDF(ctx, tmpFile.Name(), outputPath, options)
}

// printParams maps options onto a Chrome print request
func printParams(options *PDFOptions) *page.PrintToPDFParams {
	params := page.PrintToPDF().
		WithLandscape(options.Landscape).
		WithPrintBackground(options.PrintBackground).
		WithPreferCSSPageSize(options.PreferCSSPageSize).
		WithPaperWidth(options.PaperWidth).
		WithPaperHeight(options.PaperHeight).
		WithMarginTop(options.MarginTop).
		WithMarginBottom(options.MarginBottom).
		WithMarginLeft(options.MarginLeft).
		WithMarginRight(options.MarginRight).
		WithDisplayHeaderFooter(options.DisplayHeaderFooter)

	if options.HeaderTemplate != "" {
		params = params.WithHeaderTemplate(options.HeaderTemplate)
	}
	if options.FooterTemplate != "" {
		params = params.WithFooterTemplate(options.FooterTemplate)
	}
	return params
}

// htmlToPDF prints an HTML file to PDF. The file is loaded by URL so that
// characters such as '#' in inline styles survive
func htmlToPDF(ctx context.Context, htmlPath, pdfPath string, options *PDFOptions) error {
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", htmlPath, err)
	}

	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	if options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	var pdfData []byte
	if err := chromedp.Run(ctx,
		chromedp.Navigate("file://"+filepath.ToSlash(abs)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = printParams(options).Do(ctx)
			return err
		}),
	); err != nil {
		return fmt.Errorf("failed to generate PDF: %w", err)
	}

	if err := os.WriteFile(pdfPath, pdfData, 0o600); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}
