// Package scrape implements provider.Scraper with a headless-Chrome fetch
// of the filings listing page, adapted from the teacher's
// tools/web_fetch/chromedp fetch helper but collecting PDF anchor links
// instead of extracting readable article text.
package scrape

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

// Scraper fetches a filings listing page in a headless browser and
// collects every anchor pointing at a PDF.
type Scraper struct {
	UserAgent string
}

// New constructs a Scraper with the given user agent string.
func New(userAgent string) *Scraper {
	if userAgent == "" {
		userAgent = "filings-orchestrator/1.0"
	}
	return &Scraper{UserAgent: userAgent}
}

var _ provider.Scraper = (*Scraper)(nil)

type pdfLink struct {
	Href string
	Text string
}

// ScrapePage navigates to sourceURL and returns every PDF link found,
// labelled with its nearest anchor text. Callers must bound ctx with the
// 30-second scrape ceiling (§5); this function does not impose its own.
func (s *Scraper) ScrapePage(ctx context.Context, sourceURL string) (provider.ScrapeResult, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(s.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var links []pdfLink
	err := chromedp.Run(bctx,
		chromedp.Navigate(sourceURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(collectPDFLinksJS, &links),
	)
	if err != nil {
		return provider.ScrapeResult{}, fmt.Errorf("scrape %s: %w", sourceURL, err)
	}

	result := provider.ScrapeResult{}
	for _, l := range links {
		label := strings.TrimSpace(l.Text)
		if label == "" {
			label = filenameFromURL(l.Href)
		}
		result.Documents = append(result.Documents, provider.ScrapedDocument{
			DocumentType: classifyDocument(label),
			Label:        label,
			PDFURL:       l.Href,
		})
	}
	return result, nil
}

const collectPDFLinksJS = `
Array.from(document.querySelectorAll('a[href$=".pdf"], a[href*=".pdf?"]')).map(a => ({
  Href: a.href,
  Text: (a.textContent || a.getAttribute('title') || '').trim(),
}))
`

func classifyDocument(label string) string {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "transcript"):
		return "transcript"
	case strings.Contains(lower, "presentation"):
		return "presentation"
	default:
		return "annual_report"
	}
}

// filenameFromURL is used by ScrapePage to derive a stable label when the
// anchor text is empty.
func filenameFromURL(raw string) string {
	return path.Base(raw)
}
