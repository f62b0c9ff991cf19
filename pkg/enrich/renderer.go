package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// ErrEmptyPage means the rendered page produced no usable text.
var ErrEmptyPage = errors.New("rendered page is empty")

// WebRenderer fetches a page, scripts included, and returns its main content
// as plain text. Tests inject fakes.
type WebRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// containerSelectors are tried in order before falling back to body.
var containerSelectors = []string{"article", "main", "#content", ".post-content", ".article-content"}

// strippedSelectors never carry article text.
const strippedSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe"

// ChromeRenderer drives headless Chrome so script-built pages render fully
// before extraction.
type ChromeRenderer struct {
	timeout time.Duration
}

// NewChromeRenderer builds a renderer with a per-page timeout.
func NewChromeRenderer(timeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{timeout: timeout}
}

// Render loads the page and returns its main content as markdown.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, r.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return ExtractMainContent(html)
}

// ExtractMainContent isolates the article container from a rendered page and
// converts it to markdown.
func ExtractMainContent(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse rendered page: %w", err)
	}
	doc.Find(strippedSelectors).Remove()

	container := doc.Find("body")
	for _, selector := range containerSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 && len(strings.TrimSpace(sel.Text())) > 100 {
			container = sel.First()
			break
		}
	}

	fragment, err := goquery.OuterHtml(container)
	if err != nil {
		return "", fmt.Errorf("serialize content: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", ErrEmptyPage
	}
	return markdown, nil
}
