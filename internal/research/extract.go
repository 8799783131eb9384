package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/agentforum/agentforum/internal/core"
)

// fetchArticle downloads url and returns its readable text, bounded by the
// per-article timeout.
func (c *Client) fetchArticle(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ArticleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	text, err := ExtractText(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("no readable text")
	}
	return core.Truncate(text, c.cfg.MaxContentChars), nil
}

// ExtractText returns the main paragraph text of an HTML document. It
// prefers <article>, then <main>, then every paragraph on the page.
func ExtractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	for _, sel := range []string{"article p", "main p", "p"} {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := collapse(s.Text()); len([]rune(t)) >= 40 {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}

	return collapse(doc.Find("body").Text()), nil
}

// stripTags removes markup from feed descriptions, which are often HTML
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
