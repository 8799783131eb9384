package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

type braveSearch struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Profile     struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"results"`
	} `json:"web"`
}

func (b *braveSearch) name() string { return "brave" }

func (b *braveSearch) search(ctx context.Context, query string, limit int) ([]Insight, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprint(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status=%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	var insights []Insight
	for _, r := range parsed.Web.Results {
		if len(insights) >= limit {
			break
		}
		source := r.Profile.Name
		if source == "" {
			source = hostOf(r.URL)
		}
		insights = append(insights, Insight{
			Title:   strings.TrimSpace(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Snippet: collapse(stripTags(r.Description)),
			Source:  source,
		})
	}
	return insights, nil
}

// feedSearch queries an RSS/Atom search endpoint such as a news aggregator
type feedSearch struct {
	client      *http.Client
	parser      *gofeed.Parser
	urlTemplate string
	userAgent   string
}

func newFeedSearch(client *http.Client, urlTemplate, userAgent string) *feedSearch {
	return &feedSearch{client: client, parser: gofeed.NewParser(), urlTemplate: urlTemplate, userAgent: userAgent}
}

func (f *feedSearch) name() string { return "feed" }

func (f *feedSearch) search(ctx context.Context, query string, limit int) ([]Insight, error) {
	feedURL := fmt.Sprintf(f.urlTemplate, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, err
	}

	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var insights []Insight
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if len(insights) >= limit {
			break
		}
		snippet := item.Description
		if snippet == "" {
			snippet = item.Content
		}
		source := strings.TrimSpace(feed.Title)
		if item.Author != nil && item.Author.Name != "" {
			source = item.Author.Name
		}
		if source == "" {
			source = hostOf(item.Link)
		}
		insights = append(insights, Insight{
			Title:   strings.TrimSpace(item.Title),
			URL:     strings.TrimSpace(item.Link),
			Snippet: collapse(stripTags(snippet)),
			Source:  source,
		})
	}
	return insights, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
