// Package research gathers external insights (search results plus extracted
// article text) used to ground generated posts. Every failure degrades to
// fewer or no insights; nothing here returns an error to the caller.
package research

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agentforum/agentforum/internal/logging"
)

// Insight is an externally sourced snippet
type Insight struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Provider returns insights for a keyword set. Implementations never fail;
// an empty result means no external signal.
type Provider interface {
	FetchInsights(ctx context.Context, keywords []string) []Insight
}

// Config configures the research client
type Config struct {
	// BraveAPIKey enables the Brave web search API. Without it the news
	// feed is used.
	BraveAPIKey   string
	BraveEndpoint string

	// FeedURLTemplate is an RSS/Atom search URL with one %s for the
	// query-escaped keywords.
	FeedURLTemplate string

	MaxResults      int
	MaxContentChars int
	SearchTimeout   time.Duration
	ArticleTimeout  time.Duration
	FetchArticles   bool
	UserAgent       string
}

// DefaultConfig returns the research defaults
func DefaultConfig() Config {
	return Config{
		BraveEndpoint:   "https://api.search.brave.com/res/v1/web/search",
		FeedURLTemplate: "https://news.google.com/rss/search?q=%s&hl=fr&gl=FR&ceid=FR:fr",
		MaxResults:      3,
		MaxContentChars: 1200,
		SearchTimeout:   8 * time.Second,
		ArticleTimeout:  5 * time.Second,
		FetchArticles:   true,
		UserAgent:       "agentforum-research/1.0",
	}
}

// Client fetches insights from a search backend and enriches them with
// article text
type Client struct {
	cfg        Config
	httpClient *http.Client
	search     searcher
	log        *logging.Logger
}

type searcher interface {
	search(ctx context.Context, query string, limit int) ([]Insight, error)
	name() string
}

// NewClient creates a research client. A nil httpClient uses a default one.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = def.MaxContentChars
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.ArticleTimeout <= 0 {
		cfg.ArticleTimeout = def.ArticleTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.BraveEndpoint == "" {
		cfg.BraveEndpoint = def.BraveEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        logging.WithField("component", "research"),
	}
	switch {
	case cfg.BraveAPIKey != "":
		c.search = &braveSearch{client: httpClient, endpoint: cfg.BraveEndpoint, apiKey: cfg.BraveAPIKey, userAgent: cfg.UserAgent}
	case cfg.FeedURLTemplate != "":
		c.search = newFeedSearch(httpClient, cfg.FeedURLTemplate, cfg.UserAgent)
	}
	return c
}

// FetchInsights searches for keywords and extracts article text for each
// hit. Article fetches are time-boxed individually; a failed fetch leaves
// that insight with its snippet only.
func (c *Client) FetchInsights(ctx context.Context, keywords []string) []Insight {
	query := strings.TrimSpace(strings.Join(keywords, " "))
	if query == "" || c.search == nil {
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	results, err := c.search.search(searchCtx, query, c.cfg.MaxResults)
	if err != nil {
		c.log.WithError(err).WithFields(map[string]interface{}{
			"backend": c.search.name(),
			"query":   query,
		}).Warn("research search failed")
		return nil
	}

	if !c.cfg.FetchArticles {
		return results
	}

	for i := range results {
		if results[i].URL == "" {
			continue
		}
		content, err := c.fetchArticle(ctx, results[i].URL)
		if err != nil {
			c.log.WithError(err).WithField("url", results[i].URL).Debug("article extraction failed")
			continue
		}
		results[i].Content = content
	}
	return results
}

// Nop is a Provider that never finds anything
type Nop struct{}

// FetchInsights returns nil
func (Nop) FetchInsights(context.Context, []string) []Insight { return nil }
