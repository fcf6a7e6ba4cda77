// Package advisor restores the market analyst: headline retrieval, keyword
// sentiment and an LLM trade proposal. It consumes only the public client
// operations and never places an order itself.
package advisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Headline is one scored news title for a symbol.
type Headline struct {
	Symbol    string
	Text      string
	Sentiment Sentiment
	Strong    bool
}

var (
	positiveWords = regexp.MustCompile(`(?i)surge|soar|jump|rally|gain|profit|revenue|beat|breakthrough|innovation|upgrade|record|boost`)
	negativeWords = regexp.MustCompile(`(?i)plunge|crash|fall|drop|loss|decline|miss|lawsuit|investigation|concern|cut|layoff|warning`)
	strongPos     = regexp.MustCompile(`(?i)surge|soar|jump|rally|record`)
	strongNeg     = regexp.MustCompile(`(?i)plunge|crash|lawsuit|layoff`)

	titleRe  = regexp.MustCompile(`<title>(.*?)</title>`)
	entityRe = regexp.MustCompile(`&[^;]+;`)
)

// Score classifies a headline by keyword lists. Negative words override
// positive ones, matching the cautious read of mixed headlines.
func Score(text string) (Sentiment, bool) {
	var sentiment = SentimentNeutral
	var strong bool
	if positiveWords.MatchString(text) {
		sentiment = SentimentPositive
		strong = strongPos.MatchString(text)
	}
	if negativeWords.MatchString(text) {
		sentiment = SentimentNegative
		strong = strongNeg.MatchString(text)
	}
	return sentiment, strong
}

const defaultFeedURL = "https://news.google.com/rss/search"

// HeadlineFetcher pulls and scores recent news titles per symbol from an RSS
// search feed.
type HeadlineFetcher struct {
	logger    *zap.SugaredLogger
	client    *http.Client
	feedURL   string
	perSymbol int
}

func NewHeadlineFetcher(logger *zap.SugaredLogger, timeout time.Duration, feedURL string) *HeadlineFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if feedURL == "" {
		feedURL = defaultFeedURL
	}
	return &HeadlineFetcher{
		logger:    logger,
		client:    &http.Client{Timeout: timeout},
		feedURL:   feedURL,
		perSymbol: 3,
	}
}

// Fetch returns up to three scored headlines for the symbol. Feed-level
// titles (the channel name and the query echo) are skipped.
func (f *HeadlineFetcher) Fetch(ctx context.Context, symbol string) ([]Headline, error) {
	var query = url.Values{
		"q":    {symbol + " stock market today"},
		"hl":   {"en-US"},
		"gl":   {"US"},
		"ceid": {"US:en"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch headlines for %v: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch headlines for %v: status %v", symbol, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var headlines = ParseTitles(symbol, string(body), f.perSymbol)
	f.logger.Debugw("headlines fetched", "symbol", symbol, "count", len(headlines))
	return headlines, nil
}

// ParseTitles extracts item titles from an RSS document and scores them. The
// first two title tags belong to the feed itself, not to items.
func ParseTitles(symbol, rss string, limit int) []Headline {
	var matches = titleRe.FindAllStringSubmatch(rss, -1)
	if len(matches) <= 2 {
		return nil
	}
	matches = matches[2:]
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	var headlines = make([]Headline, 0, len(matches))
	for _, m := range matches {
		var text = entityRe.ReplaceAllString(m[1], "")
		if text == "" {
			continue
		}
		sentiment, strong := Score(text)
		headlines = append(headlines, Headline{
			Symbol:    symbol,
			Text:      text,
			Sentiment: sentiment,
			Strong:    strong,
		})
	}
	return headlines
}
