package provider

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/stockdash/portfolio-engine/internal/model"
)

const (
	newsAPIName  = "newsapi"
	newsAPIBase  = "https://newsapi.org/v2"
	newsAPIRate  = 10
	newsAPIQuery = "stock market OR finance OR trading"
)

// MarketNewsSource returns general market headlines, newest first.
type MarketNewsSource interface {
	Name() string
	MarketNews(ctx context.Context, limit int) ([]model.Article, error)
}

// CompanyNewsSource returns headlines about one symbol published within
// [from, to], newest first.
type CompanyNewsSource interface {
	Name() string
	CompanyNews(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.Article, error)
}

// NewsAPI maps the newsapi.org /everything endpoint.
type NewsAPI struct {
	*client
}

// NewNewsAPI creates a NewsAPI market news source.
func NewNewsAPI(cfg Config) *NewsAPI {
	return &NewsAPI{client: newClient(newsAPIName, newsAPIBase, newsAPIRate, cfg)}
}

func (p *NewsAPI) MarketNews(ctx context.Context, limit int) ([]model.Article, error) {
	doc, err := p.getJSON(ctx, "/everything", url.Values{
		"q":        {newsAPIQuery},
		"language": {"en"},
		"sortBy":   {"publishedAt"},
		"pageSize": {strconv.Itoa(limit)},
		"apiKey":   {p.apiKey},
	})
	if err != nil {
		return nil, err
	}
	if stringAt(doc, `$.status`) == "error" {
		kind := ErrUnavailable
		if stringAt(doc, `$.code`) == "rateLimited" {
			kind = ErrRateLimited
		}
		return nil, fail(kind, "%s: %s", p.name, stringAt(doc, `$.message`))
	}

	// Read the array directly: lookup unwraps single-element lists.
	obj, _ := doc.(map[string]any)
	list, _ := obj["articles"].([]any)
	articles := make([]model.Article, 0, len(list))
	for _, item := range list {
		published, _ := time.Parse(time.RFC3339, stringAt(item, `$.publishedAt`))
		articles = append(articles, model.Article{
			Title:       stringAt(item, `$.title`),
			Description: stringAt(item, `$.description`),
			URL:         stringAt(item, `$.url`),
			Source:      stringAt(item, `$.source.name`),
			PublishedAt: published.UTC(),
			ImageURL:    stringAt(item, `$.urlToImage`),
		})
	}
	return newest(articles, limit), nil
}

// CompanyNews maps the Finnhub /company-news endpoint.
func (p *Finnhub) CompanyNews(ctx context.Context, sym string, from, to time.Time, limit int) ([]model.Article, error) {
	doc, err := p.getJSON(ctx, "/company-news", url.Values{
		"symbol": {sym},
		"from":   {from.UTC().Format(time.DateOnly)},
		"to":     {to.UTC().Format(time.DateOnly)},
		"token":  {p.apiKey},
	})
	if err != nil {
		return nil, err
	}
	list, ok := doc.([]any)
	if !ok {
		if msg := stringAt(doc, `$.error`); msg != "" {
			return nil, fail(ErrUnavailable, "%s: %s", p.name, msg)
		}
		return nil, fail(ErrUnavailable, "%s: unexpected company news payload", p.name)
	}

	articles := make([]model.Article, 0, len(list))
	for _, item := range list {
		articles = append(articles, model.Article{
			Title:       stringAt(item, `$.headline`),
			Description: stringAt(item, `$.summary`),
			URL:         stringAt(item, `$.url`),
			Source:      stringAt(item, `$.source`),
			PublishedAt: time.Unix(int64At(item, `$.datetime`), 0).UTC(),
			ImageURL:    stringAt(item, `$.image`),
			Category:    stringAt(item, `$.category`),
		})
	}
	return newest(articles, limit), nil
}

// newest sorts articles newest first and keeps at most limit of them.
func newest(articles []model.Article, limit int) []model.Article {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles
}
