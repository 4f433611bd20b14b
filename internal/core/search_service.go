package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gwi.com/answer-engine/internal/metrics"
)

const (
	MaxSearchResults     = 5
	defaultSearchTimeout = 10 * time.Second
)

type SearchConfig struct {
	APIKey   string
	EngineID string
	// Endpoint overrides the Custom Search base URL; empty keeps the library default.
	Endpoint string
	Timeout  time.Duration
}

// SearchService queries the Google Custom Search JSON API. It never returns an
// error: any failure degrades to an empty result list.
type SearchService struct {
	svc      *customsearch.Service
	engineID string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSearchService(ctx context.Context, cfg SearchConfig, logger *zap.Logger) (*SearchService, error) {
	s := &SearchService{
		engineID: cfg.EngineID,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultSearchTimeout
	}
	if cfg.APIKey == "" || cfg.EngineID == "" {
		logger.Warn("google custom search credentials missing, answers will have no sources")
		return s, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	s.svc = svc
	return s, nil
}

func (s *SearchService) Search(ctx context.Context, query string) []SearchResult {
	if s.svc == nil {
		s.logger.Error("missing google custom search credentials")
		return []SearchResult{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.svc.Cse.List().
		Cx(s.engineID).
		Q(query).
		Num(MaxSearchResults).
		Context(ctx).
		Do()
	if err != nil {
		metrics.SearchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			s.logger.Error("google custom search API error",
				zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
		} else {
			s.logger.Error("google custom search request failed", zap.Error(err))
		}
		return []SearchResult{}
	}
	metrics.SearchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	if len(res.Items) == 0 {
		s.logger.Warn("no search results found", zap.String("query", query))
		return []SearchResult{}
	}

	return normalizeResults(res.Items)
}

func normalizeResults(items []*customsearch.Result) []SearchResult {
	if len(items) > MaxSearchResults {
		items = items[:MaxSearchResults]
	}
	results := make([]SearchResult, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		results = append(results, SearchResult{
			Title:       item.Title,
			URL:         item.Link,
			Description: item.Snippet,
			Favicon:     faviconURL(item.Link),
			Index:       len(results) + 1,
		})
	}
	return results
}

// faviconURL derives the favicon service URL from the link's hostname.
func faviconURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return "https://www.google.com/s2/favicons?domain=" + u.Hostname() + "&sz=32"
}
