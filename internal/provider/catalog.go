// Package provider holds the HTTP clients for the upstream content
// services. Provider errors never reach API clients directly; the cache
// layer absorbs them through its fallback chain.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"recloud/entity"
	"recloud/lib/sl"
)

type CatalogClient struct {
	hc      *http.Client
	baseURL string
	log     *slog.Logger
}

func NewCatalogClient(baseURL string, timeout time.Duration, log *slog.Logger) *CatalogClient {
	return &CatalogClient{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log.With(sl.Module("catalog-provider")),
	}
}

// Catalog fetches the full game list. Entries are keyed by id; the key is
// copied into each entry so values are self-describing.
func (c *CatalogClient) Catalog(ctx context.Context) (entity.Catalog, error) {
	body, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]entity.Game)
	if err = json.Unmarshal(body, &raw); err != nil {
		c.log.Error("decode catalog", sl.Err(err))
		return nil, err
	}

	catalog := make(entity.Catalog, len(raw))
	for id, game := range raw {
		game.Id = id
		catalog[id] = game
	}
	return catalog, nil
}

func (c *CatalogClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	t1 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Error("request failed", sl.Err(err), slog.String("endpoint", endpoint))
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	c.log.Debug("catalog request completed",
		slog.String("endpoint", endpoint),
		slog.String("status", resp.Status),
		slog.String("duration", fmt.Sprintf("%.3fms", float64(time.Since(t1))/float64(time.Millisecond))))

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog provider %s: %s", resp.Status, body)
	}
	return body, nil
}
