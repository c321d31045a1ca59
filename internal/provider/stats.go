package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"recloud/entity"
	"recloud/lib/sl"
)

type StatsClient struct {
	hc      *http.Client
	baseURL string
	log     *slog.Logger
}

func NewStatsClient(baseURL string, timeout time.Duration, log *slog.Logger) *StatsClient {
	return &StatsClient{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log.With(sl.Module("stats-provider")),
	}
}

// Stats fetches the site-wide usage snapshot.
func (c *StatsClient) Stats(ctx context.Context) (*entity.SiteStats, error) {
	body, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	var stats entity.SiteStats
	if err = json.Unmarshal(body, &stats); err != nil {
		c.log.Error("decode stats", sl.Err(err))
		return nil, err
	}
	return &stats, nil
}

// DailyStats fetches the game-add feed for one calendar date (YYYY-MM-DD).
func (c *StatsClient) DailyStats(ctx context.Context, date string) (*entity.DayStats, error) {
	q := url.Values{}
	q.Set("date", date)
	body, err := c.get(ctx, c.baseURL+"/daily?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var day entity.DayStats
	if err = json.Unmarshal(body, &day); err != nil {
		c.log.Error("decode daily stats", sl.Err(err), slog.String("date", date))
		return nil, err
	}
	if day.Date == "" {
		day.Date = date
	}
	return &day, nil
}

func (c *StatsClient) get(ctx context.Context, endpoint string) ([]byte, error) {
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

	c.log.Debug("stats request completed",
		slog.String("endpoint", endpoint),
		slog.String("status", resp.Status),
		slog.String("duration", fmt.Sprintf("%.3fms", float64(time.Since(t1))/float64(time.Millisecond))))

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stats provider %s: %s", resp.Status, body)
	}
	return body, nil
}
