// Package cache keeps externally sourced catalog and statistics data warm
// for the request path. Every public read returns a value, never an
// upstream error: the fallback order is cached value, then local backup
// snapshot, then an empty structure.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"recloud/entity"
	"recloud/lib/clock"
	"recloud/lib/sl"
)

// placeholder game names are dropped from the catalog before serving
var placeholderNames = []*regexp.Regexp{
	regexp.MustCompile(`^GAME\s+\d+$`),
	regexp.MustCompile(`(?i)^PLACEHOLDER\s*\d*$`),
	regexp.MustCompile(`(?i)^TEST\s*\d*$`),
	regexp.MustCompile(`(?i)^UNTITLED\s*\d*$`),
	regexp.MustCompile(`(?i)^UNKNOWN\s*\d*$`),
	regexp.MustCompile(`(?i)^UNNAMED\s*\d*$`),
	regexp.MustCompile(`(?i)^TEMP\s*\d*$`),
}

const (
	accessFree    = "1"
	accessPremium = "2"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

type CatalogProvider interface {
	Catalog(ctx context.Context) (entity.Catalog, error)
}

type StatsProvider interface {
	Stats(ctx context.Context) (*entity.SiteStats, error)
	DailyStats(ctx context.Context, date string) (*entity.DayStats, error)
}

// splitCatalog is the processed catalog: placeholder entries filtered out
// and the rest split by access tier.
type splitCatalog struct {
	Free    entity.Catalog `json:"free"`
	Premium entity.Catalog `json:"premium"`
}

type Options struct {
	BackupDir     string
	StatsTTL      time.Duration
	CatalogTTL    time.Duration
	DailyTTL      time.Duration
	PeriodTTL     time.Duration
	InlineTimeout time.Duration
	FetchTimeout  time.Duration
}

type Service struct {
	stats   *resource[entity.SiteStats]
	catalog *resource[splitCatalog]

	dailyMu sync.Mutex
	daily   map[string]*resource[entity.DayStats]

	periodMu sync.Mutex
	period   map[int]*resource[entity.PeriodStats]

	provider StatsProvider
	opts     Options
	backup   *backupStore
	log      *slog.Logger
}

func New(catalog CatalogProvider, stats StatsProvider, opts Options, log *slog.Logger) *Service {
	log = log.With(sl.Module("cache"))
	backup := newBackupStore(opts.BackupDir)

	s := &Service{
		daily:    make(map[string]*resource[entity.DayStats]),
		period:   make(map[int]*resource[entity.PeriodStats]),
		provider: stats,
		opts:     opts,
		backup:   backup,
		log:      log,
	}

	s.stats = newResource("stats", resourceOptions{
		ttl:    opts.StatsTTL,
		inline: opts.InlineTimeout,
		full:   opts.FetchTimeout,
		backup: backup,
		log:    log,
	}, func(ctx context.Context) (entity.SiteStats, error) {
		snapshot, err := stats.Stats(ctx)
		if err != nil {
			return entity.SiteStats{}, err
		}
		return *snapshot, nil
	}, nil)

	s.catalog = newResource("catalog", resourceOptions{
		ttl:    opts.CatalogTTL,
		inline: opts.InlineTimeout,
		full:   opts.FetchTimeout,
		backup: backup,
		log:    log,
	}, func(ctx context.Context) (splitCatalog, error) {
		raw, err := catalog.Catalog(ctx)
		if err != nil {
			return splitCatalog{}, err
		}
		return processCatalog(raw, log), nil
	}, nil)

	return s
}

// Stats returns the site usage snapshot.
func (s *Service) Stats(ctx context.Context) entity.SiteStats {
	return s.stats.get(ctx)
}

// Catalog returns the games visible to the given tier. The premium tier
// sees the free catalog merged with the premium one.
func (s *Service) Catalog(ctx context.Context, tier entity.AccessTier) entity.Catalog {
	split := s.catalog.get(ctx)
	if tier != entity.TierPremium {
		return split.Free
	}
	merged := make(entity.Catalog, len(split.Free)+len(split.Premium))
	for id, game := range split.Free {
		merged[id] = game
	}
	for id, game := range split.Premium {
		merged[id] = game
	}
	return merged
}

// Game looks a game up by id across both tiers.
func (s *Service) Game(ctx context.Context, id string) (entity.Game, bool) {
	split := s.catalog.get(ctx)
	if game, ok := split.Free[id]; ok {
		return game, true
	}
	if game, ok := split.Premium[id]; ok {
		return game, true
	}
	return entity.Game{}, false
}

// Search filters the catalog by a case-insensitive name substring.
// access narrows the searched tiers to "free" or "premium"; any other
// value searches both. Results are sorted by name and the limit is
// capped at 100 (50 when unset).
func (s *Service) Search(ctx context.Context, query, access string, limit int) []entity.Game {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	split := s.catalog.get(ctx)
	var pools []entity.Catalog
	switch entity.AccessTier(access) {
	case entity.TierFree:
		pools = []entity.Catalog{split.Free}
	case entity.TierPremium:
		pools = []entity.Catalog{split.Premium}
	default:
		pools = []entity.Catalog{split.Free, split.Premium}
	}

	needle := strings.ToLower(query)
	results := make([]entity.Game, 0)
	for _, pool := range pools {
		for _, game := range pool {
			if strings.Contains(strings.ToLower(game.Name), needle) {
				results = append(results, game)
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// GameDetail resolves a game together with the tier it is served
// under, checking the free catalog first.
func (s *Service) GameDetail(ctx context.Context, id string) (entity.Game, entity.AccessTier, bool) {
	split := s.catalog.get(ctx)
	if game, ok := split.Free[id]; ok {
		return game, entity.TierFree, true
	}
	if game, ok := split.Premium[id]; ok {
		return game, entity.TierPremium, true
	}
	return entity.Game{}, "", false
}

// DailyStats returns the game-add feed for a date (today when empty).
// Each date is its own cache entry with its own TTL.
func (s *Service) DailyStats(ctx context.Context, date string) entity.DayStats {
	if date == "" {
		date = clock.Today()
	}
	return s.dailyResource(date).get(ctx)
}

func (s *Service) dailyResource(date string) *resource[entity.DayStats] {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()
	if r, ok := s.daily[date]; ok {
		return r
	}
	day := date
	r := newResource("daily_"+date, resourceOptions{
		ttl:    s.opts.DailyTTL,
		inline: s.opts.InlineTimeout,
		full:   s.opts.FetchTimeout,
		backup: s.backup,
		log:    s.log,
	}, func(ctx context.Context) (entity.DayStats, error) {
		stats, err := s.provider.DailyStats(ctx, day)
		if err != nil {
			return entity.DayStats{}, err
		}
		return *stats, nil
	}, func() entity.DayStats {
		return entity.DayStats{Date: day, Details: []entity.GameAddEvent{}}
	})
	s.daily[date] = r
	return r
}

// PeriodStats aggregates the daily feeds over a rolling window. Windows
// other than 30 days are served as 7.
func (s *Service) PeriodStats(ctx context.Context, days int) entity.PeriodStats {
	if days != 30 {
		days = 7
	}
	return s.periodResource(days).get(ctx)
}

func (s *Service) periodResource(days int) *resource[entity.PeriodStats] {
	s.periodMu.Lock()
	defer s.periodMu.Unlock()
	if r, ok := s.period[days]; ok {
		return r
	}
	window := days
	r := newResource(fmt.Sprintf("period_%d", days), resourceOptions{
		ttl:    s.opts.PeriodTTL,
		inline: s.opts.InlineTimeout,
		full:   s.opts.FetchTimeout,
		log:    s.log,
	}, func(ctx context.Context) (entity.PeriodStats, error) {
		return s.aggregatePeriod(ctx, window), nil
	}, func() entity.PeriodStats {
		return emptyPeriod()
	})
	s.period[days] = r
	return r
}

// aggregatePeriod walks the window newest day first, reusing the per-date
// cache entries so only missing days hit the upstream.
func (s *Service) aggregatePeriod(ctx context.Context, days int) entity.PeriodStats {
	now := time.Now()
	window := make([]entity.DayStats, 0, days)
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format(clock.DateLayout)
		window = append(window, s.dailyResource(date).get(ctx))
	}

	total := 0
	hourCounts := make(map[int]int)
	for _, day := range window {
		total += day.GamesAdded
		for _, event := range day.Details {
			t, err := clock.Parse(event.Timestamp)
			if err != nil {
				continue
			}
			hourCounts[t.Hour()]++
		}
	}

	result := emptyPeriod()
	result.TotalGamesAdded = total
	result.AverageGamesPerDay = float64(total) / float64(days)
	result.Days = window

	if len(hourCounts) > 0 {
		peak := peakHour(hourCounts)
		result.PeakHour = fmt.Sprintf("%d:00", peak)
		result.PeakHourRaw = &peak
	}
	result.Trend = trend(window)
	return result
}

func emptyPeriod() entity.PeriodStats {
	return entity.PeriodStats{PeakHour: "N/A", Trend: "N/A"}
}

func peakHour(counts map[int]int) int {
	hours := make([]int, 0, len(counts))
	for hour := range counts {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	best := hours[0]
	for _, hour := range hours {
		if counts[hour] > counts[best] {
			best = hour
		}
	}
	return best
}

// trend compares the newer half of the window against the older half.
// The window is ordered newest first.
func trend(window []entity.DayStats) string {
	if len(window) < 2 {
		return "N/A"
	}
	half := len(window) / 2
	recent, earlier := 0, 0
	for i, day := range window {
		if i < half {
			recent += day.GamesAdded
		} else {
			earlier += day.GamesAdded
		}
	}
	switch {
	case recent > earlier:
		return "up"
	case recent < earlier:
		return "down"
	}
	return "stable"
}

func processCatalog(raw entity.Catalog, log *slog.Logger) splitCatalog {
	split := splitCatalog{
		Free:    make(entity.Catalog),
		Premium: make(entity.Catalog),
	}
	filtered := 0
	for id, game := range raw {
		name := strings.TrimSpace(game.Name)
		if name == "" || isPlaceholder(name) {
			filtered++
			continue
		}
		switch game.Access {
		case accessFree:
			split.Free[id] = game
		case accessPremium:
			split.Premium[id] = game
		}
	}
	log.Debug("catalog processed",
		slog.Int("free", len(split.Free)),
		slog.Int("premium", len(split.Premium)),
		slog.Int("filtered", filtered))
	return split
}

func isPlaceholder(name string) bool {
	for _, pattern := range placeholderNames {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// RefreshStats and friends are the scheduler entry points. They force a
// fetch regardless of TTL; a failure keeps the previous value.
func (s *Service) RefreshStats(ctx context.Context) error {
	return s.stats.refresh(ctx)
}

func (s *Service) RefreshCatalog(ctx context.Context) error {
	return s.catalog.refresh(ctx)
}

// RefreshDaily re-fetches today's feed.
func (s *Service) RefreshDaily(ctx context.Context) error {
	return s.dailyResource(clock.Today()).refresh(ctx)
}

// RefreshPeriods recomputes both period windows.
func (s *Service) RefreshPeriods(ctx context.Context) error {
	if err := s.periodResource(7).refresh(ctx); err != nil {
		return err
	}
	return s.periodResource(30).refresh(ctx)
}
