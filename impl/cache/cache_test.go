package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recloud/entity"
	"recloud/lib/clock"
)

type fakeCatalog struct {
	catalog entity.Catalog
	err     error
	calls   atomic.Int32
}

var _ CatalogProvider = (*fakeCatalog)(nil)

func (f *fakeCatalog) Catalog(_ context.Context) (entity.Catalog, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

type fakeStats struct {
	stats *entity.SiteStats
	daily map[string]*entity.DayStats
	err   error
	calls atomic.Int32
}

var _ StatsProvider = (*fakeStats)(nil)

func (f *fakeStats) Stats(_ context.Context) (*entity.SiteStats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeStats) DailyStats(_ context.Context, date string) (*entity.DayStats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if day, ok := f.daily[date]; ok {
		return day, nil
	}
	return &entity.DayStats{Date: date, Details: []entity.GameAddEvent{}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOptions(dir string) Options {
	return Options{
		BackupDir:     dir,
		StatsTTL:      time.Minute,
		CatalogTTL:    time.Minute,
		DailyTTL:      time.Minute,
		PeriodTTL:     time.Minute,
		InlineTimeout: time.Second,
		FetchTimeout:  time.Second,
	}
}

func newService(t *testing.T, catalog CatalogProvider, stats StatsProvider) *Service {
	t.Helper()
	return New(catalog, stats, testOptions(t.TempDir()), testLogger())
}

func TestStatsCachesBetweenReads(t *testing.T) {
	stats := &fakeStats{stats: &entity.SiteStats{OnlineUsers: 12, DailyUsers: 80, TotalUsers: 900}}
	s := newService(t, &fakeCatalog{}, stats)

	first := s.Stats(context.Background())
	second := s.Stats(context.Background())

	assert.Equal(t, 12, first.OnlineUsers)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stats.calls.Load())
}

func TestStatsFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	snapshot, err := json.Marshal(entity.SiteStats{OnlineUsers: 7, TotalUsers: 70})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stats_backup.json"), snapshot, 0o644))

	stats := &fakeStats{err: errors.New("upstream down")}
	s := New(&fakeCatalog{}, stats, testOptions(dir), testLogger())

	got := s.Stats(context.Background())

	assert.Equal(t, 7, got.OnlineUsers)
	assert.Equal(t, 70, got.TotalUsers)
}

func TestStatsFallsBackToZeroValue(t *testing.T) {
	stats := &fakeStats{err: errors.New("upstream down")}
	s := newService(t, &fakeCatalog{}, stats)

	got := s.Stats(context.Background())

	assert.Equal(t, entity.SiteStats{}, got)
}

func TestCatalogFiltersPlaceholdersAndSplitsTiers(t *testing.T) {
	catalog := &fakeCatalog{catalog: entity.Catalog{
		"1": {Id: "1", Name: "Star Runner", Access: "1"},
		"2": {Id: "2", Name: "Deep Vault", Access: "2"},
		"3": {Id: "3", Name: "GAME 3", Access: "1"},
		"4": {Id: "4", Name: "placeholder 2", Access: "1"},
		"5": {Id: "5", Name: "  ", Access: "1"},
		"6": {Id: "6", Name: "Untitled", Access: "2"},
		"7": {Id: "7", Name: "Testament", Access: "1"},
	}}
	s := newService(t, catalog, &fakeStats{})

	free := s.Catalog(context.Background(), entity.TierFree)
	premium := s.Catalog(context.Background(), entity.TierPremium)

	// "Testament" is a real name even though it starts with TEST
	assert.Len(t, free, 2)
	assert.Contains(t, free, "1")
	assert.Contains(t, free, "7")
	assert.NotContains(t, free, "2")

	// premium sees both halves merged
	assert.Len(t, premium, 3)
	assert.Contains(t, premium, "2")
	assert.Contains(t, premium, "1")

	// one upstream fetch serves both tiers
	assert.Equal(t, int32(1), catalog.calls.Load())
}

func TestGameLooksAcrossTiers(t *testing.T) {
	catalog := &fakeCatalog{catalog: entity.Catalog{
		"1": {Id: "1", Name: "Star Runner", Access: "1"},
		"2": {Id: "2", Name: "Deep Vault", Access: "2"},
	}}
	s := newService(t, catalog, &fakeStats{})

	game, ok := s.Game(context.Background(), "2")
	require.True(t, ok)
	assert.Equal(t, "Deep Vault", game.Name)

	_, ok = s.Game(context.Background(), "99")
	assert.False(t, ok)
}

func TestSearchFiltersByNameAndTier(t *testing.T) {
	catalog := &fakeCatalog{catalog: entity.Catalog{
		"1": {Id: "1", Name: "Star Runner", Access: "1"},
		"2": {Id: "2", Name: "Star Vault", Access: "2"},
		"3": {Id: "3", Name: "Deep Vault", Access: "2"},
	}}
	s := newService(t, catalog, &fakeStats{})

	both := s.Search(context.Background(), "STAR", "all", 0)
	require.Len(t, both, 2)
	assert.Equal(t, "Star Runner", both[0].Name)
	assert.Equal(t, "Star Vault", both[1].Name)

	free := s.Search(context.Background(), "star", "free", 0)
	require.Len(t, free, 1)
	assert.Equal(t, "1", free[0].Id)

	premium := s.Search(context.Background(), "vault", "premium", 0)
	require.Len(t, premium, 2)

	assert.Empty(t, s.Search(context.Background(), "nebula", "all", 0))
}

func TestSearchCapsLimit(t *testing.T) {
	games := make(entity.Catalog)
	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("%03d", i)
		games[id] = entity.Game{Id: id, Name: "Star " + id, Access: "1"}
	}
	s := newService(t, &fakeCatalog{catalog: games}, &fakeStats{})

	assert.Len(t, s.Search(context.Background(), "star", "all", 0), defaultSearchLimit)
	assert.Len(t, s.Search(context.Background(), "star", "all", 500), maxSearchLimit)
	assert.Len(t, s.Search(context.Background(), "star", "all", 10), 10)
}

func TestGameDetailReportsTier(t *testing.T) {
	catalog := &fakeCatalog{catalog: entity.Catalog{
		"1": {Id: "1", Name: "Star Runner", Access: "1"},
		"2": {Id: "2", Name: "Deep Vault", Access: "2"},
	}}
	s := newService(t, catalog, &fakeStats{})

	game, tier, ok := s.GameDetail(context.Background(), "1")
	require.True(t, ok)
	assert.Equal(t, "Star Runner", game.Name)
	assert.Equal(t, entity.TierFree, tier)

	_, tier, ok = s.GameDetail(context.Background(), "2")
	require.True(t, ok)
	assert.Equal(t, entity.TierPremium, tier)

	_, _, ok = s.GameDetail(context.Background(), "99")
	assert.False(t, ok)
}

func TestDailyStatsDefaultsToToday(t *testing.T) {
	today := clock.Today()
	stats := &fakeStats{daily: map[string]*entity.DayStats{
		today: {Date: today, GamesAdded: 3, Details: []entity.GameAddEvent{}},
	}}
	s := newService(t, &fakeCatalog{}, stats)

	got := s.DailyStats(context.Background(), "")

	assert.Equal(t, today, got.Date)
	assert.Equal(t, 3, got.GamesAdded)
}

func TestDailyStatsZeroValueCarriesDate(t *testing.T) {
	stats := &fakeStats{err: errors.New("upstream down")}
	s := newService(t, &fakeCatalog{}, stats)

	got := s.DailyStats(context.Background(), "2026-03-01")

	assert.Equal(t, "2026-03-01", got.Date)
	assert.NotNil(t, got.Details)
	assert.Zero(t, got.GamesAdded)
}

func TestPeriodStatsAggregation(t *testing.T) {
	now := time.Now()
	today := now.Format(clock.DateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(clock.DateLayout)

	daily := map[string]*entity.DayStats{
		today: {Date: today, GamesAdded: 6, Details: []entity.GameAddEvent{
			{GameId: "g1", Timestamp: today + " 14:05:00"},
			{GameId: "g2", Timestamp: today + " 14:40:00"},
			{GameId: "g3", Timestamp: today + " 09:10:00"},
			{GameId: "g4", Timestamp: "not a timestamp"},
		}},
		yesterday: {Date: yesterday, GamesAdded: 1, Details: []entity.GameAddEvent{
			{GameId: "g5", Timestamp: yesterday + " 22:30:00"},
		}},
	}
	s := newService(t, &fakeCatalog{}, &fakeStats{daily: daily})

	got := s.PeriodStats(context.Background(), 7)

	assert.Equal(t, 7, len(got.Days))
	assert.Equal(t, 7, got.TotalGamesAdded)
	assert.InDelta(t, 1.0, got.AverageGamesPerDay, 0.0001)
	assert.Equal(t, "14:00", got.PeakHour)
	require.NotNil(t, got.PeakHourRaw)
	assert.Equal(t, 14, *got.PeakHourRaw)
	// all additions sit in the newer half of the window
	assert.Equal(t, "up", got.Trend)
}

func TestPeriodStatsEmptyWindow(t *testing.T) {
	s := newService(t, &fakeCatalog{}, &fakeStats{})

	got := s.PeriodStats(context.Background(), 7)

	assert.Zero(t, got.TotalGamesAdded)
	assert.Equal(t, "N/A", got.PeakHour)
	assert.Nil(t, got.PeakHourRaw)
	assert.Equal(t, "stable", got.Trend)
}

func TestPeriodStatsUnknownWindowServedAsWeek(t *testing.T) {
	s := newService(t, &fakeCatalog{}, &fakeStats{})

	got := s.PeriodStats(context.Background(), 90)

	assert.Len(t, got.Days, 7)
}

func TestRefreshStatsReplacesValue(t *testing.T) {
	stats := &fakeStats{stats: &entity.SiteStats{OnlineUsers: 1}}
	s := newService(t, &fakeCatalog{}, stats)

	first := s.Stats(context.Background())
	assert.Equal(t, 1, first.OnlineUsers)

	stats.stats = &entity.SiteStats{OnlineUsers: 5}
	require.NoError(t, s.RefreshStats(context.Background()))

	assert.Equal(t, 5, s.Stats(context.Background()).OnlineUsers)
}

func TestRefreshFailureKeepsPreviousValue(t *testing.T) {
	stats := &fakeStats{stats: &entity.SiteStats{OnlineUsers: 1}}
	s := newService(t, &fakeCatalog{}, stats)

	_ = s.Stats(context.Background())
	stats.err = errors.New("upstream down")

	err := s.RefreshStats(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, s.Stats(context.Background()).OnlineUsers)
}

func TestBackupWrittenAfterSuccessfulFetch(t *testing.T) {
	dir := t.TempDir()
	stats := &fakeStats{stats: &entity.SiteStats{OnlineUsers: 42}}
	s := New(&fakeCatalog{}, stats, testOptions(dir), testLogger())

	_ = s.Stats(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, "stats_backup.json"))
	require.NoError(t, err)

	var saved entity.SiteStats
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 42, saved.OnlineUsers)
}

func TestTrend(t *testing.T) {
	day := func(added int) entity.DayStats {
		return entity.DayStats{GamesAdded: added}
	}

	tests := []struct {
		name   string
		window []entity.DayStats
		want   string
	}{
		{"single day", []entity.DayStats{day(5)}, "N/A"},
		{"rising", []entity.DayStats{day(5), day(4), day(1), day(0)}, "up"},
		{"falling", []entity.DayStats{day(0), day(1), day(4), day(5)}, "down"},
		{"flat", []entity.DayStats{day(2), day(2)}, "stable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trend(tt.window))
		})
	}
}

func TestIsPlaceholder(t *testing.T) {
	placeholders := []string{"GAME 42", "Placeholder", "placeholder 3", "test", "TEST 1", "Untitled", "unknown 7", "Unnamed", "temp 2"}
	for _, name := range placeholders {
		assert.True(t, isPlaceholder(name), name)
	}

	real := []string{"Star Runner", "Testament", "Game On", "Temple 2", "Unknown Worlds Expedition"}
	for _, name := range real {
		assert.False(t, isPlaceholder(name), name)
	}
}
