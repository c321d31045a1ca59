package entity

// SiteStats is the externally sourced usage snapshot.
type SiteStats struct {
	OnlineUsers int `json:"online_users"`
	DailyUsers  int `json:"daily_users"`
	TotalUsers  int `json:"total_users"`
}

// AccessTier selects the catalog half served to a client.
type AccessTier string

const (
	TierFree    AccessTier = "free"
	TierPremium AccessTier = "premium"
)

// Game is one catalog entry. Access carries the upstream tier marker
// ("1" free, "2" premium).
type Game struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Access string `json:"access,omitempty"`
}

// Catalog is the upstream game list keyed by game id.
type Catalog map[string]Game

// GameAddEvent is one "game added" record inside a day's statistics feed.
type GameAddEvent struct {
	GameId    string `json:"game_id"`
	UserId    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

// DayStats is the per-date game-add statistics blob.
type DayStats struct {
	Date       string         `json:"date"`
	GamesAdded int            `json:"games_added"`
	Details    []GameAddEvent `json:"details"`
}

// PeriodStats aggregates day statistics over a rolling window.
type PeriodStats struct {
	TotalGamesAdded    int        `json:"total_games_added"`
	AverageGamesPerDay float64    `json:"average_games_per_day"`
	PeakHour           string     `json:"peak_hour"`
	PeakHourRaw        *int       `json:"peak_hour_raw"`
	Trend              string     `json:"trend"`
	Days               []DayStats `json:"days,omitempty"`
}
