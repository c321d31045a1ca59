package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"true"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"recloud"`
}

type ProvidersConfig struct {
	CatalogUrl   string        `yaml:"catalog_url" env-default:""`
	StatsUrl     string        `yaml:"stats_url" env-default:""`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env-default:"10s"`
	// InlineTimeout caps the synchronous first-load fetch on the request path.
	InlineTimeout time.Duration `yaml:"inline_timeout" env-default:"3s"`
}

type CacheConfig struct {
	BackupDir   string        `yaml:"backup_dir" env-default:"."`
	StatsTTL    time.Duration `yaml:"stats_ttl" env-default:"5m"`
	CatalogTTL  time.Duration `yaml:"catalog_ttl" env-default:"1h"`
	DailyTTL    time.Duration `yaml:"daily_ttl" env-default:"30m"`
	PeriodTTL   time.Duration `yaml:"period_ttl" env-default:"1h"`
	SweepPeriod time.Duration `yaml:"sweep_period" env-default:"5m"`
}

type TelegramConfig struct {
	Enabled bool    `yaml:"enabled" env-default:"false"`
	ApiKey  string  `yaml:"api_key" env-default:""`
	ChatIds []int64 `yaml:"chat_ids"`
}

type Config struct {
	Listen    Listen          `yaml:"listen"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Env       string          `yaml:"env" env-default:"local"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
