package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	Logger      Logger  `yaml:"logger"`
	Storage     Storage `yaml:"storage"`
	Auth        Auth    `yaml:"auth"`
	Listen      string  `yaml:"listen"`
	Admin       Admin   `yaml:"admin"`
	CORS        CORS    `yaml:"cors"`
	CoursesRoot string  `yaml:"courses_root"`
	Judge       Judge   `yaml:"judge"`
	Grader      Grader  `yaml:"grader"`
	Sweep       Sweep   `yaml:"sweep"`
	Ranking     Ranking `yaml:"ranking"`
	Events      Events  `yaml:"events"`
	// Timezone is the IANA zone used for calendar-day insight keys and window buckets.
	Timezone string `yaml:"timezone"`
}

type Logger struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Storage struct {
	Database string `yaml:"database"`
}

type Auth struct {
	JWT JWT `yaml:"jwt"`
}

type JWT struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type Admin struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type Judge struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

type Grader struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type Sweep struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type Ranking struct {
	// Windows lists the rolling score windows maintained per submission: daily, weekly, monthly.
	Windows []string     `yaml:"windows"`
	Cache   RankingCache `yaml:"cache"`
}

type RankingCache struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Events struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	JudgedTopic      string   `yaml:"judged_topic"`
	LeaderboardTopic string   `yaml:"leaderboard_topic"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	return &cfg, nil
}

// applyEnv lets secrets and deployment specific endpoints come from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("CSLEARN_JWT_SECRET"); v != "" {
		c.Auth.JWT.Secret = v
	}
	if v := os.Getenv("CSLEARN_JUDGE_URL"); v != "" {
		c.Judge.URL = v
	}
	if v := os.Getenv("CSLEARN_DATABASE"); v != "" {
		c.Storage.Database = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8081"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/cslearn.db"
	}
	if c.Auth.JWT.ExpireHours == 0 {
		c.Auth.JWT.ExpireHours = 24
	}
	if c.Judge.Timeout == 0 {
		c.Judge.Timeout = 60 * time.Second
	}
	if c.Judge.Retries < 0 {
		c.Judge.Retries = 0
	}
	if c.Grader.Workers <= 0 {
		c.Grader.Workers = 4
	}
	if c.Grader.QueueSize <= 0 {
		c.Grader.QueueSize = 1024
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = time.Hour
	}
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = 500
	}
	if len(c.Ranking.Windows) == 0 {
		c.Ranking.Windows = []string{"weekly"}
	}
	if c.Ranking.Cache.TTL == 0 {
		c.Ranking.Cache.TTL = 30 * time.Second
	}
	if c.Events.JudgedTopic == "" {
		c.Events.JudgedTopic = "submission.judged"
	}
	if c.Events.LeaderboardTopic == "" {
		c.Events.LeaderboardTopic = "leaderboard.updated"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}
