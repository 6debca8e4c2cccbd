package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Session struct {
		TTL        string `yaml:"ttl"`
		CodeDigits int    `yaml:"codeDigits"`
	} `yaml:"session"`
	Scoring struct {
		BasePoints      int `yaml:"basePoints"`
		MinPoints       int `yaml:"minPoints"`
		MaxWrongAnswers int `yaml:"maxWrongAnswers"`
	} `yaml:"scoring"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; defaults and the environment are used instead.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	cfg := Config{}
	cfg.Session.TTL = "24h"
	cfg.Session.CodeDigits = 6
	cfg.Scoring.BasePoints = 1000
	cfg.Scoring.MinPoints = 10
	cfg.Scoring.MaxWrongAnswers = 1
	cfg.AMQP.Exchange = "quiz.events"
	cfg.Log.Level = "info"
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Postgres.URL, "POSTGRES_URL")
	setString(&cfg.AMQP.URL, "AMQP_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.Log.JSON = v == "true" || v == "1"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
