package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InwardCacheTTLSeconds int
	LotPrefix             string
	SeasonStartMonth      int
	DraftIdleMinutes      int
	LogLevel              string
	LogFormat             string
}

// fileConfig is the optional CONFIG_FILE overlay. Environment variables win
// over anything set here.
type fileConfig struct {
	Server struct {
		Port          string `yaml:"port"`
		AllowedOrigin string `yaml:"allowed_origin"`
		SQLitePath    string `yaml:"sqlite_path"`
	} `yaml:"server"`
	Numbering struct {
		LotPrefix        string `yaml:"lot_prefix"`
		SeasonStartMonth int    `yaml:"season_start_month"`
	} `yaml:"numbering"`
	Drafts struct {
		IdleMinutes int `yaml:"idle_minutes"`
	} `yaml:"drafts"`
	Cache struct {
		InwardTTLSeconds int `yaml:"inward_ttl_seconds"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads .env (when present), the CONFIG_FILE overlay and then the
// process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", orDefault(file.Server.Port, "8080")),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", orDefault(file.Server.AllowedOrigin, "http://127.0.0.1:3000")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            getEnv("SQLITE_PATH", file.Server.SQLitePath),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		InwardCacheTTLSeconds: getPositiveInt("INWARD_CACHE_TTL_SECONDS", file.Cache.InwardTTLSeconds, 30),
		LotPrefix:             strings.TrimSpace(getEnv("LOT_PREFIX", orDefault(file.Numbering.LotPrefix, "UC"))),
		SeasonStartMonth:      getPositiveInt("SEASON_START_MONTH", file.Numbering.SeasonStartMonth, 1),
		DraftIdleMinutes:      getPositiveInt("DRAFT_IDLE_MINUTES", file.Drafts.IdleMinutes, 30),
		LogLevel:              getEnv("LOG_LEVEL", orDefault(file.Log.Level, "info")),
		LogFormat:             getEnv("LOG_FORMAT", orDefault(file.Log.Format, "json")),
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getPositiveInt prefers the environment, then the file value, then def.
func getPositiveInt(key string, fileValue int, def int) int {
	if fileValue > 0 {
		def = fileValue
	}
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func orDefault(val string, def string) string {
	if strings.TrimSpace(val) == "" {
		return def
	}
	return val
}
