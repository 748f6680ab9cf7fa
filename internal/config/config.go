package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nano-banana/internal/gemini"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/transport"
)

const DefaultModel = "gemini-3-pro-image-preview"

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	ImageSize string
	ProxyURL  string

	LogLevel   string
	PreferIPv4 bool

	HTTPTimeout     time.Duration
	RetryMax        int
	MaxHistoryTurns int

	DataDir string
	WebAddr string
	// ProxyAllowedHosts limits /api/proxy targets; empty allows any host.
	ProxyAllowedHosts []string

	RoutesFile string
	Routes     orchestrator.Routes

	TelegramToken   string
	TelegramOwnerID int64
}

type routesFile struct {
	Default string            `toml:"default"`
	Models  map[string]string `toml:"models"`
}

// Load reads the process environment. The API key may be empty here; frontends that
// need one say so through RequireAPIKey.
func Load() (Config, error) {
	cfg := Config{
		APIKey:          strings.TrimSpace(getEnv("NANO_API_KEY", os.Getenv("GEMINI_API_KEY"))),
		BaseURL:         transport.NormalizeBaseURL(getEnv("NANO_BASE_URL", gemini.DefaultBaseURL)),
		Model:           getEnv("NANO_MODEL", DefaultModel),
		ImageSize:       getEnv("NANO_IMAGE_SIZE", ""),
		ProxyURL:        getEnv("NANO_PROXY_URL", ""),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PreferIPv4:      getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:     time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 600)) * time.Second,
		RetryMax:        getEnvInt("RETRY_MAX", 2),
		MaxHistoryTurns: getEnvInt("MAX_HISTORY_TURNS", 0),
		DataDir:         getEnv("DATA_DIR", "./data"),
		WebAddr:         getEnv("WEB_ADDR", "127.0.0.1:8080"),
		RoutesFile:      getEnv("ROUTES_FILE", ""),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
	}
	cfg.ProxyAllowedHosts = splitCSV(getEnv("PROXY_ALLOWED_HOSTS", ""))

	if raw := getEnv("TELEGRAM_OWNER_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("TELEGRAM_OWNER_ID: %w", err)
		}
		cfg.TelegramOwnerID = id
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 600 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.MaxHistoryTurns < 0 {
		cfg.MaxHistoryTurns = 0
	}

	routes, err := LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Routes = routes

	return cfg, nil
}

// LoadRoutes parses a TOML model table. An empty path yields the built-in routes.
func LoadRoutes(path string) (orchestrator.Routes, error) {
	if path == "" {
		return orchestrator.DefaultRoutes(), nil
	}

	var raw routesFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return orchestrator.Routes{}, fmt.Errorf("read routes file %s: %w", path, err)
	}
	routes, err := orchestrator.NewRoutes(raw.Default, raw.Models)
	if err != nil {
		return orchestrator.Routes{}, fmt.Errorf("routes file %s: %w", path, err)
	}
	return routes, nil
}

func (c Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return errors.New("NANO_API_KEY (or GEMINI_API_KEY) is required")
	}
	return nil
}

func (c Config) RequireTelegram() error {
	switch {
	case c.TelegramToken == "":
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	case c.TelegramOwnerID == 0:
		return errors.New("TELEGRAM_OWNER_ID is required")
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func splitCSV(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
