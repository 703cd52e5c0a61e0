package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration. Values come from the environment
// (optionally seeded from a .env file) and may be overridden by flags.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   string
	LogFormat  string

	// Liveness
	CameraTTL     time.Duration
	SweepInterval time.Duration
	FPSWindow     time.Duration
	OnlineWindow  time.Duration

	// Local tracker
	TrackerDistThreshold float64
	TrackerMaxAge        int

	// Global identity
	EmbeddingDim       int
	MatchThreshold     float64
	MatchEMA           float64
	MockEmbeddingNoise float64

	// CameraTokens maps camera id to its ingest token.
	CameraTokens map[int]string
	// JWTSecret enables bearer auth on the viewer and control channels.
	JWTSecret string
}

const defaultCameraTokens = "0=dev-token-cam0,1=dev-token-cam1,2=dev-token-cam2"

// Default returns the built-in configuration.
func Default() *Config {
	tokens, _ := ParseCameraTokens(defaultCameraTokens)
	return &Config{
		ListenAddr:           ":8001",
		LogLevel:             "info",
		LogFormat:            "console",
		CameraTTL:            5 * time.Second,
		SweepInterval:        time.Second,
		FPSWindow:            2 * time.Second,
		OnlineWindow:         3 * time.Second,
		TrackerDistThreshold: 35,
		TrackerMaxAge:        20,
		EmbeddingDim:         128,
		MatchThreshold:       0.75,
		MatchEMA:             0.9,
		MockEmbeddingNoise:   0.02,
		CameraTokens:         tokens,
	}
}

// Load reads .env (if present) and the process environment on top of Default.
func Load() (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config using lookup for every key.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("DB_PATH", &cfg.DBPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("JWT_SECRET", &cfg.JWTSecret)
	dur("CAMERA_TTL", &cfg.CameraTTL)
	dur("SWEEP_INTERVAL", &cfg.SweepInterval)
	dur("FPS_WINDOW", &cfg.FPSWindow)
	dur("ONLINE_WINDOW", &cfg.OnlineWindow)
	flt("TRACKER_DIST_THRESHOLD", &cfg.TrackerDistThreshold)
	integer("TRACKER_MAX_AGE", &cfg.TrackerMaxAge)
	integer("EMBEDDING_DIM", &cfg.EmbeddingDim)
	flt("MATCH_THRESHOLD", &cfg.MatchThreshold)
	flt("MATCH_EMA", &cfg.MatchEMA)
	flt("MOCK_EMBEDDING_NOISE", &cfg.MockEmbeddingNoise)

	if v, ok := lookup("CAMERA_TOKENS"); ok {
		tokens, err := ParseCameraTokens(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CAMERA_TOKENS: %w", err))
		} else {
			cfg.CameraTokens = tokens
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	for name, d := range map[string]time.Duration{
		"camera TTL":     c.CameraTTL,
		"sweep interval": c.SweepInterval,
		"FPS window":     c.FPSWindow,
		"online window":  c.OnlineWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.TrackerDistThreshold < 0 {
		errs = append(errs, fmt.Errorf("tracker distance threshold must be >= 0, got %v", c.TrackerDistThreshold))
	}
	if c.TrackerMaxAge < 0 {
		errs = append(errs, fmt.Errorf("tracker max age must be >= 0, got %d", c.TrackerMaxAge))
	}
	if c.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding dim must be positive, got %d", c.EmbeddingDim))
	}
	if c.MatchThreshold < -1 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold must be in [-1,1], got %v", c.MatchThreshold))
	}
	if c.MatchEMA < 0 || c.MatchEMA > 1 {
		errs = append(errs, fmt.Errorf("match EMA must be in [0,1], got %v", c.MatchEMA))
	}
	if c.MockEmbeddingNoise < 0 {
		errs = append(errs, fmt.Errorf("mock embedding noise must be >= 0, got %v", c.MockEmbeddingNoise))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.LogFormat))
	}
	// map iteration above is unordered; keep messages stable
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// ParseCameraTokens parses "id=token,id=token". An empty string yields an
// empty map.
func ParseCameraTokens(s string) (map[int]string, error) {
	tokens := make(map[int]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, token, ok := strings.Cut(part, "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("invalid entry %q (want id=token)", part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, fmt.Errorf("invalid camera id in %q: %w", part, err)
		}
		tokens[id] = strings.TrimSpace(token)
	}
	return tokens, nil
}
