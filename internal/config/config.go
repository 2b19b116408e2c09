// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads settings for the ledger server and the POS terminal
// from the environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "POSYNC_"

// Config holds settings shared by the example binaries
type Config struct {
	// Ledger server
	Addr        string // POSYNC_ADDR
	DatabaseURL string // POSYNC_DATABASE_URL; empty selects the in-memory ledger
	JWTSecret   string // POSYNC_JWT_SECRET
	RedisURL    string // POSYNC_REDIS_URL; empty disables the product list cache

	ProductCacheTTL time.Duration // POSYNC_PRODUCT_CACHE_TTL
	RateLimit       float64       // POSYNC_RATE_LIMIT, requests per second per terminal; 0 disables
	RateBurst       int           // POSYNC_RATE_BURST

	// Terminal
	LedgerURL       string        // POSYNC_LEDGER_URL
	StorePath       string        // POSYNC_STORE_PATH
	ShopID          string        // POSYNC_SHOP_ID
	DeviceID        string        // POSYNC_DEVICE_ID
	ProbeInterval   time.Duration // POSYNC_PROBE_INTERVAL
	ProbeBackoffMin time.Duration // POSYNC_PROBE_BACKOFF_MIN
	ProbeBackoffMax time.Duration // POSYNC_PROBE_BACKOFF_MAX
	HTTPTimeout     time.Duration // POSYNC_HTTP_TIMEOUT

	// Both
	LogLevel        slog.Level // POSYNC_LOG_LEVEL
	LogStageTimings bool       // POSYNC_LOG_STAGE_TIMINGS
}

// DefaultConfig returns development defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		JWTSecret:       "dev-secret",
		ProductCacheTTL: 30 * time.Second,
		RateLimit:       20,
		RateBurst:       40,
		LedgerURL:       "http://localhost:8080",
		StorePath:       "posync.db",
		ShopID:          "shop-1",
		DeviceID:        "terminal-1",
		ProbeInterval:   15 * time.Second,
		ProbeBackoffMin: 1 * time.Second,
		ProbeBackoffMax: 60 * time.Second,
		HTTPTimeout:     30 * time.Second,
		LogLevel:        slog.LevelInfo,
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and builds a Config from it. Missing files are ignored;
// variables already set in the environment win over file contents.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from defaults overridden by POSYNC_* variables
func FromEnv(lookup func(key string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	str("ADDR", &cfg.Addr)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LEDGER_URL", &cfg.LedgerURL)
	str("STORE_PATH", &cfg.StorePath)
	str("SHOP_ID", &cfg.ShopID)
	str("DEVICE_ID", &cfg.DeviceID)

	var errs []error
	dur := func(name string, dst *time.Duration) {
		v, ok := get(name)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s%s: invalid duration %q", envPrefix, name, v))
			return
		}
		*dst = d
	}
	dur("PROBE_INTERVAL", &cfg.ProbeInterval)
	dur("PROBE_BACKOFF_MIN", &cfg.ProbeBackoffMin)
	dur("PROBE_BACKOFF_MAX", &cfg.ProbeBackoffMax)
	dur("HTTP_TIMEOUT", &cfg.HTTPTimeout)
	dur("PRODUCT_CACHE_TTL", &cfg.ProductCacheTTL)

	if v, ok := get("RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT: invalid rate %q", envPrefix, v))
		}
		cfg.RateLimit = f
	}
	if v, ok := get("RATE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%sRATE_BURST: invalid burst %q", envPrefix, v))
		}
		cfg.RateBurst = n
	}

	if v, ok := get("LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err))
		}
	}
	if v, ok := get("LOG_STAGE_TIMINGS"); ok {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil && strings.EqualFold(v, "yes") {
			b, err = true, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_STAGE_TIMINGS: invalid boolean %q", envPrefix, v))
		}
		cfg.LogStageTimings = b
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.ProbeBackoffMax < cfg.ProbeBackoffMin {
		return nil, fmt.Errorf("%sPROBE_BACKOFF_MAX must not be below %sPROBE_BACKOFF_MIN", envPrefix, envPrefix)
	}
	return cfg, nil
}

// NewLogger builds the JSON logger used by the binaries
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
