// Package config handles resolver configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent is sent when a caller does not supply one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all resolver configuration.
type Config struct {
	// HTTP settings
	RequestTimeout    time.Duration
	UserAgent         string
	RequestsPerSecond int

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute

	// Site settings
	SiteBaseURL      string
	PreferredQuality string

	// Dispatch settings
	MaxDepth int
	Workers  int

	// Browser settings
	BrowserTimeout  time.Duration
	BrowserPath     string
	BrowserFallback bool

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		RequestTimeout:      30 * time.Second,
		UserAgent:           DefaultUserAgent,
		PreferredQuality:    "1080",
		MaxDepth:            3,
		Workers:             8,
		BrowserTimeout:      20 * time.Second,
		LogLevel:            "info",
		FlareSolverrTimeout: 60 * time.Second,
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	d := Default()
	cfg := &Config{
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", d.RequestTimeout),
		UserAgent:           getEnvString("USER_AGENT", d.UserAgent),
		RequestsPerSecond:   getEnvInt("REQUESTS_PER_SECOND", 0),
		GlobalProxies:       getEnvStringSlice("GLOBAL_PROXIES", nil),
		SiteBaseURL:         strings.TrimSuffix(getEnvString("SITE_BASE_URL", ""), "/"),
		PreferredQuality:    getEnvString("PREFERRED_QUALITY", d.PreferredQuality),
		MaxDepth:            getEnvInt("MAX_DEPTH", d.MaxDepth),
		Workers:             getEnvInt("WORKERS", d.Workers),
		BrowserTimeout:      getEnvDuration("BROWSER_TIMEOUT", d.BrowserTimeout),
		BrowserPath:         getEnvString("BROWSER_PATH", ""),
		BrowserFallback:     getEnvBool("BROWSER_FALLBACK", false),
		LogLevel:            getEnvString("LOG_LEVEL", d.LogLevel),
		LogJSON:             getEnvBool("LOG_JSON", false),
		FlareSolverrURL:     getEnvString("FLARESOLVERR_URL", ""),
		FlareSolverrTimeout: getEnvDuration("FLARESOLVERR_TIMEOUT", d.FlareSolverrTimeout),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	for _, part := range strings.Split(s, "}, {") {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Plain integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
