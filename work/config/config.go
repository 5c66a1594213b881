package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the playlist relay.
// It covers the HTTP listener, the relay's resource ceilings, the token-bucket
// rate limits, and the authentication material for the session gate.
type Config struct {
	ListenAddr string // Address the HTTP server binds to (e.g. ":8080")
	BaseURL    string // Public base URL of the application (used for links and logging)

	CacheTTL       time.Duration // How long cached playlist bodies stay valid
	MaxCacheBytes  int64         // Ceiling for buffered playlist responses (cache entries)
	MaxStreamBytes int64         // Ceiling for streamed binary responses (segments/keys)

	RateDBPath             string        // Path to the SQLite file backing the rate buckets
	PlaylistBurst          float64       // Playlist bucket capacity (max burst tokens)
	PlaylistRefillPerSec   float64       // Playlist bucket refill rate per second
	StreamBurst            float64       // Stream bucket capacity (max burst tokens)
	StreamRefillPerSec     float64       // Stream bucket refill rate per second
	BucketSweepAfter       time.Duration // Buckets untouched for this long are swept
	OutboundRequestsPerSec int           // Pacing for outbound fetches, all targets combined

	ProxyToken          string        // Shared secret for non-browser callers (empty disables token auth)
	SessionPasswordHash string        // bcrypt hash gating POST /session (empty disables the login form)
	SessionTTL          time.Duration // Lifetime of an established session
	RequireTLS          bool          // Reject relay calls arriving over plain HTTP
	TrustForwardedProto bool          // Honor X-Forwarded-Proto from a TLS-terminating proxy

	UserAgent      string        // User-Agent sent on outbound fetches
	MaxRedirects   int           // Redirect hops followed on outbound fetches
	ConnectTimeout time.Duration // Outbound dial timeout
	HeaderTimeout  time.Duration // Outbound response-header timeout

	WorkerThreads int  // Size of the background worker pool (sweeps and cleanup)
	Debug         bool // Enable debug logging
	ObfuscateUrls bool // Obfuscate target URLs in logs
}

// ConfigFile is the JSON shape of the configuration on disk. Duration fields
// are strings (e.g. "5m") and parsed into time.Duration values on load.
type ConfigFile struct {
	ListenAddr string `json:"listenAddr"`
	BaseURL    string `json:"baseURL"`

	CacheTTL       string `json:"cacheTTL"`
	MaxCacheBytes  int64  `json:"maxCacheBytes"`
	MaxStreamBytes int64  `json:"maxStreamBytes"`

	RateDBPath             string  `json:"rateDBPath"`
	PlaylistBurst          float64 `json:"playlistBurst"`
	PlaylistRefillPerSec   float64 `json:"playlistRefillPerSec"`
	StreamBurst            float64 `json:"streamBurst"`
	StreamRefillPerSec     float64 `json:"streamRefillPerSec"`
	BucketSweepAfter       string  `json:"bucketSweepAfter"`
	OutboundRequestsPerSec int     `json:"outboundRequestsPerSec"`

	ProxyToken          string `json:"proxyToken"`
	SessionPasswordHash string `json:"sessionPasswordHash"`
	SessionTTL          string `json:"sessionTTL"`
	RequireTLS          *bool  `json:"requireTLS"`
	TrustForwardedProto *bool  `json:"trustForwardedProto"`

	UserAgent      string `json:"userAgent"`
	MaxRedirects   int    `json:"maxRedirects"`
	ConnectTimeout string `json:"connectTimeout"`
	HeaderTimeout  string `json:"headerTimeout"`

	WorkerThreads int  `json:"workerThreads"`
	Debug         bool `json:"debug"`
	ObfuscateUrls bool `json:"obfuscateUrls"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from CONFIG_PATH (default ./config.json).
//   - Falls back to default config if the file is missing or invalid.
//   - Applies environment overrides for secrets, then validates.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Secrets may be supplied through the environment instead of the file.
	if v := os.Getenv("PROXY_TOKEN"); v != "" {
		config.ProxyToken = v
	}
	if v := os.Getenv("SESSION_PASSWORD_HASH"); v != "" {
		config.SessionPasswordHash = v
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:             cf.ListenAddr,
		BaseURL:                cf.BaseURL,
		MaxCacheBytes:          cf.MaxCacheBytes,
		MaxStreamBytes:         cf.MaxStreamBytes,
		RateDBPath:             cf.RateDBPath,
		PlaylistBurst:          cf.PlaylistBurst,
		PlaylistRefillPerSec:   cf.PlaylistRefillPerSec,
		StreamBurst:            cf.StreamBurst,
		StreamRefillPerSec:     cf.StreamRefillPerSec,
		OutboundRequestsPerSec: cf.OutboundRequestsPerSec,
		ProxyToken:             cf.ProxyToken,
		SessionPasswordHash:    cf.SessionPasswordHash,
		RequireTLS:             true,
		TrustForwardedProto:    true,
		UserAgent:              cf.UserAgent,
		MaxRedirects:           cf.MaxRedirects,
		WorkerThreads:          cf.WorkerThreads,
		Debug:                  cf.Debug,
		ObfuscateUrls:          cf.ObfuscateUrls,
	}

	if cf.RequireTLS != nil {
		config.RequireTLS = *cf.RequireTLS
	}
	if cf.TrustForwardedProto != nil {
		config.TrustForwardedProto = *cf.TrustForwardedProto
	}

	// Parse duration fields; empty strings keep the zero value and pick
	// up defaults during validation.
	var err error
	if cf.CacheTTL != "" {
		if config.CacheTTL, err = time.ParseDuration(cf.CacheTTL); err != nil {
			return nil, fmt.Errorf("invalid cacheTTL: %w", err)
		}
	}
	if cf.BucketSweepAfter != "" {
		if config.BucketSweepAfter, err = time.ParseDuration(cf.BucketSweepAfter); err != nil {
			return nil, fmt.Errorf("invalid bucketSweepAfter: %w", err)
		}
	}
	if cf.SessionTTL != "" {
		if config.SessionTTL, err = time.ParseDuration(cf.SessionTTL); err != nil {
			return nil, fmt.Errorf("invalid sessionTTL: %w", err)
		}
	}
	if cf.ConnectTimeout != "" {
		if config.ConnectTimeout, err = time.ParseDuration(cf.ConnectTimeout); err != nil {
			return nil, fmt.Errorf("invalid connectTimeout: %w", err)
		}
	}
	if cf.HeaderTimeout != "" {
		if config.HeaderTimeout, err = time.ParseDuration(cf.HeaderTimeout); err != nil {
			return nil, fmt.Errorf("invalid headerTimeout: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:             ":8080",
		BaseURL:                "http://localhost:8080",
		CacheTTL:               5 * time.Minute,
		MaxCacheBytes:          3670016,  // 3.5 MB; playlists are text, keep the cache small
		MaxStreamBytes:         52428800, // 50 MB ceiling per streamed response
		RateDBPath:             "data/rate.db",
		PlaylistBurst:          30,
		PlaylistRefillPerSec:   0.5, // 30/min
		StreamBurst:            500, // big bursts for startup/channel flips
		StreamRefillPerSec:     4.0, // 240/min
		BucketSweepAfter:       6 * time.Hour,
		OutboundRequestsPerSec: 50,
		SessionTTL:             12 * time.Hour,
		RequireTLS:             true,
		TrustForwardedProto:    true,
		UserAgent:              "IPTV-Proxy",
		MaxRedirects:           3,
		ConnectTimeout:         10 * time.Second,
		HeaderTimeout:          30 * time.Second,
		WorkerThreads:          4,
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	def := getDefaultConfig()

	if config.ListenAddr == "" {
		config.ListenAddr = def.ListenAddr
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.MaxCacheBytes <= 0 {
		config.MaxCacheBytes = def.MaxCacheBytes
	}
	if config.MaxStreamBytes <= 0 {
		config.MaxStreamBytes = def.MaxStreamBytes
	}
	if config.RateDBPath == "" {
		config.RateDBPath = def.RateDBPath
	}
	if config.PlaylistBurst <= 0 {
		config.PlaylistBurst = def.PlaylistBurst
	}
	if config.PlaylistRefillPerSec <= 0 {
		config.PlaylistRefillPerSec = def.PlaylistRefillPerSec
	}
	if config.StreamBurst <= 0 {
		config.StreamBurst = def.StreamBurst
	}
	if config.StreamRefillPerSec <= 0 {
		config.StreamRefillPerSec = def.StreamRefillPerSec
	}
	if config.BucketSweepAfter <= 0 {
		config.BucketSweepAfter = def.BucketSweepAfter
	}
	if config.OutboundRequestsPerSec <= 0 {
		config.OutboundRequestsPerSec = def.OutboundRequestsPerSec
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = def.SessionTTL
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = def.MaxRedirects
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.HeaderTimeout <= 0 {
		config.HeaderTimeout = def.HeaderTimeout
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = def.WorkerThreads
	}
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:             ":8080",
		BaseURL:                "https://iptv.example.com",
		CacheTTL:               "5m",
		MaxCacheBytes:          3670016,
		MaxStreamBytes:         52428800,
		RateDBPath:             "data/rate.db",
		PlaylistBurst:          30,
		PlaylistRefillPerSec:   0.5,
		StreamBurst:            500,
		StreamRefillPerSec:     4.0,
		BucketSweepAfter:       "6h",
		OutboundRequestsPerSec: 50,
		ProxyToken:             "",
		SessionPasswordHash:    "",
		SessionTTL:             "12h",
		UserAgent:              "IPTV-Proxy",
		MaxRedirects:           3,
		ConnectTimeout:         "10s",
		HeaderTimeout:          "30s",
		WorkerThreads:          4,
		Debug:                  false,
		ObfuscateUrls:          true,
	}

	// setup the data properly
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	// write the config file
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
