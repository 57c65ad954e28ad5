// Package config provides configuration loading for HydraDNS using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the HYDRADNS_ prefix and underscore-separated keys:
//   - HYDRADNS_SERVER_HOST -> server.host
//   - HYDRADNS_SERVER_PORT -> server.port
//   - HYDRADNS_UPSTREAM_SERVERS -> upstream.servers (comma-separated)
//   - HYDRADNS_RECURSIVE_ENABLED -> recursive.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains server-related settings.
type ServerConfig struct {
	Host                   string        `yaml:"host"                      mapstructure:"host"`
	Port                   int           `yaml:"port"                      mapstructure:"port"`
	Workers                WorkerSetting `yaml:"-"                         mapstructure:"-"`
	WorkersRaw             string        `yaml:"workers"                   mapstructure:"workers"`
	MaxConcurrency         int           `yaml:"max_concurrency"           mapstructure:"max_concurrency"`
	UpstreamSocketPoolSize int           `yaml:"upstream_socket_pool_size" mapstructure:"upstream_socket_pool_size"`
	EnableTCP              bool          `yaml:"enable_tcp"                mapstructure:"enable_tcp"`
}

// UpstreamConfig contains forwarder settings: the candidate upstream
// servers, a race count, and the trust threshold below which an upstream is
// auto-disabled. RaceCount is loaded and clamped but does not limit the
// race: the forwarder races every enabled upstream on each query.
type UpstreamConfig struct {
	Servers       []string `yaml:"servers"         mapstructure:"servers"`
	RaceCount     int      `yaml:"race_count"      mapstructure:"race_count"`
	Timeout       string   `yaml:"timeout"         mapstructure:"timeout"`
	MinTrustScore float64  `yaml:"min_trust_score" mapstructure:"min_trust_score"`
}

// RecursiveConfig controls the built-in iterative recursive resolver.
type RecursiveConfig struct {
	Enabled       bool   `yaml:"enabled"         mapstructure:"enabled"`
	RootHintsPath string `yaml:"root_hints_path" mapstructure:"root_hints_path"`
	MaxDepth      int    `yaml:"max_depth"       mapstructure:"max_depth"`
	BaseTimeout   string `yaml:"base_timeout"    mapstructure:"base_timeout"`
}

// CacheConfig controls the positive answer cache's capacity and serve-stale
// window.
type CacheConfig struct {
	MaxEntries     int `yaml:"max_entries"      mapstructure:"max_entries"`
	StaleWindowSec int `yaml:"stale_window_sec" mapstructure:"stale_window_sec"`
}

// TTLAlchemyConfig controls the dynamic TTL recomputation applied to cached answers.
type TTLAlchemyConfig struct {
	Enabled          bool    `yaml:"enabled"           mapstructure:"enabled"`
	MinTTL           uint32  `yaml:"min_ttl"           mapstructure:"min_ttl"`
	MaxTTL           uint32  `yaml:"max_ttl"           mapstructure:"max_ttl"`
	FrequencyWeight  float64 `yaml:"frequency_weight"  mapstructure:"frequency_weight"`
	VolatilityWeight float64 `yaml:"volatility_weight" mapstructure:"volatility_weight"`
}

// PrefetchConfig holds the prefetch settings for near-expiry cache entries.
// They are loaded and validated, but no background prefetch loop reads them.
type PrefetchConfig struct {
	Enabled        bool    `yaml:"enabled"         mapstructure:"enabled"`
	ThresholdRatio float64 `yaml:"threshold_ratio" mapstructure:"threshold_ratio"`
	IntervalSec    int     `yaml:"interval_sec"    mapstructure:"interval_sec"`
}

// NegativeConfig controls NXDOMAIN/NODATA caching, including speculative
// typo-variant pre-caching.
type NegativeConfig struct {
	SpeculativeEnabled bool `yaml:"speculative_enabled" mapstructure:"speculative_enabled"`
}

// ChaosConfig controls the probabilistic SERVFAIL gate applied ahead of the
// rest of the query pipeline.
type ChaosConfig struct {
	Rate float64 `yaml:"rate" mapstructure:"rate"`
}

// LocalZoneConfig pins a name suffix to a specific upstream, bypassing
// recursion and the general forwarder for names under it.
type LocalZoneConfig struct {
	Suffix   string `yaml:"suffix"   mapstructure:"suffix"`
	Upstream string `yaml:"upstream" mapstructure:"upstream"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// RateLimitConfig controls rate limiting settings.
type RateLimitConfig struct {
	CleanupSeconds   float64 `yaml:"cleanup_seconds"    mapstructure:"cleanup_seconds"`
	MaxIPEntries     int     `yaml:"max_ip_entries"     mapstructure:"max_ip_entries"`
	MaxPrefixEntries int     `yaml:"max_prefix_entries" mapstructure:"max_prefix_entries"`
	GlobalQPS        float64 `yaml:"global_qps"         mapstructure:"global_qps"`
	GlobalBurst      int     `yaml:"global_burst"       mapstructure:"global_burst"`
	PrefixQPS        float64 `yaml:"prefix_qps"         mapstructure:"prefix_qps"`
	PrefixBurst      int     `yaml:"prefix_burst"       mapstructure:"prefix_burst"`
	IPQPS            float64 `yaml:"ip_qps"             mapstructure:"ip_qps"`
	IPBurst          int     `yaml:"ip_burst"           mapstructure:"ip_burst"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"     mapstructure:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"   mapstructure:"upstream"`
	Recursive  RecursiveConfig  `yaml:"recursive"  mapstructure:"recursive"`
	Cache      CacheConfig      `yaml:"cache"      mapstructure:"cache"`
	TTLAlchemy TTLAlchemyConfig `yaml:"ttl_alchemy" mapstructure:"ttl_alchemy"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"   mapstructure:"prefetch"`
	Negative   NegativeConfig   `yaml:"negative"   mapstructure:"negative"`
	Chaos      ChaosConfig      `yaml:"chaos"      mapstructure:"chaos"`
	LocalZones []LocalZoneConfig `yaml:"local_zones" mapstructure:"local_zones"`
	Logging    LoggingConfig    `yaml:"logging"    mapstructure:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("HYDRADNS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HYDRADNS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
