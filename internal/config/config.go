package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig builds a Viper instance bound to the HYDRADNS_ environment
// prefix, with defaults pre-loaded and an optional config file merged on top.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HYDRADNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 53)
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.max_concurrency", 4096)
	v.SetDefault("server.upstream_socket_pool_size", 64)
	v.SetDefault("server.enable_tcp", true)

	v.SetDefault("upstream.servers", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("upstream.race_count", 2)
	v.SetDefault("upstream.timeout", "2s")
	v.SetDefault("upstream.min_trust_score", 0.2)

	v.SetDefault("recursive.enabled", true)
	v.SetDefault("recursive.root_hints_path", "")
	v.SetDefault("recursive.max_depth", 16)
	v.SetDefault("recursive.base_timeout", "1500ms")

	v.SetDefault("cache.max_entries", 200000)
	v.SetDefault("cache.stale_window_sec", 3600)

	v.SetDefault("ttl_alchemy.enabled", true)
	v.SetDefault("ttl_alchemy.min_ttl", 30)
	v.SetDefault("ttl_alchemy.max_ttl", 86400)
	v.SetDefault("ttl_alchemy.frequency_weight", 8.0)
	v.SetDefault("ttl_alchemy.volatility_weight", 45.0)

	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.threshold_ratio", 0.9)
	v.SetDefault("prefetch.interval_sec", 30)

	v.SetDefault("negative.speculative_enabled", true)

	v.SetDefault("chaos.rate", 0.0)

	v.SetDefault("local_zones", []map[string]string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.structured", true)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)

	v.SetDefault("rate_limit.cleanup_seconds", 60.0)
	v.SetDefault("rate_limit.max_ip_entries", 100000)
	v.SetDefault("rate_limit.max_prefix_entries", 20000)
	v.SetDefault("rate_limit.global_qps", 50000.0)
	v.SetDefault("rate_limit.global_burst", 100000)
	v.SetDefault("rate_limit.prefix_qps", 2000.0)
	v.SetDefault("rate_limit.prefix_burst", 4000)
	v.SetDefault("rate_limit.ip_qps", 50.0)
	v.SetDefault("rate_limit.ip_burst", 100)
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := loadServerConfig(v, cfg); err != nil {
		return nil, err
	}
	loadUpstreamConfig(v, cfg)
	loadRecursiveConfig(v, cfg)
	loadCacheConfig(v, cfg)
	loadLocalZonesConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadRateLimitConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) error {
	cfg.Server = ServerConfig{
		Host:                   v.GetString("server.host"),
		Port:                   v.GetInt("server.port"),
		WorkersRaw:             v.GetString("server.workers"),
		MaxConcurrency:         v.GetInt("server.max_concurrency"),
		UpstreamSocketPoolSize: v.GetInt("server.upstream_socket_pool_size"),
		EnableTCP:              v.GetBool("server.enable_tcp"),
	}
	setting, err := parseWorkers(cfg.Server.WorkersRaw)
	if err != nil {
		return fmt.Errorf("config: server.workers: %w", err)
	}
	cfg.Server.Workers = setting
	return nil
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Upstream = UpstreamConfig{
		Servers:       getStringSliceOrSplit(v, "upstream.servers"),
		RaceCount:     v.GetInt("upstream.race_count"),
		Timeout:       v.GetString("upstream.timeout"),
		MinTrustScore: v.GetFloat64("upstream.min_trust_score"),
	}
}

func loadRecursiveConfig(v *viper.Viper, cfg *Config) {
	cfg.Recursive = RecursiveConfig{
		Enabled:       v.GetBool("recursive.enabled"),
		RootHintsPath: v.GetString("recursive.root_hints_path"),
		MaxDepth:      v.GetInt("recursive.max_depth"),
		BaseTimeout:   v.GetString("recursive.base_timeout"),
	}
}

func loadCacheConfig(v *viper.Viper, cfg *Config) {
	cfg.Cache = CacheConfig{
		MaxEntries:     v.GetInt("cache.max_entries"),
		StaleWindowSec: v.GetInt("cache.stale_window_sec"),
	}
	cfg.TTLAlchemy = TTLAlchemyConfig{
		Enabled:          v.GetBool("ttl_alchemy.enabled"),
		MinTTL:           uint32(v.GetInt("ttl_alchemy.min_ttl")),
		MaxTTL:           uint32(v.GetInt("ttl_alchemy.max_ttl")),
		FrequencyWeight:  v.GetFloat64("ttl_alchemy.frequency_weight"),
		VolatilityWeight: v.GetFloat64("ttl_alchemy.volatility_weight"),
	}
	cfg.Prefetch = PrefetchConfig{
		Enabled:        v.GetBool("prefetch.enabled"),
		ThresholdRatio: v.GetFloat64("prefetch.threshold_ratio"),
		IntervalSec:    v.GetInt("prefetch.interval_sec"),
	}
	cfg.Negative = NegativeConfig{
		SpeculativeEnabled: v.GetBool("negative.speculative_enabled"),
	}
	cfg.Chaos = ChaosConfig{
		Rate: v.GetFloat64("chaos.rate"),
	}
}

func loadLocalZonesConfig(v *viper.Viper, cfg *Config) {
	var zones []LocalZoneConfig
	raw := v.Get("local_zones")
	items, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		zone := LocalZoneConfig{}
		if suffix, ok := m["suffix"].(string); ok {
			zone.Suffix = suffix
		}
		if upstream, ok := m["upstream"].(string); ok {
			zone.Upstream = upstream
		}
		if zone.Suffix != "" {
			zones = append(zones, zone)
		}
	}
	cfg.LocalZones = zones
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging = LoggingConfig{
		Level:            v.GetString("logging.level"),
		Structured:       v.GetBool("logging.structured"),
		StructuredFormat: v.GetString("logging.structured_format"),
		IncludePID:       v.GetBool("logging.include_pid"),
		ExtraFields:      v.GetStringMapString("logging.extra_fields"),
	}
}

func loadRateLimitConfig(v *viper.Viper, cfg *Config) {
	cfg.RateLimit = RateLimitConfig{
		CleanupSeconds:   v.GetFloat64("rate_limit.cleanup_seconds"),
		MaxIPEntries:     v.GetInt("rate_limit.max_ip_entries"),
		MaxPrefixEntries: v.GetInt("rate_limit.max_prefix_entries"),
		GlobalQPS:        v.GetFloat64("rate_limit.global_qps"),
		GlobalBurst:      v.GetInt("rate_limit.global_burst"),
		PrefixQPS:        v.GetFloat64("rate_limit.prefix_qps"),
		PrefixBurst:      v.GetInt("rate_limit.prefix_burst"),
		IPQPS:            v.GetFloat64("rate_limit.ip_qps"),
		IPBurst:          v.GetInt("rate_limit.ip_burst"),
	}
}

func parseWorkers(raw string) (WorkerSetting, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return WorkerSetting{}, fmt.Errorf("invalid workers value %q, want \"auto\" or a positive integer", raw)
	}
	return WorkerSetting{Mode: WorkersFixed, Value: n}, nil
}

func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if s := v.GetStringSlice(key); len(s) > 0 && !strings.Contains(strings.Join(s, " "), ",") {
		return s
	}
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", cfg.Server.Port)
	}
	if len(cfg.Upstream.Servers) == 0 {
		return fmt.Errorf("config: upstream.servers must not be empty")
	}
	if cfg.Upstream.RaceCount <= 0 {
		cfg.Upstream.RaceCount = 1
	}
	if cfg.Upstream.RaceCount > len(cfg.Upstream.Servers) {
		cfg.Upstream.RaceCount = len(cfg.Upstream.Servers)
	}
	if cfg.Recursive.MaxDepth <= 0 {
		cfg.Recursive.MaxDepth = 16
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 200000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	return nil
}
