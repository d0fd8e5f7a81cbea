package offline

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Project and Version form the cache name "<project>-v<version>".
	// Bumping Version is the only way to invalidate previously cached entries.
	Project string `yaml:"project" env:"DEKARY_PROJECT"`
	Version string `yaml:"version" env:"DEKARY_VERSION"`

	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Precache PrecacheConfig `yaml:"precache"`
	Install  InstallConfig  `yaml:"install"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int    `yaml:"port" env:"DEKARY_PORT"`
	AdminPort    int    `yaml:"adminPort" env:"DEKARY_ADMIN_PORT"`
	Origin       string `yaml:"origin" env:"DEKARY_ORIGIN"`
	FetchTimeout string `yaml:"fetchTimeout" env:"DEKARY_FETCH_TIMEOUT"`

	fetchTimeoutDur time.Duration
	originURL       *url.URL
}

type StorageConfig struct {
	// Backend is "leveldb" (default) or "memory".
	Backend string `yaml:"backend" env:"DEKARY_STORAGE_BACKEND"`
	Path    string `yaml:"path" env:"DEKARY_STORAGE_PATH"`
	Quota   string `yaml:"quota" env:"DEKARY_STORAGE_QUOTA"`
	RAM     struct {
		Max string `yaml:"max" env:"DEKARY_STORAGE_RAM_MAX"`
	} `yaml:"ram"`

	quotaBytes  int64
	ramMaxBytes int64
}

type PrecacheConfig struct {
	URLs        []string `yaml:"urls" env:"DEKARY_PRECACHE_URLS"`
	Sitemaps    []string `yaml:"sitemaps" env:"DEKARY_PRECACHE_SITEMAPS"`
	Concurrency int      `yaml:"concurrency" env:"DEKARY_PRECACHE_CONCURRENCY"`
}

type InstallConfig struct {
	Attempts   int    `yaml:"attempts" env:"DEKARY_INSTALL_ATTEMPTS"`
	Backoff    string `yaml:"backoff" env:"DEKARY_INSTALL_BACKOFF"`
	RetryEvery string `yaml:"retryEvery" env:"DEKARY_INSTALL_RETRY_EVERY"`

	backoffDur    time.Duration
	retryEveryDur time.Duration
}

type LoggingConfig struct {
	Level         string `yaml:"level" env:"DEKARY_LOG_LEVEL"`
	LogStatsEvery string `yaml:"logStatsEvery" env:"DEKARY_LOG_STATS_EVERY"`
	// SentryDSN enables reporting of failed installs. Empty disables it.
	SentryDSN string `yaml:"sentryDSN" env:"DEKARY_SENTRY_DSN"`

	logStatsEveryDur time.Duration
}

// LoadConfig reads the YAML file at path, overlays DEKARY_* environment
// variables and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize applies defaults and compiles derived fields. Configs built in
// code must go through it before use.
func (cfg *Config) normalize() error {
	cfg.Project = strings.TrimSpace(cfg.Project)
	if cfg.Project == "" {
		return fmt.Errorf("project is required")
	}
	if !validNameToken(cfg.Project) {
		return fmt.Errorf("project: invalid name %q", cfg.Project)
	}
	cfg.Version = strings.TrimPrefix(strings.TrimSpace(cfg.Version), "v")
	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !validNameToken(cfg.Version) {
		return fmt.Errorf("version: invalid version %q", cfg.Version)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	u, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.origin: expected absolute http(s) URL, got %q", cfg.Server.Origin)
	}
	cfg.Server.originURL = u
	cfg.Server.fetchTimeoutDur = 30 * time.Second
	if cfg.Server.FetchTimeout != "" {
		d, err := time.ParseDuration(cfg.Server.FetchTimeout)
		if err != nil {
			return fmt.Errorf("server.fetchTimeout: %w", err)
		}
		cfg.Server.fetchTimeoutDur = d
	}

	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = BackendLevelDB
	case BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/leveldb"
	}
	if cfg.Storage.Quota != "" {
		q, err := parseBytes(cfg.Storage.Quota)
		if err != nil {
			return fmt.Errorf("storage.quota: %w", err)
		}
		cfg.Storage.quotaBytes = q
	}
	if cfg.Storage.RAM.Max != "" {
		m, err := parseBytes(cfg.Storage.RAM.Max)
		if err != nil {
			return fmt.Errorf("storage.ram.max: %w", err)
		}
		cfg.Storage.ramMaxBytes = m
	}

	urls, err := normalizeManifest(cfg.Precache.URLs)
	if err != nil {
		return err
	}
	cfg.Precache.URLs = urls
	if cfg.Precache.Concurrency <= 0 {
		cfg.Precache.Concurrency = 8
	}

	if cfg.Install.Attempts <= 0 {
		cfg.Install.Attempts = 3
	}
	cfg.Install.backoffDur = 500 * time.Millisecond
	if cfg.Install.Backoff != "" {
		d, err := time.ParseDuration(cfg.Install.Backoff)
		if err != nil {
			return fmt.Errorf("install.backoff: %w", err)
		}
		cfg.Install.backoffDur = d
	}
	cfg.Install.retryEveryDur = time.Minute
	if cfg.Install.RetryEvery != "" {
		d, err := time.ParseDuration(cfg.Install.RetryEvery)
		if err != nil {
			return fmt.Errorf("install.retryEvery: %w", err)
		}
		cfg.Install.retryEveryDur = d
	}

	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.logStatsEveryDur = d
	}
	return nil
}

// CacheName returns the versioned cache name, e.g. "dekary-v1.0.0".
func (cfg Config) CacheName() string {
	return cfg.Project + "-v" + cfg.Version
}

// normalizeManifest validates precache entries and drops duplicates while
// keeping the first occurrence's position.
func normalizeManifest(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for i, raw := range in {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			return nil, fmt.Errorf("precache.urls[%d]: expected root-relative or absolute URL, got %q", i, p)
		}
		if _, err := url.Parse(p); err != nil {
			return nil, fmt.Errorf("precache.urls[%d]: %w", i, err)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func validNameToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_' || r == '+':
		default:
			return false
		}
	}
	return s != ""
}
