package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Model tasks, keyed as in the models section of the config file.
const (
	TaskEnrichment       = "enrichment"
	TaskAssetMatching    = "asset_matching"
	TaskTechniqueMapping = "technique_mapping"
	TaskReportGeneration = "report_generation"
)

// Config holds all application configuration.
type Config struct {
	Debug         bool   `yaml:"debug"`
	DBPath        string `yaml:"db_path"`
	ReportDir     string `yaml:"report_dir"`
	ExportPDF     bool   `yaml:"export_pdf"`
	InventoryPath string `yaml:"inventory_path"`

	Server      ServerConfig     `yaml:"server"`
	Reasoning   ReasoningConfig  `yaml:"reasoning"`
	Feeds       FeedsConfig      `yaml:"feeds"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Assessment  AssessmentConfig `yaml:"assessment"`
}

// ServerConfig configures the operator API.
type ServerConfig struct {
	Addr                 string   `yaml:"addr"`
	APIToken             string   `yaml:"api_token"`
	AllowedOrigins       []string `yaml:"allowed_origins"`
	RequestsPerMinute    int      `yaml:"requests_per_minute"`
	AssessmentsPerMinute int      `yaml:"assessments_per_minute"`
}

// ReasoningConfig configures the Gemini reasoning service.
type ReasoningConfig struct {
	APIKey       string            `yaml:"api_key"`
	DefaultModel string            `yaml:"default_model"`
	Models       map[string]string `yaml:"models"`
	Timeout      time.Duration     `yaml:"timeout"`
	Attempts     int               `yaml:"attempts"`
}

// FeedsConfig holds endpoints and credentials of the intel feeds.
type FeedsConfig struct {
	NVDURL    string `yaml:"nvd_url"`
	NVDAPIKey string `yaml:"nvd_api_key"`
	// NVDLimit caps the records fetched per sync. Zero means no cap.
	NVDLimit int `yaml:"nvd_limit"`

	KEVURL  string `yaml:"kev_url"`
	EPSSURL string `yaml:"epss_url"`
	// ScoreLimit caps the identifiers sent to EPSS per gap sync.
	ScoreLimit int `yaml:"score_limit"`

	AbuseIPDBURL           string `yaml:"abuseipdb_url"`
	AbuseIPDBAPIKey        string `yaml:"abuseipdb_api_key"`
	AbuseIPDBMinConfidence int    `yaml:"abuseipdb_min_confidence"`
	AbuseIPDBLimit         int    `yaml:"abuseipdb_limit"`
}

// CheckpointConfig selects where workflow progress is persisted.
type CheckpointConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// AssessmentConfig bounds the assessment pipeline.
type AssessmentConfig struct {
	MinSeverity  float64      `yaml:"min_severity"`
	Limit        int          `yaml:"limit"`
	Parallelism  int          `yaml:"parallelism"`
	MaxReflexion int          `yaml:"max_reflexion"`
	Rules        []CriticRule `yaml:"rules"`
}

// CriticRule is a validation rule as written in the config file. An empty
// list keeps the built-in rules.
type CriticRule struct {
	Name    string `yaml:"name"`
	When    string `yaml:"when"`
	Message string `yaml:"message"`
	Level   string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:        getDefaultDBPath(),
		ReportDir:     "reports",
		ExportPDF:     true,
		InventoryPath: "assets.json",
		Server: ServerConfig{
			Addr:                 ":8080",
			AllowedOrigins:       []string{"http://localhost:8080", "http://127.0.0.1:8080"},
			RequestsPerMinute:    120,
			AssessmentsPerMinute: 10,
		},
		Reasoning: ReasoningConfig{
			DefaultModel: "gemini-1.5-flash",
			Models: map[string]string{
				TaskEnrichment:       "gemini-1.5-flash",
				TaskAssetMatching:    "gemini-1.5-flash",
				TaskTechniqueMapping: "gemini-1.5-pro",
				TaskReportGeneration: "gemini-1.5-pro",
			},
			Timeout:  60 * time.Second,
			Attempts: 5,
		},
		Feeds: FeedsConfig{
			NVDURL:                 "https://services.nvd.nist.gov/rest/json/cves/2.0",
			KEVURL:                 "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json",
			EPSSURL:                "https://api.first.org/data/v1/epss",
			ScoreLimit:             1000,
			AbuseIPDBURL:           "https://api.abuseipdb.com/api/v2",
			AbuseIPDBMinConfidence: 90,
			AbuseIPDBLimit:         10000,
		},
		Checkpoints: CheckpointConfig{
			Backend: BackendSQLite,
		},
		Assessment: AssessmentConfig{
			MinSeverity:  7.0,
			Limit:        10,
			Parallelism:  2,
			MaxReflexion: 2,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and environment variables, in increasing precedence. Command-line
// flags are applied by the caller.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Debug = getEnvBool("VULNINTEL_DEBUG", c.Debug)
	c.DBPath = getEnv("VULNINTEL_DB", c.DBPath)
	c.ReportDir = getEnv("VULNINTEL_REPORT_DIR", c.ReportDir)
	c.ExportPDF = getEnvBool("VULNINTEL_EXPORT_PDF", c.ExportPDF)
	c.InventoryPath = getEnv("VULNINTEL_INVENTORY", c.InventoryPath)

	c.Server.Addr = getEnv("VULNINTEL_ADDR", c.Server.Addr)
	c.Server.APIToken = getEnv("VULNINTEL_API_TOKEN", c.Server.APIToken)
	if origins, ok := os.LookupEnv("VULNINTEL_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = ParseList(origins)
	}

	c.Reasoning.APIKey = getEnv("GEMINI_API_KEY", c.Reasoning.APIKey)
	c.Reasoning.DefaultModel = getEnv("VULNINTEL_MODEL", c.Reasoning.DefaultModel)

	c.Feeds.NVDAPIKey = getEnv("NVD_API_KEY", c.Feeds.NVDAPIKey)
	c.Feeds.AbuseIPDBAPIKey = getEnv("ABUSEIPDB_API_KEY", c.Feeds.AbuseIPDBAPIKey)

	c.Checkpoints.Backend = getEnv("VULNINTEL_CHECKPOINT_BACKEND", c.Checkpoints.Backend)
	c.Checkpoints.RedisURL = getEnv("VULNINTEL_REDIS_URL", c.Checkpoints.RedisURL)

	c.Assessment.MinSeverity = getEnvFloat("VULNINTEL_MIN_SEVERITY", c.Assessment.MinSeverity)
	c.Assessment.Parallelism = getEnvInt("VULNINTEL_PARALLELISM", c.Assessment.Parallelism)
	c.Assessment.MaxReflexion = getEnvInt("VULNINTEL_MAX_REFLEXION", c.Assessment.MaxReflexion)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	switch c.Checkpoints.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Checkpoints.RedisURL == "" {
			errs = append(errs, errors.New("redis checkpoint backend requires redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q (supported: %s, %s)", c.Checkpoints.Backend, BackendSQLite, BackendRedis))
	}
	if c.Assessment.MinSeverity < 0 || c.Assessment.MinSeverity > 10 {
		errs = append(errs, fmt.Errorf("min_severity %.1f outside [0, 10]", c.Assessment.MinSeverity))
	}
	if c.Assessment.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", c.Assessment.Parallelism))
	}
	if c.Assessment.MaxReflexion < 0 {
		errs = append(errs, fmt.Errorf("max_reflexion must not be negative, got %d", c.Assessment.MaxReflexion))
	}
	if c.Reasoning.Attempts < 1 {
		errs = append(errs, fmt.Errorf("reasoning attempts must be at least 1, got %d", c.Reasoning.Attempts))
	}
	return errors.Join(errs...)
}

// ModelFor returns the model configured for task, or the default model.
func (c *Config) ModelFor(task string) string {
	if m := c.Reasoning.Models[task]; m != "" {
		return m
	}
	return c.Reasoning.DefaultModel
}

// ParseList splits a comma separated list, dropping blanks.
func ParseList(s string) []string {
	var items []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return "threat_intel.db"
	}

	dir := filepath.Join(home, ".vulnintel")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .vulnintel directory, using current dir: %v", err)
		return "threat_intel.db"
	}

	return filepath.Join(dir, "threat_intel.db")
}
