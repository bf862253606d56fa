// Package config loads process settings from defaults, an optional config
// file, a .env file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Upstream record sources.
const (
	SourceGitHub      = "github"
	SourceCVEServices = "cveservices"
	SourceGit         = "git"
)

// Config is the full process configuration.
type Config struct {
	Port        string
	SchemaPath  string
	HTTPTimeout time.Duration
	// JWTSecret signs the HS256 tokens accepted by the admin routes.
	// Empty disables the admin routes.
	JWTSecret string

	Arango   ArangoConfig
	Upstream UpstreamConfig
	Ingest   IngestConfig
	OpenAI   OpenAIConfig
	Kafka    KafkaConfig
}

// ArangoConfig holds the database connection settings.
type ArangoConfig struct {
	URL      string
	User     string
	Password string
	Database string
}

// UpstreamConfig selects and configures the feed source.
type UpstreamConfig struct {
	Source         string
	GitHubAPIURL   string
	GitHubRawURL   string
	Repo           string
	Branch         string
	Token          string
	CVEServicesURL string
	MirrorPath     string
	MirrorURL      string
	MaxElapsed     time.Duration
}

// IngestConfig tunes ingestion cycles.
type IngestConfig struct {
	Interval     time.Duration
	Epoch        time.Time
	PageSize     int
	MaxPages     int
	BatchSize    int
	Workers      int
	CommitAuthor string
}

// OpenAIConfig configures the natural language search model.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

// KafkaConfig configures the optional event integration. Brokers empty
// disables it.
type KafkaConfig struct {
	Brokers      []string
	APIKey       string
	APISecret    string
	RequestTopic string
	ReportTopic  string
	GroupID      string
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// legacyEnv maps keys to the unprefixed variable names already used by
// deployments of the backend.
var legacyEnv = map[string]string{
	"port":                "MS_PORT",
	"jwt_secret":          "JWT_SECRET",
	"arango.url":          "ARANGO_URL",
	"arango.user":         "ARANGO_USER",
	"arango.password":     "ARANGO_PASS",
	"arango.database":     "ARANGO_DB",
	"upstream.token":      "GITHUB_TOKEN",
	"openai.api_key":      "OPENAI_API_KEY",
	"openai.base_url":     "OPENAI_BASE_URL",
	"kafka.brokers":       "KAFKA_BROKERS",
	"kafka.api_key":       "KAFKA_API_KEY",
	"kafka.api_secret":    "KAFKA_API_SECRET",
	"kafka.group_id":      "KAFKA_GROUP_ID",
	"kafka.request_topic": "KAFKA_REQUEST_TOPIC",
	"kafka.report_topic":  "KAFKA_REPORT_TOPIC",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("schema_path", "")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("arango.url", "http://localhost:8529")
	v.SetDefault("arango.user", "root")
	v.SetDefault("arango.password", "")
	v.SetDefault("arango.database", "cvefeed")

	v.SetDefault("upstream.source", SourceGitHub)
	v.SetDefault("upstream.github_api_url", "https://api.github.com")
	v.SetDefault("upstream.github_raw_url", "https://raw.githubusercontent.com")
	v.SetDefault("upstream.repo", "CVEProject/cvelistV5")
	v.SetDefault("upstream.branch", "main")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.cveservices_url", "https://cveawg.mitre.org/api")
	v.SetDefault("upstream.mirror_path", "")
	v.SetDefault("upstream.mirror_url", "https://github.com/CVEProject/cvelistV5.git")
	v.SetDefault("upstream.max_elapsed", "2m")

	v.SetDefault("ingest.interval", "10m")
	v.SetDefault("ingest.epoch", "1999-01-01T00:00:00Z")
	v.SetDefault("ingest.page_size", 100)
	v.SetDefault("ingest.max_pages", 1000)
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("ingest.workers", 10)
	v.SetDefault("ingest.commit_author", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_retries", 5)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.api_key", "")
	v.SetDefault("kafka.api_secret", "")
	v.SetDefault("kafka.request_topic", "cve-ingest-requests")
	v.SetDefault("kafka.report_topic", "cve-ingest-reports")
	v.SetDefault("kafka.group_id", "cvefeed-backend-worker")
}

// Load reads configuration. path names an optional config file; envFiles
// are .env files loaded into the environment when present (existing
// variables win).
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// a missing .env is normal outside development
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CVEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "CVEFEED_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	epoch, err := time.Parse(time.RFC3339, v.GetString("ingest.epoch"))
	if err != nil {
		return nil, fmt.Errorf("invalid ingest.epoch: %w", err)
	}

	cfg := &Config{
		Port:        v.GetString("port"),
		SchemaPath:  v.GetString("schema_path"),
		HTTPTimeout: v.GetDuration("http_timeout"),
		JWTSecret:   v.GetString("jwt_secret"),
		Arango: ArangoConfig{
			URL:      v.GetString("arango.url"),
			User:     v.GetString("arango.user"),
			Password: v.GetString("arango.password"),
			Database: v.GetString("arango.database"),
		},
		Upstream: UpstreamConfig{
			Source:         strings.ToLower(v.GetString("upstream.source")),
			GitHubAPIURL:   v.GetString("upstream.github_api_url"),
			GitHubRawURL:   v.GetString("upstream.github_raw_url"),
			Repo:           v.GetString("upstream.repo"),
			Branch:         v.GetString("upstream.branch"),
			Token:          v.GetString("upstream.token"),
			CVEServicesURL: v.GetString("upstream.cveservices_url"),
			MirrorPath:     v.GetString("upstream.mirror_path"),
			MirrorURL:      v.GetString("upstream.mirror_url"),
			MaxElapsed:     v.GetDuration("upstream.max_elapsed"),
		},
		Ingest: IngestConfig{
			Interval:     v.GetDuration("ingest.interval"),
			Epoch:        epoch.UTC(),
			PageSize:     v.GetInt("ingest.page_size"),
			MaxPages:     v.GetInt("ingest.max_pages"),
			BatchSize:    v.GetInt("ingest.batch_size"),
			Workers:      v.GetInt("ingest.workers"),
			CommitAuthor: v.GetString("ingest.commit_author"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     v.GetString("openai.api_key"),
			BaseURL:    v.GetString("openai.base_url"),
			Model:      v.GetString("openai.model"),
			MaxRetries: v.GetInt("openai.max_retries"),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(v.GetString("kafka.brokers")),
			APIKey:       v.GetString("kafka.api_key"),
			APISecret:    v.GetString("kafka.api_secret"),
			RequestTopic: v.GetString("kafka.request_topic"),
			ReportTopic:  v.GetString("kafka.report_topic"),
			GroupID:      v.GetString("kafka.group_id"),
		},
	}

	switch cfg.Upstream.Source {
	case SourceGitHub, SourceCVEServices:
	case SourceGit:
		if cfg.Upstream.MirrorPath == "" {
			return nil, fmt.Errorf("upstream.mirror_path is required for the %s source", SourceGit)
		}
	default:
		return nil, fmt.Errorf("unknown upstream.source %q", cfg.Upstream.Source)
	}
	if cfg.Ingest.Interval < 0 {
		return nil, fmt.Errorf("ingest.interval must not be negative")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
