package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the badge service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	AWS       AWSConfig       `yaml:"aws"`
	Tables    TablesConfig    `yaml:"tables"`
	Redis     RedisConfig     `yaml:"redis"`
	CORS      CORSConfig      `yaml:"cors"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AWSConfig holds region and optional local endpoint overrides.
type AWSConfig struct {
	Region                 string `yaml:"region"`
	DynamoDBEndpoint       string `yaml:"dynamodb_endpoint"`
	SecretsManagerEndpoint string `yaml:"secrets_manager_endpoint"`
}

// TablesConfig names the three DynamoDB tables.
type TablesConfig struct {
	Secrets     string `yaml:"secrets"`
	Nonces      string `yaml:"nonces"`
	TestResults string `yaml:"test_results"`
}

// RedisConfig optionally backs the nonce store with Redis instead of DynamoDB.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CORSConfig controls preflight behavior.
type CORSConfig struct {
	Mode         string   `yaml:"mode"` // "public" or "credentialed"
	AllowOrigins []string `yaml:"allow_origins"`
	MaxAge       int      `yaml:"max_age"`
}

// UpstreamsConfig holds per-provider upstream settings.
type UpstreamsConfig struct {
	NuGet  UpstreamConfig `yaml:"nuget"`
	GitHub UpstreamConfig `yaml:"github"`
}

// UpstreamConfig is one upstream's base URL and client tuning.
type UpstreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`
	FailureThreshold int           `yaml:"failure_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	CacheSize        int           `yaml:"cache_size"`
}

// AuthConfig tunes the HMAC ingestion pipeline.
type AuthConfig struct {
	TimestampSkew time.Duration `yaml:"timestamp_skew"`
	NonceTTL      time.Duration `yaml:"nonce_ttl"`
}

// DefaultConfig returns a config with working defaults. Table names have no
// defaults and must be provided.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			MaxBodySize:  1 << 20,
		},
		Logging: LoggingConfig{Level: "info"},
		AWS:     AWSConfig{Region: "us-east-1"},
		Redis:   RedisConfig{KeyPrefix: "badgesmith:"},
		CORS: CORSConfig{
			Mode:   "public",
			MaxAge: 3600,
		},
		Upstreams: UpstreamsConfig{
			NuGet: UpstreamConfig{
				BaseURL:          "https://api.nuget.org",
				Timeout:          10 * time.Second,
				MaxRetries:       3,
				MaxConcurrent:    8,
				FailureThreshold: 5,
				BreakerCooldown:  30 * time.Second,
				CacheSize:        1024,
			},
			GitHub: UpstreamConfig{
				BaseURL:          "https://api.github.com",
				Timeout:          10 * time.Second,
				MaxRetries:       3,
				MaxConcurrent:    8,
				FailureThreshold: 5,
				BreakerCooldown:  30 * time.Second,
				CacheSize:        1024,
			},
		},
		Auth: AuthConfig{
			TimestampSkew: 5 * time.Minute,
			NonceTTL:      45 * time.Minute,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Tables.Secrets == "" {
		return fmt.Errorf("tables.secrets is required")
	}
	if c.Tables.Nonces == "" && c.Redis.Address == "" {
		return fmt.Errorf("either tables.nonces or redis.address is required")
	}
	if c.Tables.TestResults == "" {
		return fmt.Errorf("tables.test_results is required")
	}
	switch c.CORS.Mode {
	case "public", "credentialed":
	default:
		return fmt.Errorf("cors.mode must be public or credentialed, got %q", c.CORS.Mode)
	}
	if c.CORS.Mode == "credentialed" && len(c.CORS.AllowOrigins) == 0 {
		return fmt.Errorf("cors.allow_origins is required in credentialed mode")
	}
	for name, u := range map[string]UpstreamConfig{"nuget": c.Upstreams.NuGet, "github": c.Upstreams.GitHub} {
		if u.BaseURL == "" {
			return fmt.Errorf("upstreams.%s.base_url is required", name)
		}
		if u.Timeout <= 0 {
			return fmt.Errorf("upstreams.%s.timeout must be positive", name)
		}
	}
	if c.Auth.TimestampSkew <= 0 {
		return fmt.Errorf("auth.timestamp_skew must be positive")
	}
	if c.Auth.NonceTTL <= 0 {
		return fmt.Errorf("auth.nonce_ttl must be positive")
	}
	return nil
}
