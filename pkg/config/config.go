package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. The chat client and the
// gateway read different subsets; Load validates only what both need and
// each binary checks its own extras at startup.
type Config struct {
	// App
	Port string
	Env  string

	// Agent
	AgentName string

	// Client
	GatewayURL     string
	RequestTimeout time.Duration // 0 disables the transport deadline
	StaticToken    string

	// Client token acquisition (OAuth2 client credentials)
	TokenURL     string
	ClientID     string
	ClientSecret string
	TokenScopes  []string

	// Gateway bearer validation (empty JWKSURL disables auth, dev only)
	JWKSURL  string
	TenantID string
	Audience string

	// Upstream model service (OpenAI-compatible)
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UpstreamModel   string

	// Tooling behind the runtime
	JiraBaseURL  string
	JiraEmail    string
	JiraAPIToken string
	ConsentURL   string // consent link handed out for ungranted tool servers
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		AgentName:       getEnv("AGENT_NAME", "assistant"),
		GatewayURL:      getEnv("GATEWAY_URL", "http://localhost:8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
		StaticToken:     getEnv("BEARER_TOKEN", ""),
		TokenURL:        getEnv("TOKEN_URL", ""),
		ClientID:        getEnv("CLIENT_ID", ""),
		ClientSecret:    getEnv("CLIENT_SECRET", ""),
		TokenScopes:     getEnvList("TOKEN_SCOPES"),
		JWKSURL:         getEnv("JWKS_URL", ""),
		TenantID:        getEnv("TENANT_ID", ""),
		Audience:        getEnv("TOKEN_AUDIENCE", "https://ai.azure.com"),
		UpstreamBaseURL: getEnv("UPSTREAM_URL", "http://localhost:4000"),
		UpstreamAPIKey:  getEnv("UPSTREAM_API_KEY", ""),
		UpstreamModel:   getEnv("UPSTREAM_MODEL", "gpt-4o-mini"),
		JiraBaseURL:     getEnv("JIRA_BASE_URL", ""),
		JiraEmail:       getEnv("JIRA_EMAIL", ""),
		JiraAPIToken:    getEnv("JIRA_API_TOKEN", ""),
		ConsentURL:      getEnv("CONSENT_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.AgentName == "" {
		return fmt.Errorf("AGENT_NAME is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	if c.UpstreamModel == "" {
		return fmt.Errorf("UPSTREAM_MODEL is required")
	}
	// Tokens, JWKS and Jira credentials are optional for development
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
