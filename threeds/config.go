package threeds

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is a configuration for the threeds application
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is the externally reachable base URL used for shopper
	// result redirects. Defaults to http://<listen addr>.
	PublicURL string `yaml:"public_url"`

	// RepoBackend is pg or mem. mem requires ALLOW_MEM_BACKEND_FOR_TESTS.
	RepoBackend string `yaml:"repo_backend"`
	DBDSN       string `yaml:"db_dsn"`
	// RedisURL enables the distributed transaction lock when set.
	RedisURL   string `yaml:"redis_url"`
	LockPrefix string `yaml:"lock_prefix"`

	Provider ProviderSettings `yaml:"provider"`

	// Simulator mounts the provider simulator under /sim and points the
	// provider base URL at it when none is configured.
	Simulator bool `yaml:"simulator"`

	MerchantID string `yaml:"merchant_id"`
	TerminalID string `yaml:"terminal_id"`
	// ExpiryTZ is an IANA timezone name for card expiry checks.
	ExpiryTZ string `yaml:"expiry_tz"`
	LogLevel string `yaml:"log_level"`

	// LiveRetention is how long a finished transaction, and the card data
	// it carries, stays in memory for authorization.
	LiveRetention time.Duration `yaml:"live_retention"`
}

type ProviderSettings struct {
	Mode                     string        `yaml:"mode"`
	EntityID                 string        `yaml:"entity_id"`
	AccessToken              string        `yaml:"access_token"`
	BaseURL                  string        `yaml:"base_url"`
	NativeThreeDS            bool          `yaml:"native_threeds"`
	WebOnlyBrands            []string      `yaml:"web_only_brands"`
	SessionTokenKey          string        `yaml:"session_token_key"`
	ChallengeTimeout         time.Duration `yaml:"challenge_timeout"`
	NetworkCompletionPattern string        `yaml:"network_completion_pattern"`
}

const DefaultLiveRetention = 15 * time.Minute

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    "localhost:9191",
		RepoBackend: "pg",
		LockPrefix:  "threeds:",
		Provider: ProviderSettings{
			Mode:             string(ModeTest),
			EntityID:         "8ac7a4c8761ad8b6",
			NativeThreeDS:    true,
			SessionTokenKey:  "dev-session-key",
			ChallengeTimeout: DefaultChallengeTimeout,
		},
		MerchantID:    "THREEDSFLOW",
		TerminalID:    "WEB00001",
		LogLevel:      "info",
		LiveRetention: DefaultLiveRetention,
	}
}

// LoadConfig layers defaults, the optional YAML file at path, a .env file in
// the working directory and the environment, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// existing environment wins over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.HTTPAddr, "THREEDS_HTTP_ADDR")
	setString(&c.PublicURL, "THREEDS_PUBLIC_URL")
	setString(&c.RepoBackend, "REPO_BACKEND")
	setString(&c.DBDSN, "DB_DSN")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.MerchantID, "THREEDS_MERCHANT_ID")
	setString(&c.TerminalID, "THREEDS_TERMINAL_ID")
	setString(&c.ExpiryTZ, "THREEDS_EXPIRY_TZ")
	setString(&c.LogLevel, "THREEDS_LOG_LEVEL")
	setString(&c.Provider.Mode, "THREEDS_PROVIDER_MODE")
	setString(&c.Provider.EntityID, "THREEDS_ENTITY_ID")
	setString(&c.Provider.AccessToken, "THREEDS_ACCESS_TOKEN")
	setString(&c.Provider.BaseURL, "THREEDS_PROVIDER_URL")
	setString(&c.Provider.SessionTokenKey, "THREEDS_SESSION_TOKEN_KEY")
	setString(&c.Provider.NetworkCompletionPattern, "THREEDS_NETWORK_COMPLETION_PATTERN")

	if v := os.Getenv("THREEDS_WEB_ONLY_BRANDS"); v != "" {
		c.Provider.WebOnlyBrands = strings.Split(v, ",")
	}
	if v := os.Getenv("THREEDS_NATIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("THREEDS_NATIVE: %w", err)
		}
		c.Provider.NativeThreeDS = b
	}
	if v := os.Getenv("THREEDS_SIMULATOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("THREEDS_SIMULATOR: %w", err)
		}
		c.Simulator = b
	}
	if v := os.Getenv("THREEDS_CHALLENGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("THREEDS_CHALLENGE_TIMEOUT: %w", err)
		}
		c.Provider.ChallengeTimeout = d
	}
	if v := os.Getenv("THREEDS_LIVE_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("THREEDS_LIVE_RETENTION: %w", err)
		}
		c.LiveRetention = d
	}
	return nil
}

// ProviderConfig converts the settings; baseURL replaces an empty BaseURL.
func (c *Config) ProviderConfig(baseURL string) ProviderConfig {
	s := c.Provider
	if s.BaseURL != "" {
		baseURL = s.BaseURL
	}
	return ProviderConfig{
		Mode:                     Mode(strings.ToUpper(s.Mode)),
		EntityID:                 s.EntityID,
		AccessToken:              s.AccessToken,
		BaseURL:                  baseURL,
		NativeThreeDS:            s.NativeThreeDS,
		WebOnlyBrands:            s.WebOnlyBrands,
		SessionTokenKey:          []byte(s.SessionTokenKey),
		ChallengeTimeout:         s.ChallengeTimeout,
		NetworkCompletionPattern: s.NetworkCompletionPattern,
	}
}
