package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	envEnvironment           = "APP_ENV"
	envHTTPAddr              = "HTTP_ADDR"
	envHTTPReadTimeout       = "HTTP_READ_TIMEOUT"
	envHTTPWriteTimeout      = "HTTP_WRITE_TIMEOUT"
	envHTTPShutdownTimeout   = "HTTP_SHUTDOWN_TIMEOUT"
	envLogLevel              = "LOG_LEVEL"
	envFirestoreProjectID    = "FIRESTORE_PROJECT_ID"
	envFirestoreDatabaseID   = "FIRESTORE_DATABASE_ID"
	envFirestoreEmulator     = "FIRESTORE_EMULATOR_HOST"
	envPubSubProjectID       = "PUBSUB_PROJECT_ID"
	envPubSubTopic           = "PUBSUB_NOTIFICATIONS_TOPIC"
	envGatewayAPIKey         = "PAYMENT_GATEWAY_API_KEY"
	envGatewayWebhookSecret  = "PAYMENT_GATEWAY_WEBHOOK_SECRET"
	envGatewayTimeout        = "PAYMENT_GATEWAY_TIMEOUT"
	envGatewayMaxAttempts    = "PAYMENT_GATEWAY_MAX_ATTEMPTS"
	envShippingFlatFee       = "CHECKOUT_SHIPPING_FLAT_FEE"
	envFreeShippingThreshold = "CHECKOUT_FREE_SHIPPING_THRESHOLD"
	envTaxBasisPoints        = "CHECKOUT_TAX_BASIS_POINTS"
	envAuthJWTSecret         = "AUTH_JWT_SECRET"
	envAuthJWTIssuer         = "AUTH_JWT_ISSUER"
)

// Config aggregates every runtime setting the API consumes, grouped by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Gateway     GatewayConfig
	Checkout    CheckoutConfig
	Auth        AuthConfig
}

// ServerConfig carries HTTP server tunables.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig carries log level settings.
type LoggingConfig struct {
	Level string
}

// FirestoreConfig points the persistence layer at a project or emulator.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// PubSubConfig points notification publishing at a topic.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// GatewayConfig carries payment gateway credentials and retry tunables.
type GatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

// CheckoutConfig carries the pricing policy knobs. All monetary values are
// cents; the tax rate is in basis points.
type CheckoutConfig struct {
	ShippingFlatFee       int64
	FreeShippingThreshold int64
	TaxBasisPoints        int64
}

// AuthConfig carries bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// ValidationError reports the configuration fields that failed validation.
type ValidationError struct {
	Missing []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields: %s", strings.Join(e.Missing, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	out := append([]string(nil), e.Missing...)
	sort.Strings(out)
	return out
}

// Option customises the Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile    string
	envMap     map[string]string
	skipSysEnv bool
}

// WithEnvFile reads KEY=VALUE pairs from the given file before the system
// environment is applied.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap overlays explicit values on top of every other source. Useful in
// tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment entirely.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.skipSysEnv = true
	}
}

// Load assembles the configuration from the env file, the process environment
// and explicit overrides, then validates it.
func Load(opts ...Option) (Config, error) {
	var lo loaderOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&lo)
		}
	}

	values := map[string]string{}
	if lo.envFile != "" {
		fileValues, err := loadDotEnv(lo.envFile)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	if !lo.skipSysEnv {
		for _, pair := range os.Environ() {
			if idx := strings.IndexByte(pair, '='); idx > 0 {
				values[pair[:idx]] = pair[idx+1:]
			}
		}
	}
	for k, v := range lo.envMap {
		values[k] = v
	}

	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	cfg := Config{
		Environment: stringWithDefault(lookup, envEnvironment, "development"),
		Server: ServerConfig{
			Addr:            stringWithDefault(lookup, envHTTPAddr, ":8080"),
			ReadTimeout:     durationWithDefault(lookup, envHTTPReadTimeout, 15*time.Second),
			WriteTimeout:    durationWithDefault(lookup, envHTTPWriteTimeout, 30*time.Second),
			ShutdownTimeout: durationWithDefault(lookup, envHTTPShutdownTimeout, 20*time.Second),
		},
		Logging: LoggingConfig{
			Level: stringWithDefault(lookup, envLogLevel, "info"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, envFirestoreProjectID, ""),
			DatabaseID:   stringWithDefault(lookup, envFirestoreDatabaseID, "(default)"),
			EmulatorHost: stringWithDefault(lookup, envFirestoreEmulator, ""),
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, envPubSubProjectID, ""),
			Topic:     stringWithDefault(lookup, envPubSubTopic, "notifications"),
		},
		Gateway: GatewayConfig{
			APIKey:        stringWithDefault(lookup, envGatewayAPIKey, ""),
			WebhookSecret: stringWithDefault(lookup, envGatewayWebhookSecret, ""),
			Timeout:       durationWithDefault(lookup, envGatewayTimeout, 10*time.Second),
			MaxAttempts:   intWithDefault(lookup, envGatewayMaxAttempts, 3),
		},
		Checkout: CheckoutConfig{
			ShippingFlatFee:       int64WithDefault(lookup, envShippingFlatFee, 1500),
			FreeShippingThreshold: int64WithDefault(lookup, envFreeShippingThreshold, 10000),
			TaxBasisPoints:        int64WithDefault(lookup, envTaxBasisPoints, 500),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, envAuthJWTSecret, ""),
			JWTIssuer: stringWithDefault(lookup, envAuthJWTIssuer, "mercatto"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		missing = append(missing, envFirestoreProjectID)
	}
	if cfg.Auth.JWTSecret == "" {
		missing = append(missing, envAuthJWTSecret)
	}
	if cfg.Checkout.ShippingFlatFee < 0 {
		missing = append(missing, envShippingFlatFee)
	}
	if cfg.Checkout.FreeShippingThreshold < 0 {
		missing = append(missing, envFreeShippingThreshold)
	}
	if cfg.Checkout.TaxBasisPoints < 0 || cfg.Checkout.TaxBasisPoints > 10000 {
		missing = append(missing, envTaxBasisPoints)
	}
	if cfg.Gateway.MaxAttempts < 1 {
		missing = append(missing, envGatewayMaxAttempts)
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: open env file: %w", err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file: %w", err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
