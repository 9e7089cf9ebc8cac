package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "authz-gateway/pkg/errors"
)

const (
	envPort                  = "PORT"
	envServerReadTimeout     = "SERVER_READ_TIMEOUT"
	envServerWriteTimeout    = "SERVER_WRITE_TIMEOUT"
	envServerShutdownTimeout = "SERVER_SHUTDOWN_TIMEOUT"
	envAppEnv                = "APP_ENV"
	envEnableProfiling       = "ENABLE_PROFILING"
	envLogLevel              = "LOG_LEVEL"
	envSessionSecret         = "SESSION_SECRET"
	envSessionCookieName     = "SESSION_COOKIE_NAME"
	envProtectedPrefix       = "PROTECTED_PREFIX"
	envSignInPath            = "SIGN_IN_PATH"
	envForbiddenPath         = "FORBIDDEN_PATH"
	envPolicyMode            = "POLICY_MODE"
	envPolicyPDPURL          = "POLICY_PDP_URL"
	envPolicyAPIURL          = "POLICY_API_URL"
	envPolicyAPIToken        = "POLICY_API_TOKEN"
	envPolicyProjectID       = "POLICY_PROJECT_ID"
	envPolicyEnvironmentID   = "POLICY_ENVIRONMENT_ID"
	envPolicyTimeout         = "POLICY_TIMEOUT"
	envPolicyRetries         = "POLICY_RETRIES"
	envDBHost                = "DB_HOST"
	envDBPort                = "DB_PORT"
	envDBName                = "DB_NAME"
	envDBUser                = "DB_USER"
	envDBPassword            = "DB_PASSWORD"
	envDBSSLMode             = "DB_SSL_MODE"
	envDBMaxConns            = "DB_MAX_CONNS"
	envDBMinConns            = "DB_MIN_CONNS"
	envRedisAddr             = "REDIS_ADDR"
	envRedisPassword         = "REDIS_PASSWORD"
	envRedisDB               = "REDIS_DB"
)

const (
	PolicyModeFull       = "full"
	PolicyModeRestricted = "restricted"

	envProduction = "production"
)

const (
	defaultServerPort         = "8080"
	defaultServerReadTimeout  = 10 * time.Second
	defaultServerWriteTimeout = 10 * time.Second
	defaultServerShutdown     = 10 * time.Second
	defaultAppEnv             = "development"
	defaultLogLevel           = "info"
	defaultSessionCookieName  = "session"
	defaultProtectedPrefix    = "/dashboard"
	defaultSignInPath         = "/sign-in"
	defaultForbiddenPath      = "/forbidden"
	defaultPolicyAPIURL       = "https://api.permit.io"
	defaultPolicyTimeout      = 3 * time.Second
	defaultPolicyRetries      = 1
	defaultDBHost             = "localhost"
	defaultDBPort             = 5432
	defaultDBName             = "authz_gateway"
	defaultDBUser             = "authz_gateway_app"
	defaultDBSSLMode          = "disable"
	defaultDBMaxConns         = 25
	defaultDBMinConns         = 5
	minSessionSecretLength    = 32
	minUniqueCharsInSecret    = 16
	minRepeatedCharThreshold  = 4
	maxRepeatedChars          = 2
	maxPolicyRetries          = 5
)

const (
	errPortRequired            = "PORT must be set"
	errDBPasswordRequired      = "DB_PASSWORD must be set"
	errSessionSecretRequired   = "SESSION_SECRET must be set"
	errSessionSecretMinLenFmt  = "SESSION_SECRET must be at least %d characters"
	errSessionSecretLowEntropy = "SESSION_SECRET has insufficient entropy (appears non-random). Use a cryptographically secure random string."
	errUnknownPolicyModeFmt    = "POLICY_MODE must be %q or %q, got %q"
	errPolicyTimeoutInvalid    = "POLICY_TIMEOUT must be positive"
	errPolicyRetriesInvalidFmt = "POLICY_RETRIES must be between 0 and %d"
	errPathMustBeAbsoluteFmt   = "%s must start with '/'"
	errInvalidConfigurationFmt = "invalid configuration: %w"
)

type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Routes   RoutesConfig
	Policy   PolicyConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Environment     string
	// EnableProfiling mounts pprof under /api/admin/debug/pprof, behind the guard.
	EnableProfiling bool
}

type SessionConfig struct {
	Secret       string
	CookieName   string
	SecureCookie bool
}

type RoutesConfig struct {
	ProtectedPrefix string
	SignInPath      string
	ForbiddenPath   string
}

type PolicyConfig struct {
	Mode          string
	PDPURL        string
	APIURL        string
	APIToken      string
	ProjectID     string
	EnvironmentID string
	Timeout       time.Duration
	Retries       int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads the process configuration from the environment. Every failure wraps
// apperrors.ErrConfiguration and is meant to halt startup.
func Load() (*Config, error) {
	appEnv := getEnv(envAppEnv, defaultAppEnv)
	production := strings.EqualFold(appEnv, envProduction)

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv(envPort, defaultServerPort),
			ReadTimeout:     getDurationEnv(envServerReadTimeout, defaultServerReadTimeout),
			WriteTimeout:    getDurationEnv(envServerWriteTimeout, defaultServerWriteTimeout),
			ShutdownTimeout: getDurationEnv(envServerShutdownTimeout, defaultServerShutdown),
			Environment:     appEnv,
			EnableProfiling: getBoolEnv(envEnableProfiling),
		},
		Session: SessionConfig{
			Secret:       os.Getenv(envSessionSecret),
			CookieName:   getEnv(envSessionCookieName, defaultSessionCookieName),
			SecureCookie: production,
		},
		Routes: RoutesConfig{
			ProtectedPrefix: getEnv(envProtectedPrefix, defaultProtectedPrefix),
			SignInPath:      getEnv(envSignInPath, defaultSignInPath),
			ForbiddenPath:   getEnv(envForbiddenPath, defaultForbiddenPath),
		},
		Policy: PolicyConfig{
			Mode:          strings.ToLower(getEnv(envPolicyMode, PolicyModeFull)),
			PDPURL:        os.Getenv(envPolicyPDPURL),
			APIURL:        getEnv(envPolicyAPIURL, defaultPolicyAPIURL),
			APIToken:      os.Getenv(envPolicyAPIToken),
			ProjectID:     os.Getenv(envPolicyProjectID),
			EnvironmentID: os.Getenv(envPolicyEnvironmentID),
			Timeout:       getDurationEnv(envPolicyTimeout, defaultPolicyTimeout),
			Retries:       getIntEnv(envPolicyRetries, defaultPolicyRetries),
		},
		Database: DatabaseConfig{
			Host:     getEnv(envDBHost, defaultDBHost),
			Port:     getIntEnv(envDBPort, defaultDBPort),
			Database: getEnv(envDBName, defaultDBName),
			User:     getEnv(envDBUser, defaultDBUser),
			Password: os.Getenv(envDBPassword),
			SSLMode:  getEnv(envDBSSLMode, defaultDBSSLMode),
			MaxConns: getIntEnv(envDBMaxConns, defaultDBMaxConns),
			MinConns: getIntEnv(envDBMinConns, defaultDBMinConns),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv(envRedisAddr),
			Password: os.Getenv(envRedisPassword),
			DB:       getIntEnv(envRedisDB, 0),
		},
		Log: LogConfig{
			Level:  getEnv(envLogLevel, defaultLogLevel),
			Pretty: !production,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf(errInvalidConfigurationFmt, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return apperrors.Configuration(errPortRequired)
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	for name, path := range map[string]string{
		envProtectedPrefix: c.Routes.ProtectedPrefix,
		envSignInPath:      c.Routes.SignInPath,
		envForbiddenPath:   c.Routes.ForbiddenPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return apperrors.Configuration(fmt.Sprintf(errPathMustBeAbsoluteFmt, name))
		}
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.Database.Password == "" {
		return apperrors.Configuration(errDBPasswordRequired)
	}

	return nil
}

func (s *SessionConfig) Validate() error {
	if strings.TrimSpace(s.Secret) == "" {
		return apperrors.Configuration(errSessionSecretRequired)
	}

	if len(s.Secret) < minSessionSecretLength {
		return apperrors.Configuration(fmt.Sprintf(errSessionSecretMinLenFmt, minSessionSecretLength))
	}

	if !hasMinimumEntropy(s.Secret) {
		return apperrors.Configuration(errSessionSecretLowEntropy)
	}

	return nil
}

func (p *PolicyConfig) Validate() error {
	switch p.Mode {
	case PolicyModeRestricted:
		return nil
	case PolicyModeFull:
	default:
		return apperrors.Configuration(fmt.Sprintf(errUnknownPolicyModeFmt, PolicyModeFull, PolicyModeRestricted, p.Mode))
	}

	required := []struct{ name, value string }{
		{envPolicyPDPURL, p.PDPURL},
		{envPolicyAPIURL, p.APIURL},
		{envPolicyAPIToken, p.APIToken},
		{envPolicyProjectID, p.ProjectID},
		{envPolicyEnvironmentID, p.EnvironmentID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperrors.Configuration(messages.requiredInFullMode(r.name))
		}
	}

	if p.Timeout <= 0 {
		return apperrors.Configuration(errPolicyTimeoutInvalid)
	}

	if p.Retries < 0 || p.Retries > maxPolicyRetries {
		return apperrors.Configuration(fmt.Sprintf(errPolicyRetriesInvalidFmt, maxPolicyRetries))
	}

	return nil
}

func hasMinimumEntropy(secret string) bool {
	if len(secret) < minSessionSecretLength {
		return false
	}

	charCounts := make(map[rune]int)
	for _, char := range secret {
		charCounts[char]++
	}

	uniqueChars := len(charCounts)
	if uniqueChars < minUniqueCharsInSecret {
		return false
	}

	repeatedChars := 0
	for _, count := range charCounts {
		if count > len(secret)/minRepeatedCharThreshold {
			repeatedChars++
		}
	}

	return repeatedChars <= maxRepeatedChars
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}
