// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Server    ServerConfig
	Storage   StorageConfig
	Chunking  ChunkingConfig
	Synthesis SynthesisConfig
	Cache     CacheConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
}

// StorageConfig holds cache storage configuration. BasePath is the root
// for both the metadata database and the synthesized audio files.
type StorageConfig struct {
	BasePath string
}

// ChunkingConfig holds text chunking parameters, in characters.
type ChunkingConfig struct {
	TargetSize int // Preferred chunk size (default: 800)
	MaxSize    int // Hard split threshold (default: 1200)
	MinSize    int // Advisory lower bound (default: 400)
}

// SynthesisConfig holds speech synthesis engine configuration.
type SynthesisConfig struct {
	// EngineURL is the base URL of the Kokoro synthesis service.
	EngineURL string
	// Timeout bounds a single synthesis request (default: 60s)
	Timeout time.Duration
	// RequestsPerSecond rate-limits calls to the engine; 0 disables limiting.
	RequestsPerSecond float64
	// Workers is the number of background chapter generation workers (default: 2)
	Workers int
}

// CacheConfig holds audio cache budget configuration.
type CacheConfig struct {
	// MaxBytes is the audio byte budget before LRU eviction kicks in (default: 500MB)
	MaxBytes int64
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	storagePath := flag.String("storage-path", "", "Base path for cache storage")

	// Server flags
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 30s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	// Chunking flags
	chunkTarget := flag.String("chunk-target-size", "", "Preferred chunk size in characters (default: 800)")
	chunkMax := flag.String("chunk-max-size", "", "Maximum chunk size in characters (default: 1200)")
	chunkMin := flag.String("chunk-min-size", "", "Minimum chunk size in characters (default: 400)")

	// Synthesis flags
	engineURL := flag.String("engine-url", "", "Base URL of the synthesis engine (default: http://localhost:5005)")
	synthTimeout := flag.String("synthesis-timeout", "", "Synthesis request timeout (default: 60s)")
	synthRate := flag.String("synthesis-rate", "", "Max synthesis requests per second, 0 disables (default: 0)")
	synthWorkers := flag.String("synthesis-workers", "", "Background generation workers (default: 2)")

	// Cache flags
	cacheMaxBytes := flag.String("cache-max-bytes", "", "Audio cache byte budget (default: 524288000)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8080"),
		},
		Storage: StorageConfig{
			BasePath: getConfigValue(*storagePath, "STORAGE_PATH", ""),
		},
		Chunking: ChunkingConfig{
			TargetSize: getIntConfigValue(*chunkTarget, "CHUNK_TARGET_SIZE", 800),
			MaxSize:    getIntConfigValue(*chunkMax, "CHUNK_MAX_SIZE", 1200),
			MinSize:    getIntConfigValue(*chunkMin, "CHUNK_MIN_SIZE", 400),
		},
		Synthesis: SynthesisConfig{
			EngineURL:         getConfigValue(*engineURL, "SYNTHESIS_ENGINE_URL", "http://localhost:5005"),
			RequestsPerSecond: getFloatConfigValue(*synthRate, "SYNTHESIS_RATE_LIMIT", 0),
			Workers:           getIntConfigValue(*synthWorkers, "SYNTHESIS_WORKERS", 2),
		},
		Cache: CacheConfig{
			MaxBytes: getInt64ConfigValue(*cacheMaxBytes, "CACHE_MAX_BYTES", 500*1024*1024),
		},
	}

	// Parse server timeouts.
	readTimeoutStr := getConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s")
	readTimeoutDuration, err := time.ParseDuration(readTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout %q: %w", readTimeoutStr, err)
	}
	cfg.Server.ReadTimeout = readTimeoutDuration

	writeTimeoutStr := getConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "30s")
	writeTimeoutDuration, err := time.ParseDuration(writeTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout %q: %w", writeTimeoutStr, err)
	}
	cfg.Server.WriteTimeout = writeTimeoutDuration

	idleTimeoutStr := getConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s")
	idleTimeoutDuration, err := time.ParseDuration(idleTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout %q: %w", idleTimeoutStr, err)
	}
	cfg.Server.IdleTimeout = idleTimeoutDuration

	// Parse synthesis timeout.
	synthTimeoutStr := getConfigValue(*synthTimeout, "SYNTHESIS_TIMEOUT", "60s")
	synthTimeoutDuration, err := time.ParseDuration(synthTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid synthesis timeout %q: %w", synthTimeoutStr, err)
	}
	cfg.Synthesis.Timeout = synthTimeoutDuration

	// Expand and validate storage path.
	if err := cfg.expandStoragePath(); err != nil {
		return nil, fmt.Errorf("invalid storage path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.BasePath == "" {
		return errors.New("storage base path cannot be empty after expansion")
	}

	if c.Chunking.TargetSize <= 0 {
		return fmt.Errorf("chunk target size must be positive, got %d", c.Chunking.TargetSize)
	}
	if c.Chunking.MaxSize < c.Chunking.TargetSize {
		return fmt.Errorf("chunk max size %d cannot be below target size %d", c.Chunking.MaxSize, c.Chunking.TargetSize)
	}
	if c.Chunking.MinSize < 0 || c.Chunking.MinSize > c.Chunking.TargetSize {
		return fmt.Errorf("chunk min size %d must be between 0 and target size %d", c.Chunking.MinSize, c.Chunking.TargetSize)
	}

	if c.Synthesis.EngineURL == "" {
		return errors.New("synthesis engine URL is required")
	}
	if c.Synthesis.Workers < 1 {
		return fmt.Errorf("synthesis workers must be at least 1, got %d", c.Synthesis.Workers)
	}
	if c.Synthesis.RequestsPerSecond < 0 {
		return fmt.Errorf("synthesis rate limit cannot be negative, got %g", c.Synthesis.RequestsPerSecond)
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache byte budget must be positive, got %d", c.Cache.MaxBytes)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandStoragePath expands ~ and makes the path absolute.
func (c *Config) expandStoragePath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "ReadAloud", "cache")

	expanded, err := expandPath(c.Storage.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Storage.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getInt64ConfigValue returns an int64 from flag, env var, or default.
func getInt64ConfigValue(flagValue, envKey string, defaultValue int64) int64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int64
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
