package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	OutputDir string `toml:"output_dir"`
	ModelsDir string `toml:"models_dir"`
	LogDir    string `toml:"log_dir"`
}

// Queue contains job queue and recycle bin settings.
type Queue struct {
	SoftDelete             bool `toml:"soft_delete"`
	RetentionDays          int  `toml:"retention_days"`
	ProgressThrottleMillis int  `toml:"progress_throttle_ms"`
	PreviewThrottleMillis  int  `toml:"preview_throttle_ms"`
	Previews               bool `toml:"previews"`
	ShutdownTimeoutSeconds int  `toml:"shutdown_timeout_seconds"`
}

// Events contains event fan-out settings. Redis, AMQP and ntfy publishers
// are enabled by setting their URLs.
type Events struct {
	HubCapacity        int    `toml:"hub_capacity"`
	ForwardBuffer      int    `toml:"forward_buffer"`
	RedisURL           string `toml:"redis_url"`
	RedisChannel       string `toml:"redis_channel"`
	AMQPURL            string `toml:"amqp_url"`
	AMQPExchange       string `toml:"amqp_exchange"`
	NtfyTopic          string `toml:"ntfy_topic"`
	NtfyTimeoutSeconds int    `toml:"ntfy_timeout_seconds"`
}

// Download contains model download client settings.
type Download struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	// Static S3 keys. Empty falls back to the default AWS credential chain.
	S3AccessKeyID     string `toml:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key"`
}

// Engine contains the generation backend settings. Leaving Binary empty
// runs the daemon without a backend; jobs are admitted and fail at dispatch.
type Engine struct {
	Binary  string `toml:"binary"`
	Threads int    `toml:"threads"`
	// Preview is the tool's preview method: none, proj, tae or vae.
	Preview string `toml:"preview"`
}

// Model describes the model the registry exposes to the worker.
type Model struct {
	Name         string `toml:"name"`
	Architecture string `toml:"architecture"`
	Path         string `toml:"path"`
	VAE          string `toml:"vae"`
	Upscaler     string `toml:"upscaler"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for sdqueue.
//
// Configuration sections by subsystem:
//   - Paths: state database, generated outputs, downloaded models, logs
//   - Queue: recycle bin retention, telemetry throttles, shutdown
//   - Events: in-process hub size, optional Redis/AMQP publishers, ntfy notifications
//   - Download: model download timeouts and S3 source settings
//   - Engine: generation backend binary and threads
//   - Model: the loaded model and optional VAE/upscaler
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Queue    Queue    `toml:"queue"`
	Events   Events   `toml:"events"`
	Download Download `toml:"download"`
	Engine   Engine   `toml:"engine"`
	Model    Model    `toml:"model"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sdqueue/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads a .env file next to the config file and one in the working
// directory. Variables already present in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/sdqueue/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sdqueue.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.OutputDir, c.Paths.ModelsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the SQLite job state database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "sdqueue.lock")
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "sdqueue.sock")
}

// Retention reports how long soft-deleted jobs stay in the recycle bin.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Queue.RetentionDays) * 24 * time.Hour
}

// ProgressThrottle reports the minimum interval between progress broadcasts.
func (c *Config) ProgressThrottle() time.Duration {
	return time.Duration(c.Queue.ProgressThrottleMillis) * time.Millisecond
}

// PreviewThrottle reports the minimum interval between preview broadcasts.
func (c *Config) PreviewThrottle() time.Duration {
	return time.Duration(c.Queue.PreviewThrottleMillis) * time.Millisecond
}

// ShutdownTimeout reports how long Stop waits before warning about an in-flight job.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Queue.ShutdownTimeoutSeconds) * time.Second
}

// NtfyTimeout bounds a single notification request.
func (c *Config) NtfyTimeout() time.Duration {
	return time.Duration(c.Events.NtfyTimeoutSeconds) * time.Second
}

// DownloadTimeout reports the per-download deadline. Zero disables it.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
