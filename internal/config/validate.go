package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.ModelsDir == "" {
		return errors.New("paths.models_dir must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.RetentionDays < 0 {
		return errors.New("queue.retention_days must be zero or positive")
	}
	if c.Queue.ProgressThrottleMillis < 0 {
		return errors.New("queue.progress_throttle_ms must be zero or positive")
	}
	if c.Queue.PreviewThrottleMillis < 0 {
		return errors.New("queue.preview_throttle_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.RedisURL != "" {
		if err := validateURL(c.Events.RedisURL, "redis", "rediss"); err != nil {
			return fmt.Errorf("events.redis_url: %w", err)
		}
	}
	if c.Events.AMQPURL != "" {
		if err := validateURL(c.Events.AMQPURL, "amqp", "amqps"); err != nil {
			return fmt.Errorf("events.amqp_url: %w", err)
		}
	}
	if c.Events.NtfyTopic != "" {
		if err := validateURL(c.Events.NtfyTopic, "http", "https"); err != nil {
			return fmt.Errorf("events.ntfy_topic: %w", err)
		}
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.TimeoutSeconds < 0 {
		return errors.New("download.timeout_seconds must be zero or positive")
	}
	if (c.Download.S3AccessKeyID == "") != (c.Download.S3SecretAccessKey == "") {
		return errors.New("download.s3_access_key_id and download.s3_secret_access_key must be set together")
	}
	if c.Download.S3Endpoint != "" {
		if err := validateURL(c.Download.S3Endpoint, "http", "https"); err != nil {
			return fmt.Errorf("download.s3_endpoint: %w", err)
		}
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.Threads < 0 {
		return errors.New("engine.threads must be zero or positive")
	}
	switch c.Engine.Preview {
	case "none", "proj", "tae", "vae":
	default:
		return fmt.Errorf("engine.preview must be one of none, proj, tae, vae (got %q)", c.Engine.Preview)
	}
	if c.Model.Path == "" && (c.Model.VAE != "" || c.Model.Architecture != "") {
		return errors.New("model.path must be set when model.vae or model.architecture is set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			if parsed.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
}
