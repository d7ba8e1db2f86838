package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeEvents()
	c.normalizeDownload()
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ModelsDir) == "" {
		c.Paths.ModelsDir = defaultModelsDir
	}
	if c.Paths.ModelsDir, err = expandPath(c.Paths.ModelsDir); err != nil {
		return fmt.Errorf("paths.models_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.ShutdownTimeoutSeconds <= 0 {
		c.Queue.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
}

func (c *Config) normalizeEvents() {
	if value, ok := os.LookupEnv("SDQUEUE_REDIS_URL"); ok && strings.TrimSpace(c.Events.RedisURL) == "" {
		c.Events.RedisURL = value
	}
	if value, ok := os.LookupEnv("SDQUEUE_AMQP_URL"); ok && strings.TrimSpace(c.Events.AMQPURL) == "" {
		c.Events.AMQPURL = value
	}
	if value, ok := os.LookupEnv("SDQUEUE_NTFY_TOPIC"); ok && strings.TrimSpace(c.Events.NtfyTopic) == "" {
		c.Events.NtfyTopic = value
	}
	c.Events.NtfyTopic = strings.TrimSpace(c.Events.NtfyTopic)
	if c.Events.NtfyTimeoutSeconds <= 0 {
		c.Events.NtfyTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
	c.Events.RedisURL = strings.TrimSpace(c.Events.RedisURL)
	c.Events.AMQPURL = strings.TrimSpace(c.Events.AMQPURL)
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
	c.Events.AMQPExchange = strings.TrimSpace(c.Events.AMQPExchange)
	if c.Events.AMQPExchange == "" {
		c.Events.AMQPExchange = defaultAMQPExchange
	}
	if c.Events.HubCapacity <= 0 {
		c.Events.HubCapacity = defaultHubCapacity
	}
	if c.Events.ForwardBuffer <= 0 {
		c.Events.ForwardBuffer = defaultForwardBuffer
	}
}

func (c *Config) normalizeDownload() {
	c.Download.UserAgent = strings.TrimSpace(c.Download.UserAgent)
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = defaultUserAgent
	}
	if c.Download.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Download.S3Region = strings.TrimSpace(value)
		}
	}
	c.Download.S3Region = strings.TrimSpace(c.Download.S3Region)
	if c.Download.S3Region == "" {
		c.Download.S3Region = defaultS3Region
	}
	c.Download.S3Endpoint = strings.TrimRight(strings.TrimSpace(c.Download.S3Endpoint), "/")
	if value, ok := os.LookupEnv("SDQUEUE_S3_ACCESS_KEY_ID"); ok && c.Download.S3AccessKeyID == "" {
		c.Download.S3AccessKeyID = value
	}
	if value, ok := os.LookupEnv("SDQUEUE_S3_SECRET_ACCESS_KEY"); ok && c.Download.S3SecretAccessKey == "" {
		c.Download.S3SecretAccessKey = value
	}
	c.Download.S3AccessKeyID = strings.TrimSpace(c.Download.S3AccessKeyID)
	c.Download.S3SecretAccessKey = strings.TrimSpace(c.Download.S3SecretAccessKey)
}

func (c *Config) normalizeEngine() error {
	if value, ok := os.LookupEnv("SDQUEUE_SD_BINARY"); ok && strings.TrimSpace(c.Engine.Binary) == "" {
		c.Engine.Binary = value
	}
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	c.Engine.Preview = strings.ToLower(strings.TrimSpace(c.Engine.Preview))
	if c.Engine.Preview == "" {
		c.Engine.Preview = defaultPreviewMethod
	}
	if strings.ContainsRune(c.Engine.Binary, filepath.Separator) || strings.HasPrefix(c.Engine.Binary, "~") {
		expanded, err := expandPath(c.Engine.Binary)
		if err != nil {
			return fmt.Errorf("engine.binary: %w", err)
		}
		c.Engine.Binary = expanded
	}

	c.Model.Name = strings.TrimSpace(c.Model.Name)
	c.Model.Architecture = strings.ToLower(strings.TrimSpace(c.Model.Architecture))
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"model.path", &c.Model.Path},
		{"model.vae", &c.Model.VAE},
		{"model.upscaler", &c.Model.Upscaler},
	} {
		trimmed := strings.TrimSpace(*field.value)
		if trimmed == "" {
			*field.value = ""
			continue
		}
		// Bare file names live in the models directory.
		if !filepath.IsAbs(trimmed) && !strings.HasPrefix(trimmed, "~") && !strings.HasPrefix(trimmed, ".") {
			trimmed = filepath.Join(c.Paths.ModelsDir, trimmed)
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	if c.Model.Name == "" && c.Model.Path != "" {
		c.Model.Name = strings.TrimSuffix(filepath.Base(c.Model.Path), filepath.Ext(c.Model.Path))
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
