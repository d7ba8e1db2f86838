package config

const (
	defaultStateDir               = "~/.local/share/sdqueue"
	defaultOutputDir              = "~/.local/share/sdqueue/outputs"
	defaultModelsDir              = "~/.local/share/sdqueue/models"
	defaultLogDir                 = "~/.local/share/sdqueue/logs"
	defaultRetentionDays          = 30
	defaultProgressThrottleMillis = 250
	defaultPreviewThrottleMillis  = 1000
	defaultShutdownTimeoutSeconds = 30
	defaultHubCapacity            = 1024
	defaultForwardBuffer          = 256
	defaultRedisChannel           = "sdqueue:events"
	defaultAMQPExchange           = "sdqueue.events"
	defaultNtfyTimeoutSeconds     = 10
	defaultDownloadTimeoutSeconds = 3600
	defaultUserAgent              = "sdqueue/dev"
	defaultS3Region               = "us-east-1"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultPreviewMethod          = "proj"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
			ModelsDir: defaultModelsDir,
			LogDir:    defaultLogDir,
		},
		Queue: Queue{
			SoftDelete:             true,
			RetentionDays:          defaultRetentionDays,
			ProgressThrottleMillis: defaultProgressThrottleMillis,
			PreviewThrottleMillis:  defaultPreviewThrottleMillis,
			Previews:               true,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Engine: Engine{
			Preview: defaultPreviewMethod,
		},
		Events: Events{
			HubCapacity:        defaultHubCapacity,
			ForwardBuffer:      defaultForwardBuffer,
			RedisChannel:       defaultRedisChannel,
			AMQPExchange:       defaultAMQPExchange,
			NtfyTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Download: Download{
			TimeoutSeconds: defaultDownloadTimeoutSeconds,
			UserAgent:      defaultUserAgent,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
