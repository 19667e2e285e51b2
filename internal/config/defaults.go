package config

const (
	defaultDataDir              = "~/.local/share/sermonsync"
	defaultStagingDir           = "~/.local/share/sermonsync/staging"
	defaultLogDir               = "~/.local/share/sermonsync/logs"
	defaultWorkerBind           = "127.0.0.1:8173"
	defaultSourceTimeout        = 30
	defaultDateWindowDays       = 3
	defaultAcceptThreshold      = 0.6
	defaultChunkSeconds         = 600
	defaultChunkThresholdBytes  = 25 << 20
	defaultChunkDelaySeconds    = 2
	defaultMinTranscriptChars   = 50
	defaultDelegateTimeoutSecs  = 10
	defaultStatusRecheckSeconds = 2
	defaultExtractorBinary      = "yt-dlp"
	defaultPlatformFragments    = "youtube.com,youtu.be"
	defaultBase64MaxBytes       = 10 << 20
	defaultASRMaxAttempts       = 3
	defaultASRBackoffSeconds    = 1
	defaultASRTimeoutSeconds    = 120
	defaultBucket               = "audio-chunks"
	defaultLogFormat            = ""
	defaultLogLevel             = "info"
)

// defaultContentKeywords gates which channel uploads count as real episodes
// rather than shorts, trailers, or service streams.
var defaultContentKeywords = []string{"sermon", "message", "episode", "part", "series", "study"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			WorkerBind: defaultWorkerBind,
		},
		Sources: Sources{
			RequestTimeout: defaultSourceTimeout,
		},
		Matching: Matching{
			DateWindowDays:  defaultDateWindowDays,
			AcceptThreshold: defaultAcceptThreshold,
			ContentKeywords: append([]string{}, defaultContentKeywords...),
		},
		Transcription: Transcription{
			ChunkSeconds:          defaultChunkSeconds,
			ChunkThresholdBytes:   defaultChunkThresholdBytes,
			ChunkDelaySeconds:     defaultChunkDelaySeconds,
			MinTranscriptChars:    defaultMinTranscriptChars,
			DelegateTimeoutSecs:   defaultDelegateTimeoutSecs,
			StatusRecheckSeconds:  defaultStatusRecheckSeconds,
			ResumeOnStart:         true,
			ExtractorBinary:       defaultExtractorBinary,
			PlatformHostFragments: defaultPlatformFragments,
		},
		ASR: ASR{
			Base64MaxBytes: defaultBase64MaxBytes,
			MaxAttempts:    defaultASRMaxAttempts,
			BackoffSeconds: defaultASRBackoffSeconds,
			TimeoutSeconds: defaultASRTimeoutSeconds,
		},
		Storage: Storage{
			Bucket: defaultBucket,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
