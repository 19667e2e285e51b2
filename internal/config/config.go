package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	WorkerBind string `toml:"worker_bind"`
}

// Sources contains the two episode catalogs the sync pulls from.
type Sources struct {
	FeedURL        string `toml:"feed_url"`
	ChannelAPIURL  string `toml:"channel_api_url"`
	ChannelID      string `toml:"channel_id"`
	ChannelAPIKey  string `toml:"channel_api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Matching contains tunables for the cross-source episode matcher.
type Matching struct {
	DateWindowDays  int      `toml:"date_window_days"`
	AcceptThreshold float64  `toml:"accept_threshold"`
	ContentKeywords []string `toml:"content_keywords"`
}

// Transcription contains orchestration settings for transcript generation.
type Transcription struct {
	WorkerURL             string `toml:"worker_url"`
	ChunkSeconds          int    `toml:"chunk_seconds"`
	ChunkThresholdBytes   int64  `toml:"chunk_threshold_bytes"`
	ChunkDelaySeconds     int    `toml:"chunk_delay_seconds"`
	MinTranscriptChars    int    `toml:"min_transcript_chars"`
	DelegateTimeoutSecs   int    `toml:"delegate_timeout_seconds"`
	StatusRecheckSeconds  int    `toml:"status_recheck_seconds"`
	ResumeOnStart         bool   `toml:"resume_on_start"`
	ExtractorBinary       string `toml:"extractor_binary"`
	PlatformHostFragments string `toml:"platform_host_fragments"`
}

// ASR contains configuration for the speech-recognition service.
type ASR struct {
	APIKey         string `toml:"api_key"`
	PrimaryURL     string `toml:"primary_url"`
	FallbackURL    string `toml:"fallback_url"`
	SecondaryURL   string `toml:"secondary_url"`
	SecondaryKey   string `toml:"secondary_key"`
	Base64MaxBytes int64  `toml:"base64_max_bytes"`
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffSeconds int    `toml:"backoff_seconds"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Storage contains blob storage settings for uploaded audio chunks.
type Storage struct {
	SupabaseURL string `toml:"supabase_url"`
	SupabaseKey string `toml:"supabase_key"`
	Bucket      string `toml:"bucket"`
	LocalDir    string `toml:"local_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for sermonsync.
//
// Configuration sections by subsystem:
//   - Paths: data/staging/log directories and worker bind address
//   - Sources: podcast feed and channel API endpoints
//   - Matching: cross-source matcher thresholds
//   - Transcription: chunking, delegation, and resume behaviour
//   - ASR: speech-recognition endpoints and fallback limits
//   - Storage: chunk blob uploads
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Sources       Sources       `toml:"sources"`
	Matching      Matching      `toml:"matching"`
	Transcription Transcription `toml:"transcription"`
	ASR           ASR           `toml:"asr"`
	Storage       Storage       `toml:"storage"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sermonsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
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

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sermonsync.toml")
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

// EnsureDirectories creates required directories for operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Storage.LocalDir != "" {
		if err := os.MkdirAll(c.Storage.LocalDir, 0o755); err != nil {
			return fmt.Errorf("create blob directory %q: %w", c.Storage.LocalDir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for audio segmenting.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.DataDir,
		&c.Paths.StagingDir,
		&c.Paths.LogDir,
		&c.Storage.LocalDir,
	} {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Sources.FeedURL = strings.TrimSpace(c.Sources.FeedURL)
	c.Sources.ChannelAPIURL = strings.TrimRight(strings.TrimSpace(c.Sources.ChannelAPIURL), "/")
	c.Transcription.WorkerURL = strings.TrimRight(strings.TrimSpace(c.Transcription.WorkerURL), "/")
	c.ASR.PrimaryURL = strings.TrimSpace(c.ASR.PrimaryURL)
	c.ASR.FallbackURL = strings.TrimSpace(c.ASR.FallbackURL)
	c.ASR.SecondaryURL = strings.TrimSpace(c.ASR.SecondaryURL)
	return nil
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
