package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateASR(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.DateWindowDays <= 0 {
		return errors.New("matching.date_window_days must be positive")
	}
	if c.Matching.AcceptThreshold <= 0 || c.Matching.AcceptThreshold > 1 {
		return errors.New("matching.accept_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if c.Transcription.ChunkSeconds <= 0 {
		return errors.New("transcription.chunk_seconds must be positive")
	}
	if c.Transcription.ChunkThresholdBytes <= 0 {
		return errors.New("transcription.chunk_threshold_bytes must be positive")
	}
	if c.Transcription.ChunkDelaySeconds < 0 {
		return errors.New("transcription.chunk_delay_seconds must not be negative")
	}
	if c.Transcription.MinTranscriptChars < 0 {
		return errors.New("transcription.min_transcript_chars must not be negative")
	}
	return nil
}

func (c *Config) validateASR() error {
	if c.ASR.PrimaryURL == "" && c.ASR.SecondaryURL == "" {
		// No ASR service configured; sync-only deployments are valid.
		return nil
	}
	if c.ASR.PrimaryURL != "" && c.ASR.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/sermonsync/config.toml"
		}
		return fmt.Errorf("asr.api_key is required when asr.primary_url is set. Edit %s (create with 'sermonsync config init')", defaultPath)
	}
	if c.ASR.MaxAttempts <= 0 {
		return errors.New("asr.max_attempts must be positive")
	}
	if c.ASR.Base64MaxBytes < 0 {
		return errors.New("asr.base64_max_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey == "" {
		return errors.New("storage.supabase_key is required when storage.supabase_url is set")
	}
	if c.Storage.SupabaseURL != "" && c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set for supabase uploads")
	}
	return nil
}
