package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sermonsync/internal/services"
)

// chunkPattern is the ffmpeg segment muxer output template.
const chunkPattern = "chunk_%03d.mp3"

// Chunk is one transcription-sized slice of the staged audio.
type Chunk struct {
	Path               string
	Index              int
	StartOffsetSeconds int
	DurationSeconds    int
}

// Segmenter cuts staged audio into fixed-length chunks, re-encoded to 16kHz
// mono at a low bitrate so each chunk stays well under provider upload caps.
type Segmenter struct {
	ffmpegBinary  string
	commandRunner commandRunner
}

// NewSegmenter creates a segmenter around the given ffmpeg binary.
func NewSegmenter(ffmpegBinary string) *Segmenter {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Segmenter{ffmpegBinary: ffmpegBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Segmenter) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Split cuts src into chunkSeconds-long MP3 chunks under destDir and returns
// them ordered by index.
func (s *Segmenter) Split(ctx context.Context, src, destDir string, chunkSeconds int) ([]Chunk, error) {
	if chunkSeconds <= 0 {
		return nil, services.Wrap(services.ErrValidation, "media", "split", "chunk seconds must be positive", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure chunk dir: %w", err)
	}

	args := buildSegmentArgs(src, destDir, chunkSeconds)
	if err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		return nil, services.Wrap(services.ErrTransient, "media", "split", "ffmpeg segmentation failed", err)
	}

	paths, err := filepath.Glob(filepath.Join(destDir, "chunk_*.mp3"))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "media", "split", "segmentation produced no chunks", nil)
	}
	sort.Strings(paths)

	chunks := make([]Chunk, 0, len(paths))
	for i, path := range paths {
		chunks = append(chunks, Chunk{
			Path:               path,
			Index:              i,
			StartOffsetSeconds: i * chunkSeconds,
			DurationSeconds:    chunkSeconds,
		})
	}
	return chunks, nil
}

// buildSegmentArgs constructs the ffmpeg invocation for the segment muxer.
func buildSegmentArgs(src, destDir string, chunkSeconds int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "32k",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", chunkSeconds),
		"-reset_timestamps", "1",
		filepath.Join(destDir, chunkPattern),
	}
}

func (s *Segmenter) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	return defaultRun(ctx, name, args...)
}
