package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sermonsync/internal/services"
)

// LocalStore writes objects under a base directory and returns file:// URLs.
// It serves worker-local runs and development setups without a bucket.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a directory-backed store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "new", "local storage dir required", nil)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Upload copies the object into the base directory. Existing objects are
// never overwritten.
func (s *LocalStore) Upload(ctx context.Context, name string, r io.Reader, _ int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrCancelled, "blob", "upload", "cancelled", err)
	}
	dest := filepath.Join(s.baseDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("ensure object dir: %w", err)
	}
	file, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", services.Wrap(services.ErrConflict, "blob", "upload", fmt.Sprintf("object %s already exists", name), nil)
		}
		return "", fmt.Errorf("create object: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, r); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write object: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}
