package blob

import (
	"context"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"sermonsync/internal/services"
)

const chunkContentType = "audio/mpeg"

// SupabaseStore uploads chunks to a Supabase storage bucket.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseStore creates a bucket-backed store.
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimSpace(projectURL)
	bucket = strings.TrimSpace(bucket)
	if projectURL == "" || bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "new", "storage url and bucket required", nil)
	}
	endpoint := strings.TrimRight(projectURL, "/")
	if !strings.HasSuffix(endpoint, "/storage/v1") {
		endpoint += "/storage/v1"
	}
	return &SupabaseStore{
		client: storage_go.NewClient(endpoint, serviceKey, nil),
		bucket: bucket,
	}, nil
}

// Upload writes the object and returns its public URL.
func (s *SupabaseStore) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrCancelled, "blob", "upload", "cancelled", err)
	}
	contentType := chunkContentType
	upsert := false
	_, err := s.client.UploadFile(s.bucket, name, r, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "blob", "upload", "bucket upload failed", err)
	}
	public := s.client.GetPublicUrl(s.bucket, name)
	if public.SignedURL == "" {
		return "", services.Wrap(services.ErrTransient, "blob", "upload", "no public url returned", nil)
	}
	return public.SignedURL, nil
}
