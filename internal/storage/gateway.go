// Package storage issues time-limited credentials for the object store and
// deletes objects. Large binaries (audio uploads, exported documents) move
// directly between the client and the bucket; the orchestration tier only
// hands out signed URLs.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Gateway is the object storage contract the pipeline depends on.
type Gateway interface {
	// IssueUploadCredential returns a signed write URL for an audio object
	// scoped to the owner and job, plus the object path and its public URL.
	IssueUploadCredential(owner, jobID uuid.UUID, fileName, contentType string) (*UploadCredential, error)
	// IssueFetchCredential returns a signed read URL for an existing object.
	IssueFetchCredential(objectPath string) (string, error)
	// Upload writes a small server-produced object, such as an exported
	// document, directly to the bucket.
	Upload(ctx context.Context, objectPath, contentType string, data []byte) error
	// Delete removes an object. Callers treat failures as best-effort cleanup.
	Delete(ctx context.Context, objectPath string) error
}

// UploadCredential is the result of signing an upload.
type UploadCredential struct {
	SignedURL string `json:"signed_url"`
	PublicURL string `json:"public_url"`
	Path      string `json:"path"`
}

// GCSGateway signs V4 URLs for a Google Cloud Storage bucket.
type GCSGateway struct {
	bucket     string
	accessID   string
	privateKey []byte
	ttl        time.Duration
	client     *gcs.Client
}

// Options configures a GCSGateway.
type Options struct {
	Bucket     string
	AccessID   string
	PrivateKey string
	TTL        time.Duration
}

// NewGCS creates a gateway for the given bucket using service account
// signing credentials.
func NewGCS(ctx context.Context, opts Options) (*GCSGateway, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if opts.AccessID == "" || opts.PrivateKey == "" {
		return nil, fmt.Errorf("signing credentials are required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSGateway{
		bucket:     opts.Bucket,
		accessID:   opts.AccessID,
		privateKey: []byte(opts.PrivateKey),
		ttl:        opts.TTL,
		client:     client,
	}, nil
}

// AudioObjectPath builds the namespaced object path for a job's source audio.
// Namespacing by owner and job prevents collisions and keeps per-user cleanup
// tractable.
func AudioObjectPath(owner, jobID uuid.UUID, fileName string) string {
	ext := strings.TrimPrefix(path.Ext(fileName), ".")
	if ext == "" {
		ext = "audio"
	}
	return fmt.Sprintf("audios/%s/%s.%s", owner, jobID, ext)
}

// AudioPrefix returns the object path prefix holding an owner's audio files.
func AudioPrefix(owner uuid.UUID) string {
	return fmt.Sprintf("audios/%s/", owner)
}

// ExportObjectPath builds the namespaced object path for a job's exported
// document.
func ExportObjectPath(owner, jobID uuid.UUID) string {
	return fmt.Sprintf("exports/%s/%s.docx", owner, jobID)
}

// IssueUploadCredential signs a write URL for the job's audio object.
func (g *GCSGateway) IssueUploadCredential(owner, jobID uuid.UUID, fileName, contentType string) (*UploadCredential, error) {
	objectPath := AudioObjectPath(owner, jobID, fileName)

	signed, err := gcs.SignedURL(g.bucket, objectPath, &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         "PUT",
		GoogleAccessID: g.accessID,
		PrivateKey:     g.privateKey,
		Expires:        time.Now().Add(g.ttl),
		ContentType:    contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload URL: %w", err)
	}

	return &UploadCredential{
		SignedURL: signed,
		PublicURL: g.publicURL(objectPath),
		Path:      objectPath,
	}, nil
}

// IssueFetchCredential signs a read URL for an existing object.
func (g *GCSGateway) IssueFetchCredential(objectPath string) (string, error) {
	signed, err := gcs.SignedURL(g.bucket, objectPath, &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		GoogleAccessID: g.accessID,
		PrivateKey:     g.privateKey,
		Expires:        time.Now().Add(g.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign fetch URL: %w", err)
	}
	return signed, nil
}

// Upload writes an object to the bucket. Exported documents are small, so
// the whole payload is buffered in memory.
func (g *GCSGateway) Upload(ctx context.Context, objectPath, contentType string, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", objectPath, err)
	}
	return nil
}

// Delete removes an object from the bucket.
func (g *GCSGateway) Delete(ctx context.Context, objectPath string) error {
	if err := g.client.Bucket(g.bucket).Object(objectPath).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

// Close releases the underlying storage client.
func (g *GCSGateway) Close() error {
	return g.client.Close()
}

func (g *GCSGateway) publicURL(objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, objectPath)
}
