// Package storage is the object store behind the webhook payload archive.
//
// Processed provider events keep only their id and status in Postgres; the
// raw JSON body is moved here by a background job so the webhook_events
// table stays small. Two providers exist:
// - LocalStorage: File system storage for development
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for object storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key with the given options.
	// Returns ErrKeyExists if the key already exists and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close
	// the reader. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key.
	// This operation is idempotent - no error is returned if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// Defaults to application/json since archives are provider payloads.
	ContentType string

	// MaxSize specifies the maximum allowed size in bytes.
	// A value of 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // empty for local storage
}

const defaultContentType = "application/json"

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	// Example: "./storage" or "/var/lib/kerf/archive"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the R2 endpoint derived from AccountID. Used to
	// point at MinIO or another S3-compatible server.
	Endpoint string

	// Region is required by the AWS SDK. R2 ignores it. Default: "auto"
	Region string
}

// =============================================================================
// Provider Selection
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// New builds the storage provider named by provider.
func New(provider string, local LocalConfig, r2 R2Config, logger *slog.Logger) (Storage, error) {
	switch provider {
	case ProviderLocal, "":
		return NewLocalStorage(local, logger)
	case ProviderR2:
		return NewR2Storage(r2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}

// =============================================================================
// Key Generation Helpers
// =============================================================================

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// WebhookArchiveKey generates the storage key for a raw webhook payload.
// Format: webhooks/{yyyy}/{mm}/{dd}/{eventID}.json
//
// Keys are partitioned by receive date so lifecycle rules can expire whole
// prefixes.
//
// Example: "webhooks/2026/03/01/evt_1Nv0FGQ9RKHgCVdK.json"
func WebhookArchiveKey(eventID string, receivedAt time.Time) string {
	safe := unsafeKeyChars.ReplaceAllString(eventID, "_")
	return fmt.Sprintf("webhooks/%s/%s.json", receivedAt.UTC().Format("2006/01/02"), safe)
}

// TemplateKey generates the storage key for a downloadable template.
// Format: templates/{templateID}.svg
func TemplateKey(templateID string) string {
	return fmt.Sprintf("templates/%s.svg", unsafeKeyChars.ReplaceAllString(templateID, "_"))
}
