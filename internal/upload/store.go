// Package upload publishes image bytes to a public asset store. Upload
// failures are never fatal: the Manager logs them and reports an empty URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/card-restore/internal/s3util"
)

// Default endpoint of the card asset service.
const (
	DefaultEndpoint  = "https://tt.36588.com.cn/mcard/common/commonUpload"
	DefaultURLPrefix = "https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/"
	DefaultTimeout   = 180 * time.Second
)

// Object is one image to publish.
type Object struct {
	Data        []byte
	ContentType string
	// DataURI is the base64 data URI of Data, filled in by the Manager.
	DataURI string
}

// AssetStore publishes an object and returns its public URL.
type AssetStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

// StoreFunc adapts a function to AssetStore.
type StoreFunc func(ctx context.Context, obj Object) (string, error)

func (f StoreFunc) Put(ctx context.Context, obj Object) (string, error) {
	return f(ctx, obj)
}

// HTTPStore posts base64 data URIs to the card asset service.
type HTTPStore struct {
	endpoint   string
	prefix     string
	httpClient *http.Client
}

// NewHTTPStore creates an HTTPStore. Returned paths are joined onto prefix.
func NewHTTPStore(endpoint, prefix string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPStore{
		endpoint:   endpoint,
		prefix:     prefix,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type uploadRequest struct {
	Base64Str string `json:"base64Str"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	UserData string `json:"userData"`
	Message  string `json:"message,omitempty"`
}

// Put implements AssetStore.
func (s *HTTPStore) Put(ctx context.Context, obj Object) (string, error) {
	body, err := json.Marshal(uploadRequest{Base64Str: obj.DataURI})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out uploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if !out.Success || out.UserData == "" {
		return "", fmt.Errorf("upload rejected: %s", out.Message)
	}
	return s.prefix + strings.TrimPrefix(out.UserData, "/"), nil
}

// S3Store writes objects to a bucket. URLs are either the public base URL
// joined with the key or, for private buckets, pre-signed GET URLs.
type S3Store struct {
	client  s3util.PutObjectAPI
	bucket  string
	prefix  string
	baseURL string
	now     func() time.Time

	presigner s3util.PresignGetAPI
	expiry    time.Duration
}

// NewS3Store creates an S3Store. Keys are placed under keyPrefix and URLs
// are baseURL joined with the key.
func NewS3Store(client s3util.PutObjectAPI, bucket, keyPrefix, baseURL string) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  keyPrefix,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

// WithPresignedURLs makes Put return pre-signed GET URLs valid for expiry
// instead of public URLs.
func (s *S3Store) WithPresignedURLs(p s3util.PresignGetAPI, expiry time.Duration) *S3Store {
	s.presigner = p
	s.expiry = expiry
	return s
}

// Put implements AssetStore.
func (s *S3Store) Put(ctx context.Context, obj Object) (string, error) {
	key := s3util.ObjectKey(s.prefix, extensionFor(obj.ContentType), s.now())
	if err := s3util.PutImage(ctx, s.client, s.bucket, key, obj.Data, obj.ContentType); err != nil {
		return "", err
	}
	if s.presigner != nil {
		return s3util.GeneratePresignedURL(ctx, s.presigner, s.bucket, key, s.expiry)
	}
	return s.baseURL + "/" + key, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
