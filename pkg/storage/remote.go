package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/mwantia/imghost/pkg/db/models"
)

// Remote stores images in an S3-compatible bucket (S3, R2, MinIO)
type Remote struct {
	client  *minio.Client
	cfg     config.StorageRemoteConfig
	host    string
	timeout time.Duration
}

var _ Backend = (*Remote)(nil)

func NewRemote(cfg config.StorageRemoteConfig) (*Remote, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("remote storage is not configured: %w", ErrBackendUnavailable)
	}

	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client for '%s': %w", host, err)
	}

	return &Remote{
		client:  client,
		cfg:     cfg,
		host:    host,
		timeout: cfg.TimeoutDuration(),
	}, nil
}

// parseEndpoint accepts "host[:port]" or a full url; plain hosts default to https.
func parseEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid remote endpoint '%s': %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid remote endpoint '%s': missing host", endpoint)
	}
	return u.Host, u.Scheme != "http", nil
}

func (r *Remote) Kind() models.Storage {
	return models.StorageRemote
}

func (r *Remote) Available() bool {
	return r != nil && r.client != nil && r.cfg.Configured()
}

func (r *Remote) Put(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.PutObject(ctx, r.cfg.Bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return fmt.Errorf("%w: put '%s' to bucket '%s': %v", ErrTransientBackend, key, r.cfg.Bucket, err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.client.RemoveObject(ctx, r.cfg.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("%w: delete '%s' from bucket '%s': %v", ErrTransientBackend, key, r.cfg.Bucket, err)
	}
	return nil
}

func (r *Remote) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.StatObject(ctx, r.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat '%s': %v", ErrTransientBackend, key, err)
	}
	return true, nil
}

// URL returns https://<custom_domain>/<key> or https://<bucket>.<endpoint-host>/<key>.
func (r *Remote) URL(baseURL, key string) string {
	if domain := strings.TrimRight(r.cfg.CustomDomain, "/"); domain != "" {
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		return domain + "/" + key
	}
	return fmt.Sprintf("https://%s.%s/%s", r.cfg.Bucket, r.host, key)
}

// Probe writes and removes a small object to verify credentials and bucket access.
func (r *Remote) Probe(ctx context.Context) error {
	key := fmt.Sprintf("test/probe-%d.txt", time.Now().UnixNano())
	body := []byte("imghost connectivity probe")

	if err := r.Put(ctx, key, bytes.NewReader(body), int64(len(body)), PutOptions{ContentType: "text/plain"}); err != nil {
		return err
	}
	return r.Delete(ctx, key)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
