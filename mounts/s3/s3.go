// Package s3 exposes the objects of an S3 bucket as blobs. Key prefixes
// delimited by '/' show up as folders.
package s3

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

type S3MountConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`

	// Notifications subscribes through MinIO bucket notifications instead of
	// polling. Plain S3 does not offer them.
	Notifications bool          `mapstructure:"notifications"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type S3Mount struct {
	mu sync.RWMutex

	client *minio.Client
	config S3MountConfig
	prefix string
	logger *log.Logger
}

func NewS3Mount(config S3MountConfig, logger *log.Logger) (*S3Mount, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket must be set", data.ErrInvalid)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, dataerrors.BackingStore(err, "s3")
	}

	prefix := strings.Trim(config.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Mount{
		client: client,
		config: config,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Returns the identifier name defined for this backend
func (*S3Mount) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (sm *S3Mount) Open(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	exists, err := sm.client.BucketExists(ctx, sm.config.Bucket)
	if err != nil {
		return dataerrors.BackingStore(err, sm.Name())
	}
	if !exists {
		return dataerrors.BackingStore(fmt.Errorf("bucket '%s' does not exist", sm.config.Bucket), sm.Name())
	}
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sm *S3Mount) Close(ctx context.Context) error {
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sm *S3Mount) GetCapabilities() *backend.BackendCapabilities {
	caps := []backend.BackendCapability{backend.CapabilityPersistent}
	if sm.config.Notifications {
		caps = append(caps, backend.CapabilityWatch, backend.CapabilityRemoteWatch)
	}
	return &backend.BackendCapabilities{
		Capabilities:    caps,
		MaxDocumentSize: 5497558138880, // 5 TB
	}
}

// Resolve always yields a handle: a bucket has no directories to check, so
// existence is only known once the handle is read.
func (sm *S3Mount) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	key, name, err := sm.keyOf(path)
	if err != nil {
		return nil, err
	}
	return &object{mount: sm, key: key, name: name, root: data.Clean(path) == ""}, nil
}

// keyOf maps an encoded path onto an object key below the configured prefix.
func (sm *S3Mount) keyOf(path string) (string, string, error) {
	segments := data.Split(path)
	names := make([]string, 0, len(segments))
	for _, segment := range segments {
		name, err := data.DecodeSegment(segment)
		if err != nil {
			return "", "", err
		}
		if strings.Contains(name, "/") {
			return "", "", dataerrors.InvalidPath(nil, path)
		}
		names = append(names, name)
	}

	name := ""
	if len(names) > 0 {
		name = names[len(names)-1]
	}
	return sm.prefix + strings.Join(names, "/"), name, nil
}

// dirPrefix is the listing prefix for the children of key.
func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}
