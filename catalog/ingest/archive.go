package ingest

import (
	"context"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// Archive keeps a copy of each downloaded source.
type Archive interface {
	// Put stores the file at localPath under object and returns its location.
	Put(ctx context.Context, object, localPath string) (string, error)
	// Remove deletes object. A missing object is not an error.
	Remove(ctx context.Context, object string) error
}

// ObjectName is where a record's source is archived. Add and update write
// the same object so reloads overwrite the previous copy.
func ObjectName(rec *meta.Record) string {
	return path.Join("sources", rec.DatasetName, rec.Key)
}

// NopArchive discards sources.
type NopArchive struct{}

func (NopArchive) Put(context.Context, string, string) (string, error) { return "", nil }
func (NopArchive) Remove(context.Context, string) error                { return nil }

// ObjectArchive stores sources in an S3-compatible bucket.
type ObjectArchive struct {
	client *minio.Client
	bucket string
	region string
	logger *zap.SugaredLogger

	mu    sync.Mutex
	ready bool
}

// NewArchive returns the archive configured by cfg, or NopArchive when
// storage is disabled.
func NewArchive(cfg am.StorageConfig, log *zap.SugaredLogger) (Archive, error) {
	if !cfg.Enabled {
		return NopArchive{}, nil
	}
	return NewObjectArchive(cfg, log)
}

// NewObjectArchive connects to the bucket in cfg. The bucket is created on
// first use if it does not exist.
func NewObjectArchive(cfg am.StorageConfig, log *zap.SugaredLogger) (*ObjectArchive, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("storage endpoint is required"),
			"set storage.endpoint (host:port) or disable storage")
	}
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequestError("storage bucket is required")
	}
	if log == nil {
		log = logger.Logger
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create storage client for %s", cfg.Endpoint)
	}

	return &ObjectArchive{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: log.Named("archive"),
	}, nil
}

func (a *ObjectArchive) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %s", a.bucket)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return errors.Wrapf(err, "failed to create bucket %s", a.bucket)
		}
		a.logger.Infow("Bucket created", "bucket", a.bucket)
	}
	a.ready = true
	return nil
}

// Put uploads localPath to object.
func (a *ObjectArchive) Put(ctx context.Context, object, localPath string) (string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	info, err := a.client.FPutObject(ctx, a.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to archive %s", object)
	}
	a.logger.Debugw("Source archived", logger.FieldObject, object, "bytes", info.Size)
	return a.bucket + "/" + object, nil
}

// Remove deletes object from the bucket.
func (a *ObjectArchive) Remove(ctx context.Context, object string) error {
	err := a.client.RemoveObject(ctx, a.bucket, object, minio.RemoveObjectOptions{})
	if err == nil || isNoSuchKey(err) {
		return nil
	}
	return errors.Wrapf(err, "failed to remove %s", object)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
