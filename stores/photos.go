package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ValidBlobName accepts a single path element with no traversal.
func ValidBlobName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// DiskPhotos keeps photos as files in a single directory.
type DiskPhotos struct {
	dir string
}

func NewDiskPhotos(dir string) (*DiskPhotos, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskPhotos{dir: dir}, nil
}

func (d *DiskPhotos) Put(_ context.Context, name, _ string, r io.Reader, size int64) error {
	if !ValidBlobName(name) {
		return ErrInvalidName
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short write for %s: %d of %d bytes", name, n, size)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.dir, name))
}

func (d *DiskPhotos) Open(_ context.Context, name string) (*Blob, error) {
	if !ValidBlobName(name) {
		return nil, ErrNotFound
	}
	path := filepath.Join(d.dir, name)

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Blob{ReadCloser: f, Size: info.Size(), ContentType: mt.String()}, nil
}

func (d *DiskPhotos) Delete(_ context.Context, name string) error {
	if !ValidBlobName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MinioPhotos keeps photos as objects in one S3-compatible bucket.
type MinioPhotos struct {
	mc     *minio.Client
	bucket string
}

func NewMinioPhotos(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioPhotos, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioPhotos{mc: mc, bucket: bucket}, nil
}

// EnsureBucket creates the bucket on first start and reports whether it did.
func (m *MinioPhotos) EnsureBucket(ctx context.Context) (bool, error) {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return false, fmt.Errorf("create bucket: %w", err)
	}
	return true, nil
}

func (m *MinioPhotos) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) error {
	if !ValidBlobName(name) {
		return ErrInvalidName
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.mc.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

func (m *MinioPhotos) Open(ctx context.Context, name string) (*Blob, error) {
	if !ValidBlobName(name) {
		return nil, ErrNotFound
	}
	obj, err := m.mc.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return &Blob{ReadCloser: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

func (m *MinioPhotos) Delete(ctx context.Context, name string) error {
	if !ValidBlobName(name) {
		return ErrInvalidName
	}
	return m.mc.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{})
}
