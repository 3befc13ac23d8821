// Package storage resolves image file names against a dataset root that is
// either a local directory or an S3 prefix.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Source reads images relative to a root. Names are slash-separated.
// Stat and Open report missing files with an error matching fs.ErrNotExist.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (int64, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Root() string
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".gif":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// S3Config holds connection settings for S3-compatible stores.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewSource returns an S3Source for "s3://bucket/prefix" roots and a
// LocalSource otherwise.
func NewSource(ctx context.Context, root string, cfg S3Config) (Source, error) {
	if bucket, prefix, ok := ParseS3URI(root); ok {
		return NewS3Source(ctx, bucket, prefix, cfg)
	}
	return NewLocalSource(root)
}

// ParseS3URI splits "s3://bucket/some/prefix" into bucket and prefix.
func ParseS3URI(uri string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, strings.Trim(prefix, "/"), true
}
