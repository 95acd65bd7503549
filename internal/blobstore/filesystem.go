package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemDriver is an optional dev/test backend. It shards by two hex
// prefixes of the key's final path segment to keep directories small,
// grounded on the original storage/filesystem.rs's blob_path sharding.
type FilesystemDriver struct {
	root string
}

func NewFilesystemDriver(root string) (*FilesystemDriver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %q: %w", root, err)
	}
	return &FilesystemDriver{root: root}, nil
}

func (d *FilesystemDriver) path(key string) string {
	base := filepath.Base(key)
	shard := sanitizeShard(base)
	if len(shard) < 4 {
		return filepath.Join(d.root, filepath.FromSlash(key))
	}
	return filepath.Join(d.root, shard[0:2], shard[2:4], filepath.FromSlash(key))
}

func sanitizeShard(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func (d *FilesystemDriver) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (d *FilesystemDriver) PutStreaming(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return d.Put(ctx, key, r, size, contentType)
}

func (d *FilesystemDriver) Get(_ context.Context, key string) (io.ReadCloser, bool, error) {
	f, err := os.Open(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (d *FilesystemDriver) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (d *FilesystemDriver) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (d *FilesystemDriver) Stat(_ context.Context, key string) (Metadata, bool, error) {
	info, err := os.Stat(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	return Metadata{Size: info.Size(), CreatedAt: info.ModTime()}, true, nil
}

func (d *FilesystemDriver) Health(_ context.Context) error {
	_, err := os.Stat(d.root)
	return err
}
