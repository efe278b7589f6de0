package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Dir stores blobs as files under a root directory and references them with
// file URLs.
type Dir struct {
	root   string
	logger *zap.Logger
}

// NewDir creates a directory gateway rooted at root.
func NewDir(root string, logger *zap.Logger) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: abs, logger: logger.Named("blob.dir")}, nil
}

// Upload implements Gateway.
func (d *Dir) Upload(ctx context.Context, data []byte, name string) (string, error) {
	return d.write(ctx, name, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
}

// UploadFile implements Gateway.
func (d *Dir) UploadFile(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrUploadFailed, localPath, err)
	}
	defer f.Close()
	return d.write(ctx, name, func(w io.Writer) (int64, error) {
		return io.Copy(w, f)
	})
}

func (d *Dir) write(ctx context.Context, name string, fill func(io.Writer) (int64, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	key, err := cleanName(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	n, err := fill(tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: write %s: %v", ErrUploadFailed, key, err)
	}
	d.logger.Info("blob stored", zap.String("key", key), zap.Int64("bytes", n))

	if _, err := os.Stat(dst); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrReferenceResolutionFailed, key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}
