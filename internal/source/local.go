package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stacdex/stacdex/internal/errors"
)

// LocalSource reads STAC documents from the local filesystem.
// It handles file:// URIs and bare paths.
type LocalSource struct{}

// NewLocalSource creates a local filesystem source.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

// CanHandle reports whether uri is a local path or file:// URI.
func (l *LocalSource) CanHandle(uri string) bool {
	s := Scheme(uri)
	return s == "file"
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// GetAsString reads the full file at uri.
func (l *LocalSource) GetAsString(ctx context.Context, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(localPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewUriNotFound(uri)
		}
		return "", errors.NewSourceUnavailable(uri, err)
	}
	return string(data), nil
}

// GetToFile copies the file at uri to path.
func (l *LocalSource) GetToFile(ctx context.Context, uri, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewUriNotFound(uri)
		}
		return errors.NewSourceUnavailable(uri, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return nil
}

// ListItems lists the files directly under a directory URI.
func (l *LocalSource) ListItems(ctx context.Context, uri string, limit int) ([]string, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dir := localPath(uri)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewUriNotFound(uri)
		}
		return nil, nil, errors.NewSourceUnavailable(uri, err)
	}

	var uris []string
	var problems []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if limit > 0 && len(uris) >= limit {
			break
		}
		uris = append(uris, JoinURI(uri, entry.Name()))
	}
	return uris, problems, nil
}

// LastModified stats the file at uri.
func (l *LocalSource) LastModified(ctx context.Context, uri string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(localPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, errors.NewUriNotFound(uri)
		}
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}
	return info.ModTime(), nil
}

// ListDirs lists the immediate child directories under a directory URI.
func (l *LocalSource) ListDirs(ctx context.Context, uri string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(localPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, JoinURI(uri, entry.Name())+"/")
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// DeletePrefix removes the directory at uri and everything under it.
func (l *LocalSource) DeletePrefix(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(localPath(strings.TrimSuffix(uri, "/"))); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return nil
}
