package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const partialPrefix = ".partial-"

// LocalStorage keeps objects as files below a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage opens root, creating it when needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, opError("open", root, err)
	}
	return &LocalStorage{root: root}, nil
}

func (l *LocalStorage) file(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Put streams r into a partial file next to the destination and renames
// it into place.
func (l *LocalStorage) Put(ctx context.Context, key string, r io.Reader) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return opError("put", key, err)
	}
	dest := l.file(key)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return opError("put", key, err)
	}
	f, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return opError("put", key, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return opError("put", key, err)
	}
	if err = f.Sync(); err != nil {
		return opError("put", key, err)
	}
	if err = f.Close(); err != nil {
		return opError("put", key, err)
	}
	if err = os.Rename(f.Name(), dest); err != nil {
		return opError("put", key, err)
	}
	return nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, opError("get", key, err)
	}
	f, err := os.Open(l.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, opError("get", key, ErrNotFound)
	}
	if err != nil {
		return nil, opError("get", key, err)
	}
	return f, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return opError("delete", key, err)
	}
	if err := os.Remove(l.file(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return opError("delete", key, err)
	}
	return nil
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), partialPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, opError("list", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
