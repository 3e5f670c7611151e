package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes files below Root on the local filesystem.
type LocalStore struct {
	root         string
	maxFileBytes int64
	log          *slog.Logger
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string, maxFileBytes int64, log *slog.Logger) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("attachment: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("attachment: create root: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalStore{root: abs, maxFileBytes: maxFileBytes, log: log}, nil
}

// Root returns the absolute storage directory.
func (s *LocalStore) Root() string { return s.root }

// Put writes f to {root}/profiles/{namespace}/{name}. An existing file with the same
// name is replaced, matching the legacy upload layout.
func (s *LocalStore) Put(ctx context.Context, namespace string, f File) (Object, error) {
	key, err := ObjectKey(namespace, f.Name)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if f.Body == nil {
		return Object{}, fmt.Errorf("%w: empty body", ErrRejected)
	}

	dst := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("attachment: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("attachment: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, limitBody(ctxReader{ctx: ctx, r: f.Body}, s.maxFileBytes))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("attachment: write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return Object{}, fmt.Errorf("attachment: rename %s: %w", key, err)
	}

	s.log.Debug("attachment.put", "backend", "local", "key", key, "bytes", n)

	return Object{
		Key:         key,
		URL:         URLFor(key),
		Name:        filepath.Base(dst),
		ContentType: contentTypeOr(f.ContentType),
		Size:        n,
	}, nil
}

// Handler serves stored files without directory listings.
func (s *LocalStore) Handler() http.Handler {
	fs := http.FileServer(noDirFS{http.Dir(s.root)})
	return http.StripPrefix(strings.TrimSuffix(URLPrefix, "/"), fs)
}

// noDirFS hides directories so /uploads/profiles/ cannot be listed.
type noDirFS struct{ fs http.FileSystem }

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func contentTypeOr(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}
