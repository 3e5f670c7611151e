package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures an S3-compatible backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIOStore keeps attachments in an S3 bucket and proxies reads through Handler,
// so URLs keep the /uploads/... shape whichever backend wrote them.
type MinIOStore struct {
	client       *minio.Client
	bucket       string
	maxFileBytes int64
	log          *slog.Logger
}

// NewMinIOStore connects to the endpoint and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, maxFileBytes int64, log *slog.Logger) (*MinIOStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("attachment: missing bucket")
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("attachment: minio client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &MinIOStore{client: cl, bucket: cfg.Bucket, maxFileBytes: maxFileBytes, log: log}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("attachment: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("attachment: make bucket: %w", err)
	}
	s.log.Info("attachment.bucket.created", "bucket", s.bucket)
	return nil
}

// Put uploads f under profiles/{namespace}/{name}.
func (s *MinIOStore) Put(ctx context.Context, namespace string, f File) (Object, error) {
	key, err := ObjectKey(namespace, f.Name)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if f.Body == nil {
		return Object{}, fmt.Errorf("%w: empty body", ErrRejected)
	}
	if s.maxFileBytes > 0 && f.Size > s.maxFileBytes {
		return Object{}, fmt.Errorf("%w: file exceeds size limit", ErrRejected)
	}

	size := f.Size
	if size <= 0 {
		size = -1 // unknown; minio streams multipart
	}
	ct := contentTypeOr(f.ContentType)

	info, err := s.client.PutObject(ctx, s.bucket, key, limitBody(f.Body, s.maxFileBytes), size, minio.PutObjectOptions{
		ContentType: ct,
	})
	if err != nil {
		return Object{}, fmt.Errorf("attachment: put %s: %w", key, err)
	}

	s.log.Debug("attachment.put", "backend", "minio", "bucket", s.bucket, "key", key, "bytes", info.Size)

	return Object{
		Key:         key,
		URL:         URLFor(key),
		Name:        cleanName(f.Name),
		ContentType: ct,
		Size:        info.Size,
	}, nil
}

// Handler streams objects from the bucket.
func (s *MinIOStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, URLPrefix)
		if key == "" || strings.HasSuffix(key, "/") || strings.Contains(key, "..") {
			http.NotFound(w, r)
			return
		}

		obj, err := s.client.GetObject(r.Context(), s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			s.writeErr(w, r, key, err)
			return
		}
		defer func() { _ = obj.Close() }()

		st, err := obj.Stat()
		if err != nil {
			s.writeErr(w, r, key, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeOr(st.ContentType))
		w.Header().Set("Content-Length", strconv.FormatInt(st.Size, 10))
		if st.ETag != "" {
			w.Header().Set("ETag", `"`+st.ETag+`"`)
		}
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, obj); err != nil {
			s.log.Info("attachment.get.copy_fail", "key", key, "err", err)
		}
	})
}

func (s *MinIOStore) writeErr(w http.ResponseWriter, r *http.Request, key string, err error) {
	if isMinIONotFound(err) {
		http.NotFound(w, r)
		return
	}
	s.log.Error("attachment.get.fail", "key", key, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*MinIOStore)(nil)
)
