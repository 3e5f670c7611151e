// Package attachment persists uploaded message files under a per-conversation namespace
// and serves them back under /uploads/.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"
)

// ErrRejected marks uploads refused by Policy or by a backend size cap.
var ErrRejected = errors.New("attachment: rejected")

// URLPrefix is the public path every stored object is addressed under.
const URLPrefix = "/uploads/"

// profilesDir keeps stored URLs in the legacy /uploads/profiles/conversation_{id}/{name} shape.
const profilesDir = "profiles"

// File is one upload. Body is read exactly once by Store.Put.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Object describes a stored file.
type Object struct {
	Key         string
	URL         string
	Name        string
	ContentType string
	Size        int64
}

// Store persists files. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, namespace string, f File) (Object, error)
	// Handler serves stored objects; it is mounted at URLPrefix.
	Handler() http.Handler
}

// Namespace is the storage namespace of a conversation's attachments.
func Namespace(conversationID string) string { return "conversation_" + conversationID }

// ObjectKey returns the key of name inside namespace, or an error when either part
// would escape its directory.
func ObjectKey(namespace, name string) (string, error) {
	namespace = strings.TrimSpace(namespace)
	name = cleanName(name)
	if namespace == "" || strings.ContainsAny(namespace, `/\`) || strings.Contains(namespace, "..") {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	if name == "" {
		return "", errors.New("invalid file name")
	}
	return path.Join(profilesDir, namespace, name), nil
}

// URLFor returns the public URL of key.
func URLFor(key string) string { return URLPrefix + key }

// cleanName keeps only the last path element of a client-supplied name.
func cleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = path.Base(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

// DefaultAllowedTypes is the upload MIME allowlist.
var DefaultAllowedTypes = []string{
	"image/jpeg", "image/png", "image/webp", "image/gif",
	"image/avif", "image/svg+xml", "image/heic", "image/heif",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"application/zip",
	"application/x-rar-compressed",
}

// Policy bounds what a single message may carry.
type Policy struct {
	MaxFileBytes int64
	MaxFiles     int
	AllowedTypes []string
}

// DefaultPolicy allows 5 files of at most 10 MiB each from DefaultAllowedTypes.
func DefaultPolicy() Policy {
	return Policy{
		MaxFileBytes: 10 << 20,
		MaxFiles:     5,
		AllowedTypes: DefaultAllowedTypes,
	}
}

// Allowed reports whether contentType (parameters ignored) is on the allowlist.
func (p Policy) Allowed(contentType string) bool {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.ToLower(strings.TrimSpace(ct))
	return ct != "" && slices.Contains(p.AllowedTypes, ct)
}

// Filter drops files whose type is not allowed (silently, like the legacy upload filter)
// and rejects the rest when there are too many or one is too large.
func (p Policy) Filter(files []File) ([]File, error) {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if !p.Allowed(f.ContentType) {
			continue
		}
		if p.MaxFileBytes > 0 && f.Size > p.MaxFileBytes {
			return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrRejected, f.Name, p.MaxFileBytes)
		}
		out = append(out, f)
	}
	if p.MaxFiles > 0 && len(out) > p.MaxFiles {
		return nil, fmt.Errorf("%w: at most %d files", ErrRejected, p.MaxFiles)
	}
	return out, nil
}

// limitBody caps a body at max bytes and reports ErrRejected past it.
func limitBody(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &cappedReader{r: io.LimitReader(r, max+1), left: max}
}

type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, fmt.Errorf("%w: file exceeds size limit", ErrRejected)
	}
	return n, err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
