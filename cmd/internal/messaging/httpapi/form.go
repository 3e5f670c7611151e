package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"messenger/cmd/internal/attachment"
)

const defaultMaxUploadBytes = 64 << 20

// sendForm is the decoded body of a send request: multipart, urlencoded or JSON.
type sendForm struct {
	values  url.Values
	files   []attachment.File
	closers []io.Closer
	mf      *multipart.Form
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (*sendForm, error) {
	form := &sendForm{values: url.Values{}}
	if r.Body == nil {
		return form, nil
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
		form.mf = r.MultipartForm
		form.values = r.MultipartForm.Value
		for _, field := range []string{"files", "files[]"} {
			for _, fh := range r.MultipartForm.File[field] {
				f, err := fh.Open()
				if err != nil {
					form.close()
					return nil, err
				}
				form.closers = append(form.closers, f)
				form.files = append(form.files, attachment.File{
					Name:        fh.Filename,
					ContentType: fh.Header.Get("Content-Type"),
					Size:        fh.Size,
					Body:        f,
				})
			}
		}
	case "application/json":
		var raw map[string]json.RawMessage
		if err := decodeJSON(w, r, maxJSONBytes, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			form.values.Set(k, jsonFieldText(v))
		}
	default:
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		form.values = r.PostForm
	}
	return form, nil
}

// maxUploadBytes leaves room for files the type filter drops after parsing.
func (h *Handler) maxUploadBytes() int64 {
	if h.policy.MaxFileBytes <= 0 || h.policy.MaxFiles <= 0 {
		return defaultMaxUploadBytes
	}
	return 2*int64(h.policy.MaxFiles)*h.policy.MaxFileBytes + multipartOverrun
}

func (f *sendForm) close() {
	if f == nil {
		return
	}
	for _, c := range f.closers {
		_ = c.Close()
	}
	f.closers = nil
	if f.mf != nil {
		_ = f.mf.RemoveAll()
	}
}

func (f *sendForm) value(key string) string {
	return strings.TrimSpace(f.values.Get(key))
}

// optional returns nil when key is absent so the service can tell "missing" from "empty".
func (f *sendForm) optional(key string) *string {
	if _, ok := f.values[key]; !ok {
		return nil
	}
	v := f.values.Get(key)
	return &v
}

// recipients accepts the legacy misspelled field name first.
func (f *sendForm) recipients() string {
	if v := f.value("recipents"); v != "" {
		return v
	}
	return f.value("recipients")
}

// jsonFieldText turns a JSON string into its text and keeps any other value as raw JSON,
// which is what ParseRecipients and ParseUserRef expect.
func jsonFieldText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if string(v) == "null" {
		return ""
	}
	return string(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
