package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// EncodeBody renders the descriptor's fields as a request body. Without
// fields it returns a nil body. Multipart descriptors upload File fields as
// file parts; otherwise fields are URL-encoded in order.
func EncodeBody(d *Descriptor) ([]byte, string, error) {
	if len(d.Fields) == 0 {
		return nil, "", nil
	}
	if !d.Multipart {
		var sb strings.Builder
		for i, f := range d.Fields {
			if i > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(f.Name))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(FormatValue(f.Value)))
		}
		return []byte(sb.String()), formContentType, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range d.Fields {
		file, ok := f.Value.(File)
		if !ok {
			if err := w.WriteField(f.Name, FormatValue(f.Value)); err != nil {
				return nil, "", err
			}
			continue
		}
		if err := writeFilePart(w, f.Name, file.Path()); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

// FormatValue renders a scalar field value. nil becomes the empty string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case File:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// headerLine splits a "Name: Value" header line.
func headerLine(line string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	return name, strings.TrimSpace(value), name != ""
}
