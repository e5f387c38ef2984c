package multireq

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// attachment is one file upload in the body, already keyed by its final
// field name.
type attachment struct {
	field string
	path  string
}

// AttachFile uploads the file at path under field. Paths that are not
// regular files are logged and skipped.
func (r *Request) AttachFile(field, path string) *Request {
	if err := checkFile(path); err != nil {
		r.logger.Warn("skipping attachment", slog.String("url", r.url), slog.String("path", path), slog.Any("error", err))
		return r
	}
	r.setAttachment(field, path)
	return r
}

// AttachFiles uploads several files under field, as "field[0]", "field[1]"
// and so on. Invalid paths are logged and skipped; indexes follow the
// position in paths.
func (r *Request) AttachFiles(field string, paths ...string) *Request {
	for i, p := range paths {
		if err := checkFile(p); err != nil {
			r.logger.Warn("skipping attachment", slog.String("url", r.url), slog.String("path", p), slog.Any("error", err))
			continue
		}
		r.setAttachment(field+"["+strconv.Itoa(i)+"]", p)
	}
	return r
}

// Files returns the attachments as field name to path.
func (r *Request) Files() map[string]string {
	m := make(map[string]string, len(r.files))
	for _, a := range r.files {
		m[a.field] = a.path
	}
	return m
}

func (r *Request) setAttachment(field, path string) {
	for i, a := range r.files {
		if a.field == field {
			r.files[i].path = path
			return
		}
	}
	r.files = append(r.files, attachment{field: field, path: path})
}

func checkFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadFile, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrBadFile, path)
	}
	return nil
}

func checkCookieFile(path string, writable bool) error {
	if path == "" {
		return fmt.Errorf("%w: empty cookie file path", ErrInvalidArgument)
	}
	if writable {
		dir := filepath.Dir(path)
		fi, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, dir)
		}
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}
