package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/google/uuid"
)

// UploadDir stores uploaded media and maps their public paths back to files.
type UploadDir string

var errDisallowed = errors.New("file type not allowed")

// Save writes one multipart file as <uuid>_<name> and describes it.
func (d UploadDir) Save(fh *multipart.FileHeader) (api.UploadedFile, error) {
	name := safeName(fh.Filename)
	if !xpost.AllowedMedia(name) {
		return api.UploadedFile{}, fmt.Errorf("%s: %w", fh.Filename, errDisallowed)
	}
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return api.UploadedFile{}, fmt.Errorf("create upload dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return api.UploadedFile{}, err
	}
	defer src.Close()

	stored := uuid.NewString() + "_" + name
	dst, err := os.OpenFile(filepath.Join(string(d), stored), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return api.UploadedFile{}, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filepath.Join(string(d), stored)) //nolint:errcheck
		return api.UploadedFile{}, fmt.Errorf("write %s: %w", name, err)
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = xpost.MediaType(name)
	}
	return api.UploadedFile{
		Path: api.PathUploads + stored,
		Type: mimeType,
		Name: name,
		Size: n,
	}, nil
}

// Resolve maps a stored media path (usually /uploads/<file>) to a readable
// file inside the directory.
func (d UploadDir) Resolve(stored string) (string, bool) {
	base := path.Base(filepath.ToSlash(strings.TrimSpace(stored)))
	if base == "." || base == "/" || base == ".." {
		return "", false
	}
	local := filepath.Join(string(d), base)
	info, err := os.Stat(local)
	if err != nil || info.IsDir() {
		return "", false
	}
	return local, true
}

// Remove deletes a stored upload. Missing files are ignored.
func (d UploadDir) Remove(stored string) {
	local, ok := d.Resolve(stored)
	if !ok {
		return
	}
	if err := os.Remove(local); err != nil {
		logutil.Warnf("remove upload %s: %v", stored, err)
	}
}

// safeName keeps letters, digits, dot, dash and underscore.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}
