package compose

import (
	"context"
	"fmt"
	"io"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/client"
	"github.com/blacktop/snspost/internal/logutil"
)

// Uploader sends a batch of files to the backend's upload endpoint.
type Uploader interface {
	Upload(ctx context.Context, files []client.UploadFile) (*api.UploadResponse, error)
}

// Candidate is a local file offered for attachment.
type Candidate struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// Attacher screens and uploads media, then records the results on a State.
type Attacher struct {
	state    *State
	uploader Uploader
}

// NewAttacher binds an attacher to a draft and an upload transport.
func NewAttacher(state *State, uploader Uploader) *Attacher {
	return &Attacher{state: state, uploader: uploader}
}

// Screen runs the local checks for a batch: the count ceiling first, then
// the media type of every file. Nothing is sent.
func Screen(current int, files []Candidate) error {
	if err := CheckAttach(current, len(files)); err != nil {
		return err
	}
	for _, f := range files {
		if !SupportedMediaType(f.MimeType) {
			return &UnsupportedMediaTypeError{Name: f.Name, MimeType: f.MimeType}
		}
	}
	return nil
}

// Attach uploads files as one batch and appends the stored references in
// submission order. A rejected batch or failed upload leaves the draft's
// media unchanged.
func (a *Attacher) Attach(ctx context.Context, files []Candidate) ([]MediaRef, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := Screen(a.state.MediaCount(), files); err != nil {
		return nil, err
	}

	uploads := make([]client.UploadFile, 0, len(files))
	for _, f := range files {
		uploads = append(uploads, client.UploadFile{Name: f.Name, ContentType: f.MimeType, Body: f.Body})
	}
	logutil.Debugf("uploading media: count=%d", len(uploads))
	resp, err := a.uploader.Upload(ctx, uploads)
	if err != nil {
		return nil, &ActionError{Action: "upload", Err: err}
	}
	if len(resp.Files) != len(files) {
		return nil, &ActionError{Action: "upload", Err: fmt.Errorf("backend stored %d of %d files", len(resp.Files), len(files))}
	}

	refs := make([]MediaRef, 0, len(resp.Files))
	for _, f := range resp.Files {
		refs = append(refs, MediaRef{Path: f.Path, MimeType: f.Type, DisplayName: f.Name})
	}
	if err := a.state.AppendMedia(refs...); err != nil {
		return nil, err
	}
	logutil.Debugf("media attached: count=%d total=%d", len(refs), a.state.MediaCount())
	return refs, nil
}

// Remove detaches the media at index i.
func (a *Attacher) Remove(i int) error {
	return a.state.RemoveMedia(i)
}
