// Package server is the reference HTTP backend: it lists targets, accepts
// uploads, delivers posts through the configured connectors and stores
// scheduled posts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/compose"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/scheduled"
	"github.com/blacktop/snspost/internal/scheduler"
	"github.com/blacktop/snspost/internal/store"
	"github.com/blacktop/snspost/internal/xpost"
)

const maxUploadBytes = 256 << 20

// Checker runs one scheduler pass on demand.
type Checker interface {
	RunOnce(ctx context.Context) (scheduler.Report, error)
}

// Deps are the server's collaborators.
type Deps struct {
	Store     *store.Store
	Registry  *xpost.Registry
	Checker   Checker
	Uploads   UploadDir
	Location  *time.Location
	Now       func() time.Time
	ReadLimit int64
}

// Server is the HTTP backend. Build it with New and run it with
// ListenAndServe, or mount Handler in a test server.
type Server struct {
	deps    Deps
	mux     *http.ServeMux
	httpSrv *http.Server
}

// New wires every route. Zero Location, Now and ReadLimit fall back to
// time.Local, time.Now and a 256 MiB body limit.
func New(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ReadLimit <= 0 {
		deps.ReadLimit = maxUploadBytes
	}
	mux := http.NewServeMux()
	s := &Server{
		deps: deps,
		mux:  mux,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc(api.PathPlatforms, s.platformsHandler)
	mux.HandleFunc(api.PathCharacterLimits, s.limitsHandler)
	mux.HandleFunc(api.PathPost, s.postHandler)
	mux.HandleFunc(api.PathUpload, s.uploadHandler)
	mux.HandleFunc(api.PathPostWithMedia, s.postWithMediaHandler)
	mux.HandleFunc(api.PathSchedule, s.scheduleHandler)
	mux.HandleFunc(api.PathScheduledPosts, s.scheduledPostsHandler)
	mux.HandleFunc(api.PathDeleteScheduledPost, s.deleteScheduledPostHandler)
	mux.HandleFunc(api.PathForceCheckScheduled, s.forceCheckHandler)
	mux.HandleFunc(api.PathSetPostNow, s.setPostNowHandler)
	mux.Handle(api.PathUploads, http.StripPrefix(api.PathUploads, http.FileServer(http.Dir(string(deps.Uploads)))))
	return s
}

// Handler exposes the routes, mostly for httptest.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logutil.Infof("listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) platformsHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Registry.Platforms())
}

func (s *Server) limitsHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Registry.Limits())
}

func (s *Server) postHandler(w http.ResponseWriter, r *http.Request) {
	s.deliver(w, r, false)
}

func (s *Server) postWithMediaHandler(w http.ResponseWriter, r *http.Request) {
	s.deliver(w, r, true)
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request, withMedia bool) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	req, ok := s.decodePost(w, r)
	if !ok {
		return
	}
	targets := targetTexts(req)
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, "no target selected")
		return
	}

	var media []string
	if withMedia {
		if len(req.MediaFiles) > compose.MaxMedia {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d media files", compose.MaxMedia))
			return
		}
		for _, stored := range req.MediaFiles {
			local, ok := s.deps.Uploads.Resolve(stored)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("media %s not found", stored))
				return
			}
			media = append(media, local)
		}
	}

	results := s.deps.Registry.Deliver(r.Context(), targets, media, nil)
	writeJSON(w, http.StatusOK, api.PostResponse{Success: xpost.AllSucceeded(results), Results: results})
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.ReadLimit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Error: "no files sent"})
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	headers := r.MultipartForm.File[api.UploadField]
	if len(headers) == 0 || headers[0].Filename == "" {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Error: "no files selected"})
		return
	}
	if len(headers) > compose.MaxMedia {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{Error: fmt.Sprintf("at most %d files per upload", compose.MaxMedia)})
		return
	}

	var rejected []string
	for _, fh := range headers {
		if !xpost.AllowedMedia(safeName(fh.Filename)) {
			rejected = append(rejected, fh.Filename)
		}
	}
	if len(rejected) > 0 {
		writeJSON(w, http.StatusBadRequest, api.UploadResponse{
			Error: fmt.Sprintf("file type not allowed: %s", strings.Join(rejected, ", ")),
		})
		return
	}

	// the batch is stored whole or not at all
	files := make([]api.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := s.deps.Uploads.Save(fh)
		if err != nil {
			logutil.Errorf("upload %s: %v", fh.Filename, err)
			for _, done := range files {
				s.deps.Uploads.Remove(done.Path)
			}
			writeJSON(w, http.StatusInternalServerError, api.UploadResponse{Error: "could not store uploaded files"})
			return
		}
		files = append(files, f)
	}
	writeJSON(w, http.StatusOK, api.UploadResponse{
		Success: true,
		Message: fmt.Sprintf("%d file(s) uploaded", len(files)),
		Files:   files,
	})
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	req, ok := s.decodePost(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ScheduledTime) == "" {
		writeError(w, http.StatusBadRequest, "scheduled_time is required")
		return
	}
	at, ok := scheduled.ParseTime(req.ScheduledTime, s.deps.Location)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scheduled_time %q", req.ScheduledTime))
		return
	}
	if !at.After(s.deps.Now()) {
		writeError(w, http.StatusBadRequest, "scheduled_time is in the past")
		return
	}

	selected := map[string]api.TargetContent{}
	for id, tc := range req.Targets {
		if tc.Selected {
			selected[id] = tc
		}
	}
	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "no target selected")
		return
	}

	content := ""
	if req.Content != nil {
		content = *req.Content
	}
	id, err := s.deps.Store.Add(r.Context(), store.Post{
		Content:     content,
		Targets:     selected,
		ScheduledAt: at,
		MediaFiles:  req.MediaFiles,
		PostMode:    req.PostMode,
	})
	if err != nil {
		logutil.Errorf("schedule: %v", err)
		writeError(w, http.StatusInternalServerError, "could not store scheduled post")
		return
	}
	logutil.Infof("scheduled post %d for %s", id, at.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusOK, api.ScheduleResponse{
		Success:       true,
		Message:       "post scheduled",
		PostID:        id,
		ScheduledTime: at.UTC().Format(time.RFC3339),
	})
}

func (s *Server) scheduledPostsHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	posts, err := s.deps.Store.List(r.Context())
	if err != nil {
		logutil.Errorf("list scheduled posts: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load scheduled posts")
		return
	}
	out := make([]api.ScheduledPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, toScheduledPost(p))
	}
	writeJSON(w, http.StatusOK, api.ScheduledPostsResponse{Success: true, Posts: out})
}

func (s *Server) deleteScheduledPostHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodDelete) {
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, api.PathDeleteScheduledPost)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid post id %q", raw))
		return
	}
	if err := s.deps.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("scheduled post %d not found", id))
			return
		}
		logutil.Errorf("delete scheduled post %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not delete scheduled post")
		return
	}
	logutil.Infof("scheduled post %d deleted", id)
	writeJSON(w, http.StatusOK, api.StatusResponse{Success: true, Message: fmt.Sprintf("scheduled post %d deleted", id)})
}

// setPostNowHandler makes a scheduled post due immediately. The next
// scheduler pass picks it up.
func (s *Server) setPostNowHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, api.PathSetPostNow)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid post id %q", raw))
		return
	}
	now := s.deps.Now()
	if err := s.deps.Store.UpdateScheduledAt(r.Context(), id, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("scheduled post %d not found", id))
			return
		}
		logutil.Errorf("set scheduled post %d due: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not update scheduled post")
		return
	}
	logutil.Infof("scheduled post %d now due at %s", id, now.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, api.StatusResponse{Success: true, Message: fmt.Sprintf("scheduled post %d is due now", id)})
}

func (s *Server) forceCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	if s.deps.Checker == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	rep, err := s.deps.Checker.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{
		Success: true,
		Message: fmt.Sprintf("checked %d due post(s): %d completed, %d failed", rep.Due, rep.Completed, rep.Failed),
	})
}

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request) (api.PostRequest, bool) {
	var req api.PostRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return api.PostRequest{}, false
	}
	if req.PostMode == "" {
		req.PostMode = api.ModeUnified
	}
	if !req.PostMode.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid post_mode %q", req.PostMode))
		return api.PostRequest{}, false
	}
	return req, true
}

// targetTexts resolves the text each selected target receives. Per-target
// text wins; unified requests fall back to the shared content.
func targetTexts(req api.PostRequest) map[string]string {
	out := req.SelectedTargets()
	if req.PostMode == api.ModeUnified && req.Content != nil {
		for id, text := range out {
			if strings.TrimSpace(text) == "" {
				out[id] = *req.Content
			}
		}
	}
	return out
}

func toScheduledPost(p store.Post) api.ScheduledPost {
	content, _ := json.Marshal(p.Content)
	platforms, err := json.Marshal(p.Targets)
	if err != nil || p.Targets == nil {
		platforms = []byte("{}")
	}
	out := api.ScheduledPost{
		ID:            p.ID,
		Content:       content,
		Platforms:     platforms,
		ScheduledTime: p.ScheduledAt.UTC().Format(time.RFC3339),
		Status:        p.Status,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		PostMode:      p.PostMode,
	}
	if len(p.MediaFiles) > 0 {
		out.MediaPaths, _ = json.Marshal(api.MediaPaths{Files: p.MediaFiles})
	}
	return out
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logutil.Warnf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.StatusResponse{Error: msg})
}
