package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/transcript"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// maxAudioBytes caps audio uploads.
const maxAudioBytes = 25 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cwd          string `json:"cwd"`
		CopyFromPath string `json:"copy_from_path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.sessions.Create(sessions.CreateOptions{
		Cwd:          req.Cwd,
		CopyFromPath: req.CopyFromPath,
	})
	if err != nil {
		slog.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID,
		"name":       sess.Name,
		"cwd":        sess.Cwd,
	})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleSessionRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !s.sessions.Rename(r.PathValue("id"), req.Name) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Kill(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.orch.Forget(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

// handleTranscript serves the decoded transcript with consecutive
// assistant/detail/system runs aggregated for readable replay.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	events, err := sess.Transcript.ReadAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": transcript.Aggregate(events),
	})
}

// handleTranscriptDownload serves the transcript as a readable
// plain-text dump, one "[source/role] content" line per event.
func (s *Server) handleTranscriptDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	events, err := sess.Transcript.ReadAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", sess.Name+".txt"))
	for _, ev := range events {
		fmt.Fprintf(w, "[%s/%s] %s\n", ev.Source, ev.Role, ev.Content())
	}
}

// handleClientEvent records an event supplied by the client (e.g. a
// browser-side STT transcript or UI action) into the transcript.
func (s *Server) handleClientEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req struct {
		Type     string                 `json:"type"`
		Role     string                 `json:"role"`
		Source   string                 `json:"source"`
		Content  string                 `json:"content"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "type and content are required")
		return
	}

	if err := sess.Transcript.Record(transcript.NewEvent(
		req.Type, req.Role, req.Source, req.Content, req.Metadata,
	)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleAudio transcribes an uploaded audio file through the STT proxy
// and records the raw transcript against the session.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if !s.stt.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "STT is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text, err := s.stt.Transcribe(r.Context(), audio, header.Filename)
	if err != nil {
		slog.Error("audio transcription failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if text != "" {
		if err := sess.Transcript.RecordSTTRaw(text, protocol.SourceWhisper, map[string]interface{}{
			"filename": header.Filename,
			"bytes":    len(audio),
		}); err != nil {
			slog.Warn("record stt_raw failed", "session", sess.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	summary := s.summ.Summarize(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := sessions.ListProjects(s.sessions.Root())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleBranchList(w http.ResponseWriter, r *http.Request) {
	branches, err := sessions.ListBranches(s.sessions.Root(), r.PathValue("p"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"branches": branches})
}

func (s *Server) handleBranchCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := sessions.CreateBranch(s.sessions.Root(), r.PathValue("p"), req.Name, req.Source)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"branch": name})
}

func (s *Server) handleBranchMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Branch string `json:"branch"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}
	if err := sessions.MergeBranchIntoMain(s.sessions.Root(), r.PathValue("p"), req.Branch); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

func (s *Server) handleBranchSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Branch string `json:"branch"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}
	if err := sessions.SyncBranchFromMain(s.sessions.Root(), r.PathValue("p"), req.Branch); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

// handleProjectSession creates a session attached to one of the
// project's branch working trees.
func (s *Server) handleProjectSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Branch string `json:"branch"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Branch == "" {
		req.Branch = "main"
	}

	cwd := filepath.Join(s.sessions.Root(), r.PathValue("p"), req.Branch)
	if _, err := os.Stat(cwd); err != nil {
		writeError(w, http.StatusNotFound, "branch not found")
		return
	}

	sess, err := s.sessions.Create(sessions.CreateOptions{Cwd: cwd})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID,
		"name":       sess.Name,
		"cwd":        sess.Cwd,
	})
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	if err := sessions.DeleteProject(s.sessions.Root(), r.PathValue("p")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleBranchDelete(w http.ResponseWriter, r *http.Request) {
	if err := sessions.DeleteBranch(s.sessions.Root(), r.PathValue("p"), r.PathValue("b")); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeLifecycleError maps typed lifecycle errors onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrProjectNotFound),
		errors.Is(err, sessions.ErrBranchNotFound),
		errors.Is(err, sessions.ErrMissingMain):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessions.ErrBranchExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sessions.ErrMergeMain):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
