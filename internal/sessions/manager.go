package sessions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/transcript"
)

// Session is one durable unit bound to a working directory, carrying
// conversation history and an append-only event log.
type Session struct {
	ID          string
	Name        string
	Cwd         string
	ProjectRoot string
	Branch      string

	Transcript *transcript.Store

	mu             sync.Mutex
	history        []llm.Message
	welcomeSent    bool
	pendingClarify string // original request text awaiting clarification
	lastUser       string
	lastPlan       string

	// cancel aborts any in-flight Manager/Coder work bound to this
	// session when it is killed.
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session's lifetime context. Long-running calls on
// behalf of this session must receive it.
func (s *Session) Context() context.Context { return s.ctx }

// Alive reports whether the session has not been killed.
func (s *Session) Alive() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}

// History returns a copy of the conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory adds one message. All mutations funnel through here so
// concurrent appenders never tear the slice.
func (s *Session) AppendHistory(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

// ContextSeed returns the last user utterance and last plan as a prompt
// context string, empty when neither is known.
func (s *Session) ContextSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lastUser != "" && s.lastPlan != "":
		return fmt.Sprintf("Last user request: %s\nLast plan:\n%s", s.lastUser, s.lastPlan)
	case s.lastUser != "":
		return "Last user request: " + s.lastUser
	case s.lastPlan != "":
		return "Last plan:\n" + s.lastPlan
	}
	return ""
}

// SetLastUser updates the context seed's user half.
func (s *Session) SetLastUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUser = text
}

// SetLastPlan updates the context seed's plan half.
func (s *Session) SetLastPlan(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPlan = text
}

// PendingClarify returns the request text awaiting clarification, or "".
func (s *Session) PendingClarify() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingClarify
}

// SetPendingClarify stores (or clears, with "") the pending request.
// The slot is single-entry: a replace request overwrites it.
func (s *Session) SetPendingClarify(original string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingClarify = original
}

// WelcomeSent reports whether the one-time welcome has been emitted.
func (s *Session) WelcomeSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.welcomeSent
}

// MarkWelcomeSent records that the welcome pair went out.
func (s *Session) MarkWelcomeSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcomeSent = true
}

// Info is the listing shape served by GET /sessions.
type Info struct {
	ID    string `json:"id"`
	Alive bool   `json:"alive"`
	Name  string `json:"name"`
	Cwd   string `json:"cwd"`
}

// Manager owns all Session records. Access to the registry goes through
// a single RWMutex; per-session state has its own lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	root     string // workspace root
}

// NewManager creates a session registry rooted at the workspace dir.
func NewManager(root string) *Manager {
	os.MkdirAll(root, 0755)
	return &Manager{
		sessions: make(map[string]*Session),
		root:     root,
	}
}

// Root returns the workspace root.
func (m *Manager) Root() string { return m.root }

// CreateOptions selects one of the three session creation modes.
type CreateOptions struct {
	// Cwd attaches to an explicit working directory without git
	// operations. Empty means a new project is generated.
	Cwd string
	// CopyFromPath seeds a newly created directory from an existing one.
	CopyFromPath string
}

// Create makes a new session. With an explicit cwd it attaches to that
// directory; otherwise a fresh project is created under the workspace
// root with a git-initialized main branch. If the directory's transcript
// already exists, history is rehydrated from it.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	id := uuid.NewString()
	name := GenerateName()

	var cwd, projectRoot, branch string
	if opts.Cwd != "" {
		cwd = opts.Cwd
		name = filepath.Base(cwd)
		// workspace/<project>/<branch> layout when the cwd is inside the
		// workspace; otherwise treat the cwd itself as the project.
		branch = filepath.Base(cwd)
		projectRoot = filepath.Dir(cwd)
		if err := os.MkdirAll(cwd, 0755); err != nil {
			return nil, fmt.Errorf("create session cwd: %w", err)
		}
		if opts.CopyFromPath != "" {
			if err := copyContents(opts.CopyFromPath, cwd); err != nil {
				return nil, fmt.Errorf("copy session seed: %w", err)
			}
		}
	} else {
		proj, err := InitProject(m.root, name)
		if err != nil {
			return nil, err
		}
		projectRoot = filepath.Join(m.root, proj)
		branch = "main"
		cwd = filepath.Join(projectRoot, branch)
		name = proj
	}

	logPath := filepath.Join(projectRoot, ".kestrel", branch+".jsonl")
	store, err := transcript.NewStore(logPath)
	if err != nil {
		return nil, err
	}
	store.SetNotesDir(filepath.Join(projectRoot, ".kestrel", "notes", branch))

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:          id,
		Name:        name,
		Cwd:         cwd,
		ProjectRoot: projectRoot,
		Branch:      branch,
		Transcript:  store,
		ctx:         ctx,
		cancel:      cancel,
	}

	seed, err := transcript.Rehydrate(logPath)
	if err != nil {
		slog.Warn("session rehydration failed", "session", id, "error", err)
	} else {
		sess.history = seed.History
		sess.welcomeSent = seed.WelcomeSent
		sess.lastUser = seed.LastUser
		sess.lastPlan = seed.LastPlan
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	slog.Info("session created", "id", id, "name", name, "cwd", cwd)
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all registered sessions.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, Info{ID: id, Alive: s.Alive(), Name: s.Name, Cwd: s.Cwd})
	}
	return out
}

// Rename changes a session's display name.
func (m *Manager) Rename(id, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.Name = name
	slog.Info("session renamed", "id", id, "name", name)
	return true
}

// Kill removes the session from the registry and cancels any in-flight
// work bound to it. An orchestrator observing the cancellation exits its
// loop without further writes.
func (m *Manager) Kill(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	slog.Info("session killed", "id", id)
	return true
}

// Shutdown kills every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Kill(id)
	}
}

// copyContents copies src's entries into dst, skipping VCS internals.
func copyContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(from, to); err != nil {
				return err
			}
		} else if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
