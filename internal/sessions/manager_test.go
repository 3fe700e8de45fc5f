package sessions

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/kestrelhq/kestrel/internal/transcript"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

func TestGenerateName(t *testing.T) {
	re := regexp.MustCompile(`^[a-z]+-[a-z]+$`)
	for i := 0; i < 20; i++ {
		name := GenerateName()
		if !re.MatchString(name) {
			t.Fatalf("name = %q", name)
		}
	}
}

func TestCreateWithExplicitCwd(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	cwd := filepath.Join(root, "myproj", "feature")
	sess, err := m.Create(CreateOptions{Cwd: cwd})
	if err != nil {
		t.Fatal(err)
	}

	if sess.Name != "feature" {
		t.Errorf("name = %q", sess.Name)
	}
	if sess.Branch != "feature" {
		t.Errorf("branch = %q", sess.Branch)
	}
	if sess.ProjectRoot != filepath.Join(root, "myproj") {
		t.Errorf("project root = %q", sess.ProjectRoot)
	}
	if _, err := os.Stat(cwd); err != nil {
		t.Errorf("cwd not created: %v", err)
	}
	if !sess.Alive() {
		t.Error("new session must be alive")
	}
	if sess.WelcomeSent() {
		t.Error("fresh session must not have welcome sent")
	}
}

func TestCreateCopiesSeedSkippingGit(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	seed := t.TempDir()
	os.WriteFile(filepath.Join(seed, "main.go"), []byte("package main\n"), 0644)
	os.MkdirAll(filepath.Join(seed, "pkg", "util"), 0755)
	os.WriteFile(filepath.Join(seed, "pkg", "util", "u.go"), []byte("package util\n"), 0644)
	os.MkdirAll(filepath.Join(seed, ".git"), 0755)
	os.WriteFile(filepath.Join(seed, ".git", "HEAD"), []byte("ref"), 0644)

	cwd := filepath.Join(root, "p", "main")
	sess, err := m.Create(CreateOptions{Cwd: cwd, CopyFromPath: seed})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(sess.Cwd, "main.go")); err != nil {
		t.Errorf("main.go not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sess.Cwd, "pkg", "util", "u.go")); err != nil {
		t.Errorf("nested file not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sess.Cwd, ".git")); !os.IsNotExist(err) {
		t.Error(".git must not be copied")
	}
}

func TestListRenameKill(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	sess, err := m.Create(CreateOptions{Cwd: filepath.Join(root, "p", "main")})
	if err != nil {
		t.Fatal(err)
	}

	list := m.List()
	if len(list) != 1 || list[0].ID != sess.ID || !list[0].Alive {
		t.Fatalf("list = %+v", list)
	}

	if !m.Rename(sess.ID, "renamed") {
		t.Fatal("rename failed")
	}
	if got, _ := m.Get(sess.ID); got.Name != "renamed" {
		t.Errorf("name = %q", got.Name)
	}
	if m.Rename("nope", "x") {
		t.Error("rename of unknown id must fail")
	}

	if !m.Kill(sess.ID) {
		t.Fatal("kill failed")
	}
	if sess.Alive() {
		t.Error("killed session still alive")
	}
	select {
	case <-sess.Context().Done():
	default:
		t.Error("kill must cancel the session context")
	}
	if len(m.List()) != 0 {
		t.Error("killed session still listed")
	}
	if m.Kill(sess.ID) {
		t.Error("double kill must report false")
	}
}

func TestCreateRehydratesTranscript(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	cwd := filepath.Join(root, "p", "main")

	first, err := m.Create(CreateOptions{Cwd: cwd})
	if err != nil {
		t.Fatal(err)
	}
	first.Transcript.Record(transcript.NewEvent(
		protocol.EventUser, protocol.RoleUser, protocol.SourceController, "build a parser", nil))
	m.Kill(first.ID)

	second, err := m.Create(CreateOptions{Cwd: cwd})
	if err != nil {
		t.Fatal(err)
	}
	if !second.WelcomeSent() {
		t.Error("rehydrated session must skip the welcome")
	}
	if len(second.History()) == 0 {
		t.Error("history not rehydrated")
	}
	if second.ContextSeed() == "" {
		t.Error("context seed not rehydrated")
	}
}

func TestContextSeed(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	sess, err := m.Create(CreateOptions{Cwd: filepath.Join(root, "p", "main")})
	if err != nil {
		t.Fatal(err)
	}

	if sess.ContextSeed() != "" {
		t.Errorf("seed = %q", sess.ContextSeed())
	}
	sess.SetLastUser("add a flag")
	if sess.ContextSeed() != "Last user request: add a flag" {
		t.Errorf("seed = %q", sess.ContextSeed())
	}
	sess.SetLastPlan("Plan (confidence: 90%):\n  1. add it")
	seed := sess.ContextSeed()
	if seed != "Last user request: add a flag\nLast plan:\nPlan (confidence: 90%):\n  1. add it" {
		t.Errorf("seed = %q", seed)
	}
}
