package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDisabledClient(t *testing.T) {
	c := NewClient("", "", 0)
	if c.Enabled() {
		t.Error("empty proxy URL must disable the client")
	}
	text, err := c.Transcribe(context.Background(), []byte("audio"), "a.webm")
	if err != nil || text != "" {
		t.Errorf("got %q, %v", text, err)
	}
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotFilename string
	var gotBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe_audio" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotBytes, _ = io.ReadAll(file)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript": "build me a parser"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sttkey", 5)
	text, err := c.Transcribe(context.Background(), []byte("fake-opus-bytes"), "clip.webm")
	if err != nil {
		t.Fatal(err)
	}
	if text != "build me a parser" {
		t.Errorf("transcript = %q", text)
	}
	if gotAuth != "Bearer sttkey" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotFilename != "clip.webm" {
		t.Errorf("filename = %q", gotFilename)
	}
	if string(gotBytes) != "fake-opus-bytes" {
		t.Errorf("audio = %q", gotBytes)
	}
}

func TestTranscribeDefaultFilename(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err == nil {
			gotFilename = header.Filename
		}
		w.Write([]byte(`{"transcript": "x"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5)
	if _, err := c.Transcribe(context.Background(), []byte("a"), ""); err != nil {
		t.Fatal(err)
	}
	if gotFilename != "audio.webm" {
		t.Errorf("filename = %q", gotFilename)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty audio must not reach the proxy")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5)
	text, err := c.Transcribe(context.Background(), nil, "a.webm")
	if err != nil || text != "" {
		t.Errorf("got %q, %v", text, err)
	}
}

func TestTranscribeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5)
	_, err := c.Transcribe(context.Background(), []byte("a"), "a.webm")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v", err)
	}
}
