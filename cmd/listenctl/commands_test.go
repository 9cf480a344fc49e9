package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-listen/internal/protocol"
)

func runCommand(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--addr", addr}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestStartPrintsState(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_ = json.NewEncoder(w).Encode(protocol.StateSnapshot{
			IsSpeaking: true,
			SpokenText: []string{"one", "two"},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "start", "--language", "hi")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if gotPath != "/v1/listen/start?language=hi" {
		t.Fatalf("unexpected request %q", gotPath)
	}
	if !strings.HasPrefix(out, "listening\n") || !strings.Contains(out, "[1] two") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfirmByIndex(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "two। "})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "confirm", "--index", "1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if idx, ok := body["index"].(float64); !ok || idx != 1 {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.TrimSpace(out) != "two।" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfirmRequiresInput(t *testing.T) {
	if _, err := runCommand(t, "http://127.0.0.1:1", "confirm"); err == nil {
		t.Fatalf("expected error without candidate or index")
	}
}

func TestServerErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "draft is empty"})
	}))
	defer srv.Close()

	_, err := runCommand(t, srv.URL, "share")
	if err == nil || !strings.Contains(err.Error(), "draft is empty") {
		t.Fatalf("expected server error, got %v", err)
	}
}
