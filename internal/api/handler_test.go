package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-listen/internal/draft"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/speech"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeController struct {
	store     *speech.Store
	languages []string
}

func (f *fakeController) StartListening(language string) {
	f.languages = append(f.languages, language)
	f.store.Update(func(speech.State) speech.State { return speech.State{IsSpeaking: true} })
}

func (f *fakeController) StopListening() {
	f.store.Update(func(s speech.State) speech.State {
		s.IsSpeaking = false
		return s
	})
}

func (f *fakeController) Toggle(language string) {
	if f.store.Get().IsSpeaking {
		f.StopListening()
		return
	}
	f.StartListening(language)
}

func (f *fakeController) Store() *speech.Store { return f.store }

type fakeHistory struct {
	attempts []eventstore.Attempt
	events   map[string][]eventstore.Event
	err      error
}

func (f *fakeHistory) ListAttempts(context.Context, int) ([]eventstore.Attempt, error) {
	return f.attempts, f.err
}

func (f *fakeHistory) ListAttemptEvents(_ context.Context, attemptID string, _ int) ([]eventstore.Event, error) {
	return f.events[attemptID], f.err
}

type recordingSharer struct {
	texts []string
	err   error
}

func (r *recordingSharer) Share(_ context.Context, text string) error {
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

type fixture struct {
	srv        *httptest.Server
	controller *fakeController
	history    *fakeHistory
	sharer     *recordingSharer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		controller: &fakeController{store: speech.NewStore()},
		history:    &fakeHistory{events: map[string][]eventstore.Event{}},
		sharer:     &recordingSharer{},
	}
	h := New(f.controller, draft.New("। ", f.sharer), f.history, "node-a", newLogger())
	router := chi.NewRouter()
	h.Mount(router)
	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestListenRoutes(t *testing.T) {
	f := newFixture(t)

	snap := decode[protocol.StateSnapshot](t, f.do(t, http.MethodGet, "/v1/state", ""))
	if snap.IsSpeaking || snap.SpokenText == nil || snap.NodeID != "node-a" {
		t.Fatalf("unexpected initial state %+v", snap)
	}

	snap = decode[protocol.StateSnapshot](t, f.do(t, http.MethodPost, "/v1/listen/start?language=mr", ""))
	if !snap.IsSpeaking {
		t.Fatalf("expected speaking after start")
	}
	if len(f.controller.languages) != 1 || f.controller.languages[0] != "mr" {
		t.Fatalf("unexpected languages %v", f.controller.languages)
	}

	snap = decode[protocol.StateSnapshot](t, f.do(t, http.MethodPost, "/v1/listen/stop", ""))
	if snap.IsSpeaking {
		t.Fatalf("expected not speaking after stop")
	}

	snap = decode[protocol.StateSnapshot](t, f.do(t, http.MethodPost, "/v1/listen/toggle", ""))
	if !snap.IsSpeaking {
		t.Fatalf("expected toggle to start listening")
	}
	snap = decode[protocol.StateSnapshot](t, f.do(t, http.MethodPost, "/v1/listen/toggle", ""))
	if snap.IsSpeaking {
		t.Fatalf("expected toggle to stop listening")
	}
}

func TestDraftRoutes(t *testing.T) {
	f := newFixture(t)
	f.controller.store.Update(func(s speech.State) speech.State {
		s.SpokenText = []string{"पहला", "दूसरा"}
		return s
	})

	body := decode[draftBody](t, f.do(t, http.MethodPost, "/v1/draft/confirm", `{"index":1}`))
	if body.Text != "दूसरा। " {
		t.Fatalf("unexpected draft %q", body.Text)
	}
	body = decode[draftBody](t, f.do(t, http.MethodPost, "/v1/draft/confirm", `{"candidate":"तीसरा"}`))
	if body.Text != "दूसरा। तीसरा। " {
		t.Fatalf("unexpected draft %q", body.Text)
	}

	if resp := f.do(t, http.MethodPost, "/v1/draft/confirm", `{"index":5}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range index, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPut, "/v1/draft", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", resp.StatusCode)
	}

	body = decode[draftBody](t, f.do(t, http.MethodPut, "/v1/draft", `{"text":"edited"}`))
	if body.Text != "edited" {
		t.Fatalf("unexpected draft after put %q", body.Text)
	}
	body = decode[draftBody](t, f.do(t, http.MethodGet, "/v1/draft", ""))
	if body.Text != "edited" {
		t.Fatalf("unexpected draft after get %q", body.Text)
	}

	if resp := f.do(t, http.MethodPost, "/v1/draft/share", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(f.sharer.texts) != 1 || f.sharer.texts[0] != "edited" {
		t.Fatalf("unexpected shared texts %v", f.sharer.texts)
	}
}

func TestShareErrors(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/v1/draft/share", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for empty draft, got %d", resp.StatusCode)
	}

	f.sharer.err = errors.New("bus down")
	f.do(t, http.MethodPut, "/v1/draft", `{"text":"hello"}`)
	if resp := f.do(t, http.MethodPost, "/v1/draft/share", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 when sharing fails, got %d", resp.StatusCode)
	}
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.history.attempts = []eventstore.Attempt{{ID: "a1", Language: "hi", CreatedAt: now}}
	f.history.events["a1"] = []eventstore.Event{{AttemptID: "a1", Type: "results", Payload: []byte(`{"event":"results"}`), CreatedAt: now}}

	attempts := decode[[]attemptView](t, f.do(t, http.MethodGet, "/v1/history?limit=10", ""))
	if len(attempts) != 1 || attempts[0].ID != "a1" || attempts[0].Language != "hi" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
	events := decode[[]eventView](t, f.do(t, http.MethodGet, "/v1/history/a1", ""))
	if len(events) != 1 || events[0].Type != "results" {
		t.Fatalf("unexpected events %+v", events)
	}

	f.history.err = errors.New("disk gone")
	if resp := f.do(t, http.MethodGet, "/v1/history", ""); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestStateStream(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/state/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first protocol.StateSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.IsSpeaking {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	f.controller.store.Update(func(s speech.State) speech.State {
		s.SpokenText = []string{"hello"}
		s.IsSpeaking = true
		return s
	})

	var next protocol.StateSnapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !next.IsSpeaking || len(next.SpokenText) != 1 || next.SpokenText[0] != "hello" {
		t.Fatalf("unexpected update %+v", next)
	}
}
