package stt

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-listen/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDecodeEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"event":"ready"}`,
		``,
		`{"event":"rms","rms":2.5}`,
		`{"event":"results","results":["alpha","beta"]}`,
		`{"event":"error","code":7}`,
		`{"event":"end"}`,
	}, "\n")

	var got []Event
	sawEnd, err := decodeEvents(strings.NewReader(input), func(evt Event) { got = append(got, evt) })
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sawEnd {
		t.Fatal("expected end event to be reported")
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	if got[2].Kind != EventResults || strings.Join(got[2].Results, ",") != "alpha,beta" {
		t.Fatalf("unexpected results event: %+v", got[2])
	}
	if got[3].Kind != EventError || got[3].Code != 7 {
		t.Fatalf("unexpected error event: %+v", got[3])
	}
}

func TestDecodeEventsRejectsUnknownKind(t *testing.T) {
	_, err := decodeEvents(strings.NewReader(`{"event":"explode"}`), func(Event) {})
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestNewExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.RecognizerConfig{Command: "  "}, newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecRecognizer(config.RecognizerConfig{Command: `engine "unterminated`}, newLogger()); err == nil {
		t.Fatal("expected error for unparsable command")
	}
}

func TestExecRecognizerAvailability(t *testing.T) {
	r, err := NewExecRecognizer(config.RecognizerConfig{Command: "definitely-not-a-real-engine-binary --flag"}, newLogger())
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	if r.Available(t.Context()) {
		t.Fatal("expected missing binary to be unavailable")
	}
}
