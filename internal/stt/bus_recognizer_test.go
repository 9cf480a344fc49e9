package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/capability"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

type staticDirectory []capability.NodeInfo

func (d staticDirectory) Providers(string) []capability.NodeInfo { return d }

func newTestBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	client := bus.NewFromConn(conn, newLogger())
	t.Cleanup(client.Close)
	return client
}

func TestBusRecognizerRoundTrip(t *testing.T) {
	client := newTestBus(t)
	ctx := context.Background()

	host := NewService(ctx, "engine-1", client, NewMockRecognizer(5*time.Millisecond), newLogger())
	if err := host.Start(); err != nil {
		t.Fatalf("start host: %v", err)
	}
	t.Cleanup(host.Close)

	directory := staticDirectory{{ID: "engine-1", Capabilities: []string{protocol.CapabilityRecognize}, Healthy: true}}
	rec := NewBusRecognizer(client, directory, time.Second, newLogger())
	t.Cleanup(rec.Close)

	if !rec.Available(ctx) {
		t.Fatal("expected bus recognizer to be available")
	}

	events := make(chan Event, 16)
	err := rec.Start(ctx, Request{AttemptID: "attempt-1", Language: "hi", LanguageModel: LanguageModelFreeForm, MaxResults: 5}, func(evt Event) {
		events <- evt
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var kinds []EventKind
	var results []string
	timeout := time.After(3 * time.Second)
	for len(kinds) == 0 || kinds[len(kinds)-1] != EventEnd {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
			if evt.Kind == EventResults {
				results = evt.Results
			}
		case <-timeout:
			t.Fatalf("timed out waiting for end event, got %v", kinds)
		}
	}
	if kinds[0] != EventReady {
		t.Fatalf("expected ready first, got %v", kinds)
	}
	if len(results) == 0 {
		t.Fatalf("expected results to be relayed, got %v", kinds)
	}

	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestBusRecognizerWithoutProvider(t *testing.T) {
	client := newTestBus(t)
	rec := NewBusRecognizer(client, staticDirectory(nil), time.Second, newLogger())

	if rec.Available(context.Background()) {
		t.Fatal("expected unavailable without providers")
	}
	err := rec.Start(context.Background(), Request{Language: "hi"}, func(Event) {})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("stop without attempt: %v", err)
	}
}

func TestServiceRejectsStartWithoutAttempt(t *testing.T) {
	client := newTestBus(t)
	host := NewService(context.Background(), "engine-2", client, NewMockRecognizer(time.Millisecond), newLogger())
	if err := host.Start(); err != nil {
		t.Fatalf("start host: %v", err)
	}
	t.Cleanup(host.Close)

	rec := NewBusRecognizer(client, staticDirectory{{ID: "engine-2", Healthy: true}}, time.Second, newLogger())
	err := rec.request(context.Background(), "engine-2", protocol.RecognitionControl{Action: protocol.ActionStart})
	if err == nil {
		t.Fatal("expected rejection for missing attempt id")
	}
}
