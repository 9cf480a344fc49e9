package stt

import (
	"context"
	"fmt"
)

// LanguageModelFreeForm asks the engine for unconstrained dictation.
const LanguageModelFreeForm = "free_form"

// Request describes one recognition attempt.
type Request struct {
	AttemptID     string
	LanguageModel string
	Language      string
	MaxResults    int
}

// EventKind identifies a lifecycle callback of the recognition engine.
type EventKind string

const (
	EventReady   EventKind = "ready"
	EventBegin   EventKind = "begin"
	EventEnd     EventKind = "end"
	EventPartial EventKind = "partial"
	EventResults EventKind = "results"
	EventError   EventKind = "error"
	EventRMS     EventKind = "rms"
	EventBuffer  EventKind = "buffer"
	EventVendor  EventKind = "vendor"
)

// Event is a single lifecycle notification. Only the payload fields
// relevant to Kind are populated.
type Event struct {
	Kind       EventKind
	Results    []string
	Code       int
	RMS        float32
	PCM        []byte
	VendorType int
}

func (e Event) String() string {
	switch e.Kind {
	case EventResults, EventPartial:
		return fmt.Sprintf("%s(%d candidates)", e.Kind, len(e.Results))
	case EventError:
		return fmt.Sprintf("error(%d)", e.Code)
	case EventBuffer:
		return fmt.Sprintf("buffer(%d bytes)", len(e.PCM))
	default:
		return string(e.Kind)
	}
}

// Error codes reported with EventError.
const (
	ErrorNetworkTimeout         = 1
	ErrorNetwork                = 2
	ErrorAudio                  = 3
	ErrorServer                 = 4
	ErrorClient                 = 5
	ErrorSpeechTimeout          = 6
	ErrorNoMatch                = 7
	ErrorRecognizerBusy         = 8
	ErrorInsufficientPermission = 9
)

// Listener receives lifecycle events. Implementations must not block.
type Listener func(Event)

// Recognizer abstracts speech recognition backends. Start returns once the
// request has been issued; lifecycle events arrive later through listener,
// possibly from another goroutine.
type Recognizer interface {
	Available(ctx context.Context) bool
	Start(ctx context.Context, req Request, listener Listener) error
	Stop(ctx context.Context) error
}
