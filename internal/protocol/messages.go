package protocol

import "time"

// RecognitionControl asks a hosted engine to start or stop an attempt.
type RecognitionControl struct {
	AttemptID     string    `json:"attempt_id"`
	Action        string    `json:"action"`
	Language      string    `json:"language,omitempty"`
	LanguageModel string    `json:"language_model,omitempty"`
	MaxResults    int       `json:"max_results,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ControlAck answers a RecognitionControl request.
type ControlAck struct {
	AttemptID string `json:"attempt_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// LifecycleEvent is the wire form of a recognition engine callback. It is
// used on the bus and as the JSON-lines output of exec engines.
type LifecycleEvent struct {
	AttemptID  string    `json:"attempt_id,omitempty"`
	Event      string    `json:"event"`
	Results    []string  `json:"results,omitempty"`
	Code       int       `json:"code,omitempty"`
	RMS        float32   `json:"rms,omitempty"`
	PCM        []byte    `json:"pcm,omitempty"`
	VendorType int       `json:"vendor_type,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// StateSnapshot mirrors the current recognition state for observers.
type StateSnapshot struct {
	NodeID     string    `json:"node_id"`
	Error      string    `json:"error,omitempty"`
	SpokenText []string  `json:"spoken_text"`
	IsSpeaking bool      `json:"is_speaking"`
	Timestamp  time.Time `json:"timestamp"`
}

// ShareText hands dictated text to whichever consumer shares content.
type ShareText struct {
	NodeID    string    `json:"node_id"`
	Text      string    `json:"text"`
	MimeType  string    `json:"mime_type"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionStart = "start"
	ActionStop  = "stop"

	SubjectControlPrefix = "stt.control"
	SubjectEventPrefix   = "stt.event"
	SubjectState         = "speech.state"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"

	CapabilityRecognize = "stt.recognize"
)

// ControlSubject is where the engine hosted on nodeID listens for requests.
func ControlSubject(nodeID string) string {
	return SubjectControlPrefix + "." + nodeID
}

// EventSubject carries lifecycle events of a single attempt.
func EventSubject(attemptID string) string {
	return SubjectEventPrefix + "." + attemptID
}
