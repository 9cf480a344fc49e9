package stt

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// EventFromWire converts a decoded lifecycle message into an Event.
func EventFromWire(msg protocol.LifecycleEvent) (Event, error) {
	kind := EventKind(msg.Event)
	switch kind {
	case EventReady, EventBegin, EventEnd, EventPartial, EventResults, EventError, EventRMS, EventBuffer, EventVendor:
	default:
		return Event{}, fmt.Errorf("unknown lifecycle event %q", msg.Event)
	}
	return Event{
		Kind:       kind,
		Results:    msg.Results,
		Code:       msg.Code,
		RMS:        msg.RMS,
		PCM:        msg.PCM,
		VendorType: msg.VendorType,
	}, nil
}

// EventToWire converts an Event into its wire form for attemptID.
func EventToWire(attemptID string, evt Event) protocol.LifecycleEvent {
	return protocol.LifecycleEvent{
		AttemptID:  attemptID,
		Event:      string(evt.Kind),
		Results:    evt.Results,
		Code:       evt.Code,
		RMS:        evt.RMS,
		PCM:        evt.PCM,
		VendorType: evt.VendorType,
		Timestamp:  time.Now().UTC(),
	}
}
