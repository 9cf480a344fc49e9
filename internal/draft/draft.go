// Package draft holds the free text a user builds from confirmed
// recognition candidates and hands it to a sharing target.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// ErrEmpty is returned when sharing an empty draft.
var ErrEmpty = errors.New("draft is empty")

// Sharer hands text to the platform's content-sharing mechanism.
type Sharer interface {
	Share(ctx context.Context, text string) error
}

// Draft is the editable dictation text.
type Draft struct {
	terminator string
	sharer     Sharer

	mu   sync.Mutex
	text string
}

func New(terminator string, sharer Sharer) *Draft {
	return &Draft{terminator: terminator, sharer: sharer}
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Set replaces the text, as when the user edits the field directly.
func (d *Draft) Set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// Confirm appends the chosen candidate and closes the sentence.
func (d *Draft) Confirm(candidate string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = d.text + candidate + d.terminator
	return d.text
}

func (d *Draft) Share(ctx context.Context) error {
	text := d.Text()
	if text == "" {
		return ErrEmpty
	}
	return d.sharer.Share(ctx, text)
}

// BusSharer publishes shared text on the bus.
type BusSharer struct {
	bus     *bus.Client
	subject string
	nodeID  string
}

func NewBusSharer(busClient *bus.Client, subject, nodeID string) *BusSharer {
	return &BusSharer{bus: busClient, subject: subject, nodeID: nodeID}
}

func (s *BusSharer) Share(_ context.Context, text string) error {
	data, err := json.Marshal(protocol.ShareText{
		NodeID:    s.nodeID,
		Text:      text,
		MimeType:  "text/plain",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.bus.Conn().Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish share: %w", err)
	}
	return nil
}

// LogSharer writes shared text to the log when no bus is configured.
type LogSharer struct {
	log *slog.Logger
}

func NewLogSharer(log *slog.Logger) *LogSharer {
	return &LogSharer{log: log.With(slog.String("component", "share"))}
}

func (s *LogSharer) Share(_ context.Context, text string) error {
	s.log.Info("text shared", slog.String("mime_type", "text/plain"), slog.String("text", text))
	return nil
}
