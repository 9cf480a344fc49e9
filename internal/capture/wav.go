// Package capture writes the raw audio a recognizer reports during an
// attempt to WAV files, one per attempt.
package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-listen/internal/config"
)

// WavSink buffers 16-bit little-endian PCM per attempt and writes
// <directory>/<attempt>.wav when the attempt finishes.
type WavSink struct {
	cfg config.CaptureConfig
	log *slog.Logger

	mu      sync.Mutex
	buffers map[string][]byte
}

func NewWavSink(cfg config.CaptureConfig, log *slog.Logger) (*WavSink, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &WavSink{
		cfg:     cfg,
		log:     log.With(slog.String("component", "capture")),
		buffers: make(map[string][]byte),
	}, nil
}

func (w *WavSink) Begin(attemptID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffers[attemptID] = nil
}

func (w *WavSink) Append(attemptID string, pcm []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[attemptID]
	if !ok {
		return
	}
	w.buffers[attemptID] = append(buf, pcm...)
}

// Finish writes the attempt's audio. Attempts without audio produce no file.
func (w *WavSink) Finish(attemptID string) error {
	w.mu.Lock()
	pcm := w.buffers[attemptID]
	delete(w.buffers, attemptID)
	w.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}
	path := w.Path(attemptID)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	defer file.Close()

	if err := writePCMToWav(file, pcm, w.cfg.SampleRate, w.cfg.Channels); err != nil {
		return err
	}
	w.log.Info("capture written", slog.String("path", path), slog.Int("bytes", len(pcm)))
	return nil
}

// Path is where the capture of attemptID is written.
func (w *WavSink) Path(attemptID string) string {
	return filepath.Join(w.cfg.Directory, attemptID+".wav")
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
