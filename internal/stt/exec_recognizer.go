package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/mattn/go-shellwords"
)

const execStopGrace = 2 * time.Second

// execRecognizer runs an external engine per attempt. The engine receives the
// request as flags and writes one protocol.LifecycleEvent JSON object per
// line to stdout. Closing its stdin asks it to stop listening.
type execRecognizer struct {
	cmd []string
	log *slog.Logger

	mu      sync.Mutex
	current *execAttempt
}

type execAttempt struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	stopped bool
}

func NewExecRecognizer(cfg config.RecognizerConfig, log *slog.Logger) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{
		cmd: args,
		log: log.With(slog.String("component", "stt.exec")),
	}, nil
}

func (r *execRecognizer) Available(context.Context) bool {
	_, err := exec.LookPath(r.cmd[0])
	return err == nil
}

func (r *execRecognizer) Start(_ context.Context, req Request, listener Listener) error {
	r.mu.Lock()
	previous := r.current
	r.current = nil
	r.mu.Unlock()
	if previous != nil {
		r.halt(previous)
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args,
		"--language", req.Language,
		"--language-model", req.LanguageModel,
		"--max-results", strconv.Itoa(req.MaxResults),
	)
	command := exec.Command(r.cmd[0], args...)
	stdin, err := command.StdinPipe()
	if err != nil {
		return fmt.Errorf("recognizer stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("start recognizer command: %w", err)
	}

	attempt := &execAttempt{cmd: command, stdin: stdin, done: make(chan struct{})}
	r.mu.Lock()
	r.current = attempt
	r.mu.Unlock()

	go r.consume(attempt, stdout, listener)
	return nil
}

func (r *execRecognizer) consume(attempt *execAttempt, stdout io.Reader, listener Listener) {
	defer close(attempt.done)

	sawEnd, err := decodeEvents(stdout, listener)
	if err != nil {
		r.log.Warn("recognizer output decode failed", slogError(err))
	}
	waitErr := attempt.cmd.Wait()

	r.mu.Lock()
	stopped := attempt.stopped
	if r.current == attempt {
		r.current = nil
	}
	r.mu.Unlock()

	if stopped || sawEnd {
		return
	}
	if waitErr != nil || err != nil {
		r.log.Warn("recognizer command exited unexpectedly", slog.Any("error", waitErr))
		listener(Event{Kind: EventError, Code: ErrorServer})
	}
}

// decodeEvents relays every line of r to listener and reports whether an
// end-of-speech event was seen.
func decodeEvents(r io.Reader, listener Listener) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	sawEnd := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg protocol.LifecycleEvent
		if err := json.Unmarshal(line, &msg); err != nil {
			return sawEnd, fmt.Errorf("decode lifecycle event: %w", err)
		}
		evt, err := EventFromWire(msg)
		if err != nil {
			return sawEnd, err
		}
		if evt.Kind == EventEnd {
			sawEnd = true
		}
		listener(evt)
	}
	return sawEnd, scanner.Err()
}

func (r *execRecognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	attempt := r.current
	r.current = nil
	r.mu.Unlock()
	if attempt == nil {
		return nil
	}
	return r.haltContext(ctx, attempt)
}

func (r *execRecognizer) halt(attempt *execAttempt) {
	if err := r.haltContext(context.Background(), attempt); err != nil {
		r.log.Warn("failed to stop previous recognizer command", slogError(err))
	}
}

func (r *execRecognizer) haltContext(ctx context.Context, attempt *execAttempt) error {
	r.mu.Lock()
	attempt.stopped = true
	r.mu.Unlock()

	_ = attempt.stdin.Close()
	timer := time.NewTimer(execStopGrace)
	defer timer.Stop()
	select {
	case <-attempt.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := attempt.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill recognizer command: %w", err)
	}
	<-attempt.done
	return nil
}
