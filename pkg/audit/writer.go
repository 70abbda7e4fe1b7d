// Package audit provides the JSONL audit trail: per-request traces,
// supervisor routing decisions, and circuit breaker transitions written to
// daily rotated files.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"careflow/pkg/logx"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/workflow"
)

// Event types written to the audit log.
const (
	EventRequestTrace      = "request_trace"
	EventRoutingDecision   = "routing_decision"
	EventBreakerTransition = "breaker_transition"
)

// event is one audit log line.
type event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// breakerTransition records one circuit breaker state change.
type breakerTransition struct {
	Dependency string `json:"dependency"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Writer appends audit events to daily rotated JSONL files. It implements
// workflow.EventSink and workflow.DecisionSink and is safe for concurrent
// use.
type Writer struct {
	logDir      string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	logger      *logx.Logger
}

// NewWriter creates an audit writer rooted at logDir, creating the
// directory if needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	w := &Writer{
		logDir: logDir,
		logger: logx.NewLogger("audit"),
	}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit file: %w", err)
	}
	return w, nil
}

// EmitTrace implements workflow.EventSink.
func (w *Writer) EmitTrace(_ context.Context, rec workflow.TraceRecord) error {
	return w.write(EventRequestTrace, rec)
}

// EmitRoutingDecision implements workflow.DecisionSink.
func (w *Writer) EmitRoutingDecision(_ context.Context, d workflow.RoutingDecision) error {
	return w.write(EventRoutingDecision, d)
}

// BreakerTransition returns a circuit.TransitionFunc that records breaker
// state changes in the audit trail.
func (w *Writer) BreakerTransition() circuit.TransitionFunc {
	return func(dependency string, from, to circuit.State) {
		if err := w.write(EventBreakerTransition, breakerTransition{
			Dependency: dependency,
			From:       from.String(),
			To:         to.String(),
		}); err != nil {
			w.logger.Warn("failed to record breaker transition for %s: %v", dependency, err)
		}
	}
}

func (w *Writer) write(eventType string, payload any) error {
	line, err := json.Marshal(event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}
	if _, err := w.currentFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}
	return w.rotate(newDate)
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current audit file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("audit-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// CurrentLogFile returns the path of the currently active audit file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("audit-%s.jsonl", w.currentDate))
}

// Close closes the current audit file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}
	return nil
}
