// Package trace writes the per-run JSONL event log. Every record carries an
// ISO timestamp and a bar index, so a run can be replayed event by event
// after the fact.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event types written to trace.jsonl.
const (
	TypeAgentStep = "agent_step"
	TypeContext   = "context"
	TypeLLMCall   = "llm_call"
	TypeToolCall  = "tool_call"
	TypeDecision  = "decision"
)

// Writer appends JSON lines to a trace file. Writes are best-effort: a
// failed write never fails the run. All methods are safe on a nil receiver
// so components can run untraced.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	barIndex int
}

// NewWriter opens (or creates) the trace file for appending.
func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &Writer{file: file}, nil
}

// SetBar updates the bar index stamped onto records that do not carry one.
func (w *Writer) SetBar(barIndex int) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.barIndex = barIndex
	w.mu.Unlock()
}

// Emit writes one record. The event type and timestamp always win over
// caller-supplied values; bar_index is filled in only when absent.
func (w *Writer) Emit(eventType string, fields map[string]any) {
	if w == nil {
		return
	}
	record := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		record[k] = v
	}
	record["type"] = eventType
	record["ts"] = time.Now().Format("2006-01-02T15:04:05.000000")

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := record["bar_index"]; !ok {
		record["bar_index"] = w.barIndex
	}
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	w.file.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
