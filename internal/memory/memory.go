// Package memory provides the per-run, file-backed memory the agent reads
// and writes through its memory tools: an append-only daily journal,
// overwritable topic notes, and the strategy playbook. Files are the source
// of truth; nothing is indexed or cached.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ════════════════════════════════════════════════════════════════════
// Workspace
// ════════════════════════════════════════════════════════════════════

// Workspace is the isolated directory tree for one backtest run:
//
//	{root}/
//	  playbook.md
//	  journal/{date}.md
//	  notes/{key}.md
//	  decisions.jsonl
//	  trace.jsonl
//	  result.json
type Workspace struct {
	root string
}

// NewWorkspace creates the run directory and its journal/ and notes/
// subdirectories. An empty root picks a unique timestamped directory under
// the system temp dir.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		now := time.Now()
		stamp := fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
		root = filepath.Join(os.TempDir(), "agenticbt", "run_"+stamp)
	}
	for _, sub := range []string{"journal", "notes"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("memory: create workspace: %w", err)
		}
	}
	return &Workspace{root: root}, nil
}

// Path returns the workspace root directory.
func (w *Workspace) Path() string { return w.root }

// File returns the absolute path of a file directly under the root.
func (w *Workspace) File(name string) string { return filepath.Join(w.root, name) }

// ════════════════════════════════════════════════════════════════════
// Memory
// ════════════════════════════════════════════════════════════════════

// RecallHit is one file matched by a Recall query.
type RecallHit struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Memory exposes the three core operations (log / note / recall) plus the
// playbook on top of a Workspace. The current date is advanced by the
// backtest loop so journal entries land on the simulated day, not on the
// wall-clock day.
type Memory struct {
	ws   *Workspace
	date time.Time
}

// New creates a Memory over the workspace, starting at today's date.
func New(ws *Workspace) *Memory {
	return &Memory{ws: ws, date: time.Now()}
}

// SetDate moves the simulated date forward as the backtest advances.
func (m *Memory) SetDate(d time.Time) { m.date = d }

// InitPlaybook seeds playbook.md with the strategy description.
func (m *Memory) InitPlaybook(strategyPrompt string) error {
	if err := os.WriteFile(m.ws.File("playbook.md"), []byte(strategyPrompt), 0644); err != nil {
		return fmt.Errorf("memory: write playbook: %w", err)
	}
	return nil
}

// Playbook returns the playbook text, or "" when none was written.
func (m *Memory) Playbook() string {
	data, err := os.ReadFile(m.ws.File("playbook.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// Log appends one entry to the journal file of the current simulated date.
func (m *Memory) Log(content string) error {
	return m.LogAt(m.date, content)
}

// LogAt appends one entry to the journal file of the given date.
func (m *Memory) LogAt(d time.Time, content string) error {
	name := filepath.Join(m.ws.root, "journal", d.Format("2006-01-02")+".md")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("memory: open journal: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "\n- %s\n", content); err != nil {
		return fmt.Errorf("memory: append journal: %w", err)
	}
	return nil
}

// Note creates or overwrites a topic note.
func (m *Memory) Note(key, content string) error {
	name := filepath.Join(m.ws.root, "notes", key+".md")
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		return fmt.Errorf("memory: write note %s: %w", key, err)
	}
	return nil
}

// ReadNote returns a note's content and whether it exists.
func (m *Memory) ReadNote(key string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(m.ws.root, "notes", key+".md"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PositionNotes reads the position_<symbol> note for each held symbol.
// Symbols without a note are absent from the result.
func (m *Memory) PositionNotes(symbols []string) map[string]string {
	notes := make(map[string]string)
	for _, sym := range symbols {
		if content, ok := m.ReadNote("position_" + sym); ok {
			notes[sym] = content
		}
	}
	return notes
}

// Recall scans journal/, then notes/, then playbook.md for files containing
// any whitespace-separated token of the query. File order inside each
// directory is lexicographic, so results are deterministic.
func (m *Memory) Recall(query string) []RecallHit {
	keywords := strings.Fields(query)
	hits := []RecallHit{}

	hits = append(hits, m.scanDir("journal", keywords)...)
	hits = append(hits, m.scanDir("notes", keywords)...)

	if data, err := os.ReadFile(m.ws.File("playbook.md")); err == nil {
		if containsAny(string(data), keywords) {
			hits = append(hits, RecallHit{Source: "playbook.md", Content: strings.TrimSpace(string(data))})
		}
	}
	return hits
}

func (m *Memory) scanDir(sub string, keywords []string) []RecallHit {
	entries, err := os.ReadDir(filepath.Join(m.ws.root, sub))
	if err != nil {
		return nil
	}
	var hits []RecallHit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.ws.root, sub, e.Name()))
		if err != nil {
			continue
		}
		if containsAny(string(data), keywords) {
			hits = append(hits, RecallHit{
				Source:  sub + "/" + e.Name(),
				Content: strings.TrimSpace(string(data)),
			})
		}
	}
	return hits
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
