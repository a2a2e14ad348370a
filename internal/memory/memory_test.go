package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return New(ws)
}

func TestWorkspaceLayout(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if ws.Path() != root {
		t.Errorf("expected path %s, got %s", root, ws.Path())
	}
	for _, sub := range []string{"journal", "notes"} {
		info, err := os.Stat(filepath.Join(root, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s/ directory, err=%v", sub, err)
		}
	}
}

func TestWorkspaceDefaultRootIsUnique(t *testing.T) {
	a, err := NewWorkspace("")
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	b, err := NewWorkspace("")
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	defer os.RemoveAll(a.Path())
	defer os.RemoveAll(b.Path())

	if a.Path() == b.Path() {
		t.Errorf("two default workspaces share the path %s", a.Path())
	}
	if !strings.Contains(a.Path(), "run_") {
		t.Errorf("default workspace should be timestamped, got %s", a.Path())
	}
}

func TestPlaybookRoundTrip(t *testing.T) {
	m := newTestMemory(t)
	if got := m.Playbook(); got != "" {
		t.Errorf("empty workspace should have empty playbook, got %q", got)
	}
	if err := m.InitPlaybook("RSI 均值回归策略"); err != nil {
		t.Fatalf("InitPlaybook: %v", err)
	}
	if got := m.Playbook(); got != "RSI 均值回归策略" {
		t.Errorf("playbook mismatch: %q", got)
	}
}

func TestLogAppendsToDailyJournal(t *testing.T) {
	m := newTestMemory(t)
	day := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	m.SetDate(day)

	if err := m.Log("买入 AAPL 100股"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := m.Log("平仓 AAPL"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(m.ws.Path(), "journal", "2024-03-15.md"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	want := "\n- 买入 AAPL 100股\n\n- 平仓 AAPL\n"
	if string(data) != want {
		t.Errorf("journal content mismatch:\ngot  %q\nwant %q", string(data), want)
	}
}

func TestNoteOverwrites(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Note("performance", "胜率 0.50"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	if err := m.Note("performance", "胜率 0.62"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	content, ok := m.ReadNote("performance")
	if !ok {
		t.Fatal("note should exist")
	}
	if content != "胜率 0.62" {
		t.Errorf("note should be overwritten, got %q", content)
	}

	if _, ok := m.ReadNote("missing"); ok {
		t.Error("missing note must report ok=false")
	}
}

func TestPositionNotes(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Note("position_AAPL", "分批建仓中"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	notes := m.PositionNotes([]string{"AAPL", "GOOGL"})
	if len(notes) != 1 {
		t.Fatalf("expected one note, got %d", len(notes))
	}
	if notes["AAPL"] != "分批建仓中" {
		t.Errorf("unexpected note content: %q", notes["AAPL"])
	}
}

func TestRecallScanOrderAndMatching(t *testing.T) {
	m := newTestMemory(t)
	m.SetDate(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	if err := m.InitPlaybook("趋势跟随 playbook"); err != nil {
		t.Fatalf("InitPlaybook: %v", err)
	}
	if err := m.LogAt(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), "回撤过大，减仓"); err != nil {
		t.Fatalf("LogAt: %v", err)
	}
	if err := m.LogAt(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "趋势确认，加仓"); err != nil {
		t.Fatalf("LogAt: %v", err)
	}
	if err := m.Note("regime", "当前为趋势市"); err != nil {
		t.Fatalf("Note: %v", err)
	}

	hits := m.Recall("趋势")
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d: %v", len(hits), hits)
	}
	// journal (sorted by date), then notes, then playbook.
	if hits[0].Source != "journal/2024-03-15.md" {
		t.Errorf("expected journal hit first, got %s", hits[0].Source)
	}
	if hits[1].Source != "notes/regime.md" {
		t.Errorf("expected notes hit second, got %s", hits[1].Source)
	}
	if hits[2].Source != "playbook.md" {
		t.Errorf("expected playbook hit last, got %s", hits[2].Source)
	}

	if hits := m.Recall("不存在的词"); len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hits)
	}
}

func TestRecallAnyKeywordMatches(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Note("lessons", "止损要快"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	hits := m.Recall("完全无关 止损")
	if len(hits) != 1 {
		t.Fatalf("any-token match failed, got %v", hits)
	}
}
