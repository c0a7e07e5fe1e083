package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestSummarizeEventReadsEnvelope(t *testing.T) {
	t.Parallel()

	raw := `{"name":"MXDiagnosticPayload","payloads":[{"a":1},{}]}`
	item := summarizeEvent(raw, time.Unix(0, 0))

	if item.invalid {
		t.Fatal("expected envelope to parse")
	}
	if item.name != "MXDiagnosticPayload" {
		t.Fatalf("name = %q, want MXDiagnosticPayload", item.name)
	}
	if item.payloads != 2 {
		t.Fatalf("payloads = %d, want 2", item.payloads)
	}
	if item.size != len(raw) {
		t.Fatalf("size = %d, want %d", item.size, len(raw))
	}
	if item.preview != `[{"a":1},{}]` {
		t.Fatalf("preview = %q", item.preview)
	}
}

func TestSummarizeEventFlagsUnreadableInput(t *testing.T) {
	t.Parallel()

	item := summarizeEvent("not json", time.Now())
	if !item.invalid {
		t.Fatal("expected unreadable event to be flagged")
	}
	if item.preview != "not json" {
		t.Fatalf("preview = %q", item.preview)
	}
}

func TestPreviewTextTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", previewLimit+10)
	got := previewText(long)
	if !strings.HasSuffix(got, "...") || len(got) != previewLimit+3 {
		t.Fatalf("unexpected preview length %d", len(got))
	}
}

func TestUpdateAppendsEventsAndCounts(t *testing.T) {
	t.Parallel()

	m := newModel("http://127.0.0.1:18791")
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(eventMsg{raw: `{"name":"MXMetricPayload","payloads":[{}]}`})
	m.Update(eventMsg{raw: `{"name":"MXDiagnosticPayload","payloads":[]}`})
	m.Update(eventMsg{raw: `{"name":"MXMetricPayload","payloads":[{},{}]}`})

	if len(m.entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(m.entries))
	}
	if got := countByName(m.entries, "MXMetricPayload"); got != 2 {
		t.Fatalf("metric count = %d, want 2", got)
	}

	view := m.View()
	if !strings.Contains(view, "envelopes:3") {
		t.Fatalf("expected envelope count in header, got:\n%s", view)
	}
}

func TestStreamEndedShowsError(t *testing.T) {
	t.Parallel()

	m := newModel("")
	m.Update(streamEndedMsg{err: errors.New("connection reset")})

	if !m.ended {
		t.Fatal("expected stream to be marked ended")
	}
	if !strings.Contains(m.View(), "connection reset") {
		t.Fatal("expected stream error in status line")
	}
	if !strings.Contains(m.View(), "source:n/a") {
		t.Fatal("expected empty target to render as n/a")
	}
}

func TestQuitKeys(t *testing.T) {
	t.Parallel()

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		m := newModel("")
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected tea.QuitMsg for %q", key.String())
		}
	}
}

func TestHandleViewportKeyPageUpDisablesFollowLog(t *testing.T) {
	t.Parallel()

	m := newModel("")
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	previousOffset := m.viewport.YOffset
	if !m.handleViewportKey(tea.KeyMsg{Type: tea.KeyPgUp}) {
		t.Fatal("expected pgup to be handled")
	}
	if m.followLog {
		t.Fatal("expected followLog to be disabled after pgup")
	}
	if m.viewport.YOffset >= previousOffset {
		t.Fatalf("expected YOffset to decrease, got %d want < %d", m.viewport.YOffset, previousOffset)
	}
}

func TestHandleViewportKeyEndEnablesFollowLog(t *testing.T) {
	t.Parallel()

	m := newModel("")
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoTop()
	m.followLog = false

	if !m.handleViewportKey(tea.KeyMsg{Type: tea.KeyEnd}) {
		t.Fatal("expected end to be handled")
	}
	if !m.viewport.AtBottom() || !m.followLog {
		t.Fatal("expected end to jump to bottom and follow")
	}
	if m.handleViewportKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}) {
		t.Fatal("expected unrelated key to be ignored")
	}
}

func TestRenderErrorIncludesCode(t *testing.T) {
	t.Parallel()

	got := RenderError("unsupported_platform_version", "needs 14.0")
	if !strings.Contains(got, "unsupported_platform_version") || !strings.Contains(got, "needs 14.0") {
		t.Fatalf("unexpected render: %q", got)
	}
}
