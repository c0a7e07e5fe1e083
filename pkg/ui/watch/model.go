package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"
)

const previewLimit = 240

type eventMsg struct {
	raw string
}

type streamEndedMsg struct {
	err error
}

// entry is one received envelope, summarized for display.
type entry struct {
	at       time.Time
	name     string
	payloads int64
	size     int
	preview  string
	invalid  bool
}

type model struct {
	target string

	theme     theme
	spinner   spinner.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	followLog bool
	ended     bool
	lastErr   string
}

func newModel(target string) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(colorMetric)

	return &model{
		target:    target,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}
		m.handleViewportKey(typed)
		return m, nil
	case eventMsg:
		m.entries = append(m.entries, summarizeEvent(typed.raw, time.Now()))
		m.refreshViewport()
		return m, nil
	case streamEndedMsg:
		m.ended = true
		if typed.err != nil {
			m.lastErr = typed.err.Error()
		}
		return m, nil
	case spinner.TickMsg:
		if m.ended {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	return m, nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("📡 MetricKit Event Stream")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"source:%s · envelopes:%d · metric:%d · diagnostic:%d",
		displayOrNA(m.target),
		len(m.entries),
		countByName(m.entries, "MXMetricPayload"),
		countByName(m.entries, "MXDiagnosticPayload"),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.statusBusy.Render(fmt.Sprintf("%s listening for reports  ·  PgUp/PgDn scroll  ·  q quit", m.spinner.View()))
	if m.ended {
		status = m.theme.status.Render("stream closed  ·  q quit")
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
	)
}

func (m *model) resizeComponents() {
	m.viewport.Width = max(50, m.width-6)
	m.viewport.Height = max(8, m.height-8)
}

func (m *model) refreshViewport() {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog {
		m.viewport.GotoBottom()
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	stamp := item.at.Format("15:04:05")
	if item.invalid {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.theme.errorTitle.Render("▛▚ [UNREADABLE] "+stamp+" ▞▜"),
			m.theme.errorBox.Width(m.viewport.Width).Render(item.preview),
		)
	}

	title := m.theme.metricTitle
	if item.name == "MXDiagnosticPayload" {
		title = m.theme.diagnosticTitle
	}

	summary := m.theme.hint.Render(fmt.Sprintf("%d payload(s) · %d bytes", item.payloads, item.size))
	return lipgloss.JoinVertical(lipgloss.Left,
		title.Render(fmt.Sprintf("▛▚ [%s] %s ▞▜", item.name, stamp)),
		m.theme.body.Width(m.viewport.Width).Render(summary+"\n"+item.preview),
	)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "up", "k":
		m.viewport.ViewUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "down", "j":
		m.viewport.ViewDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home", "g":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end", "G":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func summarizeEvent(raw string, at time.Time) entry {
	item := entry{at: at, size: len(raw), preview: previewText(raw)}
	if !gjson.Valid(raw) {
		item.invalid = true
		return item
	}

	item.name = gjson.Get(raw, "name").String()
	item.payloads = gjson.Get(raw, "payloads.#").Int()
	if item.name == "" {
		item.name = "unknown"
	}
	if payloads := gjson.Get(raw, "payloads"); payloads.IsArray() {
		item.preview = previewText(payloads.Raw)
	}
	return item
}

func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= previewLimit {
		return trimmed
	}
	return trimmed[:previewLimit] + "..."
}

func countByName(entries []entry, name string) int {
	count := 0
	for _, item := range entries {
		if item.name == name {
			count++
		}
	}
	return count
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}
