package watch

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for the watch UI regions.
type theme struct {
	header          lipgloss.Style
	headerMeta      lipgloss.Style
	divider         lipgloss.Style
	metricTitle     lipgloss.Style
	diagnosticTitle lipgloss.Style
	body            lipgloss.Style
	errorTitle      lipgloss.Style
	errorBox        lipgloss.Style
	status          lipgloss.Style
	statusBusy      lipgloss.Style
	statusErr       lipgloss.Style
	hint            lipgloss.Style
	viewport        lipgloss.Style
}

// Envelope kinds get distinct badge colors so metric and diagnostic batches
// are easy to tell apart while scrolling.
const (
	colorInk        = lipgloss.Color("16")
	colorPaper      = lipgloss.Color("252")
	colorAccent     = lipgloss.Color("31")
	colorMetric     = lipgloss.Color("44")
	colorDiagnostic = lipgloss.Color("214")
	colorAlert      = lipgloss.Color("203")
	colorMuted      = lipgloss.Color("244")
)

func badge(fg lipgloss.Color, bg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(fg).Background(bg).Padding(0, 1)
}

func boxed(border lipgloss.Border, color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(border).BorderForeground(color).Padding(0, 1)
}

func defaultTheme() theme {
	return theme{
		header:          badge(lipgloss.Color("230"), lipgloss.Color("24")),
		headerMeta:      lipgloss.NewStyle().Foreground(lipgloss.Color("152")),
		divider:         lipgloss.NewStyle().Foreground(colorAccent),
		metricTitle:     badge(colorInk, colorMetric),
		diagnosticTitle: badge(colorInk, colorDiagnostic),
		body:            boxed(lipgloss.RoundedBorder(), lipgloss.Color("109")).Foreground(colorPaper),
		errorTitle:      badge(lipgloss.Color("231"), lipgloss.Color("160")),
		errorBox:        boxed(lipgloss.DoubleBorder(), colorAlert).Foreground(colorAlert),
		status:          lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")),
		statusBusy:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("222")),
		statusErr:       lipgloss.NewStyle().Bold(true).Foreground(colorAlert),
		hint:            lipgloss.NewStyle().Foreground(colorMuted),
		viewport:        boxed(lipgloss.ThickBorder(), colorAccent),
	}
}

// errorStyle is shared with one-shot CLI output.
func errorStyle() lipgloss.Style {
	return defaultTheme().statusErr
}
