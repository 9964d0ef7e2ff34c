// Package statsui provides the Bubble Tea attempt history viewer.
package statsui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/stats"
)

const (
	tabOverview = iota
	tabAttempts
	tabVector
)

const plotHeight = 10

const (
	filterIdentity = iota
	filterSince
	filterLast
	filterWindow
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Source is the read side of the attempt store.
type Source interface {
	stats.AttemptLister
	FeatureVector(ctx context.Context, attemptID string) (model.FeatureVector, error)
}

// Model implements the Bubble Tea history viewer.
type Model struct {
	source Source
	cfg    model.HistoryConfig

	report stats.Report
	// rows mirrors the attempt table, newest first.
	rows   []model.Attempt
	errMsg string

	tabs      []string
	activeTab int
	viewports []viewport.Model
	attempts  table.Model

	selected *model.Attempt
	vector   model.FeatureVector

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a history viewer reading from src.
func NewModel(src Source, cfg model.HistoryConfig) *Model {
	m := &Model{
		source: src,
		cfg:    cfg,
		tabs:   []string{"Overview", "Attempts", "Vector"},
	}
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
	m.filterInputs = []textinput.Model{
		newFilterInput("Identity: "),
		newFilterInput("Since (YYYY-MM-DD): "),
		newFilterInput("Last: "),
		newFilterInput("Curve window: "),
	}
	m.attempts = table.New(
		table.WithColumns(attemptColumns()),
		table.WithHeight(1),
	)
	m.attempts.SetStyles(attemptTableStyles())
	m.refreshReport()
	return m
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "=":
			m.cfg.CurveWindow = nextCurveWindow(m.cfg.CurveWindow)
			m.renderTabContents()
			return m, nil
		case "-":
			m.cfg.CurveWindow = prevCurveWindow(m.cfg.CurveWindow)
			m.renderTabContents()
			return m, nil
		case "/":
			return m.startFilter()
		case "enter":
			if m.activeTab == tabAttempts {
				m.selectAttempt(m.attempts.Cursor())
				m.setTab(tabVector)
			}
			return m, nil
		case "g", "home":
			if m.activeTab == tabAttempts {
				m.attempts.GotoTop()
			} else {
				m.viewports[m.activeTab].GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabAttempts {
				m.attempts.GotoBottom()
			} else {
				m.viewports[m.activeTab].GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		if m.activeTab == tabAttempts {
			m.attempts, cmd = m.attempts.Update(msg)
			return m, cmd
		}
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := maxInt(1, lipgloss.Height(activeNavStyle.Render("X")))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = maxInt(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = bodyHeight
	}
	m.attempts.SetWidth(m.width)
	// One line goes to the header border.
	m.attempts.SetHeight(maxInt(1, bodyHeight-1))
	for i := range m.filterInputs {
		m.filterInputs[i].Width = maxInt(10, m.width-lipgloss.Width(m.filterInputs[i].Prompt)-2)
	}
}

func (m *Model) moveTab(delta int) {
	next := m.activeTab + delta
	if next < 0 {
		next = len(m.tabs) - 1
	}
	if next >= len(m.tabs) {
		next = 0
	}
	m.setTab(next)
}

func (m *Model) setTab(tab int) {
	m.activeTab = tab
	if tab == tabAttempts {
		m.attempts.Focus()
	} else {
		m.attempts.Blur()
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	return padLines(m.renderTabs(), m.width) + "\n" + padLines(m.renderFilterSummary(), m.width)
}

func (m *Model) renderFilterSummary() string {
	identity := m.cfg.Identity
	if identity == "" {
		identity = "any"
	}
	since := "any"
	if m.cfg.Since != nil {
		since = m.cfg.Since.Format("2006-01-02")
	}
	last := "all"
	if m.cfg.Last > 0 {
		last = strconv.Itoa(m.cfg.Last)
	}
	summary := fmt.Sprintf("Filters: identity=%s  since=%s  last=%s  window=%d", identity, since, last, m.cfg.CurveWindow)
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab: next field  enter: apply  esc: cancel")
	}
	help := "Nav: left/right  Scroll: up/down/pgup/pgdn  Window: -/=  Filters: /  Quit: q"
	if m.activeTab == tabAttempts {
		help = "Nav: left/right  Select: up/down  Vector: enter  Filters: /  Quit: q"
	}
	if m.errMsg != "" {
		return headerStyle.Render(help) + "\n" + errorStyle.Render(m.errMsg)
	}
	return headerStyle.Render(help)
}

func (m *Model) renderBody(height int) string {
	if m.filterMode {
		lines := []string{"Filters (enter to apply, esc to cancel)"}
		for _, input := range m.filterInputs {
			lines = append(lines, input.View())
		}
		if m.filterError != "" {
			lines = append(lines, errorStyle.Render(m.filterError))
		}
		return fitLines(strings.Join(lines, "\n"), m.width, height)
	}
	if m.activeTab == tabAttempts {
		if len(m.rows) == 0 {
			return fitLines("No attempts found.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.attempts.View()), m.width, height)
	}
	return fitLines(m.viewports[m.activeTab].View(), m.width, height)
}

func (m *Model) refreshReport() {
	report, err := stats.BuildReport(context.Background(), m.source, m.cfg)
	if err != nil {
		m.errMsg = err.Error()
		m.report = stats.Report{}
		m.rows = nil
		m.attempts.SetRows(nil)
		m.renderTabContents()
		return
	}
	m.errMsg = ""
	m.report = report
	m.rows = make([]model.Attempt, 0, len(report.Attempts))
	for i := len(report.Attempts) - 1; i >= 0; i-- {
		m.rows = append(m.rows, report.Attempts[i])
	}
	m.attempts.SetRows(attemptRows(m.rows))
	m.attempts.GotoTop()
	m.selected = nil
	m.vector = nil
	m.renderTabContents()
}

func (m *Model) selectAttempt(idx int) {
	if idx < 0 || idx >= len(m.rows) {
		return
	}
	a := m.rows[idx]
	m.selected = &a
	m.vector = nil
	v, err := m.source.FeatureVector(context.Background(), a.ID)
	if err != nil {
		m.errMsg = fmt.Sprintf("failed to load feature vector: %v", err)
	} else {
		m.errMsg = ""
		m.vector = v
	}
	m.renderTabContents()
	m.viewports[tabVector].GotoTop()
}

func (m *Model) renderTabContents() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	if m.errMsg != "" && len(m.report.Attempts) == 0 {
		m.viewports[tabOverview].SetContent("Failed to load history.")
	} else {
		m.viewports[tabOverview].SetContent(renderOverview(m.report, m.cfg.CurveWindow, width))
	}
	m.viewports[tabVector].SetContent(renderVector(m.selected, m.vector))
}

func renderOverview(report stats.Report, window, width int) string {
	if len(report.Attempts) == 0 {
		return "No attempts found."
	}
	var buf bytes.Buffer
	if err := stats.RenderIdentityTable(&buf, report.Aggregates); err != nil {
		return fmt.Sprintf("Failed to render identities: %v", err)
	}
	if err := stats.RenderCurvesWithSize(&buf, report.Attempts, window, width, plotHeight, true); err != nil {
		return fmt.Sprintf("Failed to render curves: %v", err)
	}
	return renderSummaryCards(report.Aggregates, width) + "\n\n" + strings.TrimRight(buf.String(), "\n")
}

func renderSummaryCards(aggs []model.AttemptAggregate, width int) string {
	var total model.AttemptAggregate
	for _, agg := range aggs {
		total.Attempts += agg.Attempts
		total.Accepted += agg.Accepted
		total.Rejected += agg.Rejected
		total.CountMismatch += agg.CountMismatch
		total.TypingSpeeds = append(total.TypingSpeeds, agg.TypingSpeeds...)
	}
	cards := []string{
		metricCard("Attempts", strconv.Itoa(total.Attempts)),
		metricCard("Accept rate", fmt.Sprintf("%.1f%%", stats.AcceptRate(total)*100)),
		metricCard("Avg speed", fmt.Sprintf("%.2f c/s", stats.MeanTypingSpeed(total))),
		metricCard("Mismatches", strconv.Itoa(total.CountMismatch)),
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, cards...)
	if lipgloss.Width(row) > width {
		// Stack cards on narrow terminals.
		return lipgloss.JoinVertical(lipgloss.Left, cards...)
	}
	return row
}

func metricCard(label, value string) string {
	return cardStyle.Render(cardTitleStyle.Render(label) + "\n" + cardValueStyle.Render(value))
}

func renderVector(a *model.Attempt, v model.FeatureVector) string {
	if a == nil {
		return "Select an attempt on the Attempts tab and press enter."
	}
	lines := []string{
		fmt.Sprintf("Attempt %s", a.ID),
		fmt.Sprintf("Identity: %s  Intent: %s  Outcome: %s", a.Identity, a.Intent, a.Outcome),
		fmt.Sprintf("Ended: %s", a.EndedAt.Local().Format(time.DateTime)),
		fmt.Sprintf("Features: %d (expected %d)", a.FeatureCount, a.ExpectedCount),
	}
	if a.Message != "" {
		lines = append(lines, "Message: "+a.Message)
	}
	lines = append(lines, "")
	if len(v) == 0 {
		return strings.Join(append(lines, "No feature vector stored."), "\n")
	}
	sec, err := features.Layout(v)
	if err != nil {
		return strings.Join(append(lines, err.Error()), "\n")
	}
	lines = append(lines,
		"Holds (ms):     "+joinFloats(sec.Holds),
		"Intervals (ms): "+joinFloats(sec.Intervals),
		fmt.Sprintf("Typing speed:   %.3f chars/s", sec.TypingSpeed),
		fmt.Sprintf("Backspaces:     %.0f", sec.Backspaces),
		fmt.Sprintf("Pointer speed:  %.3f px/s", sec.PointerSpeed),
		fmt.Sprintf("Pointer travel: %.1f px", sec.PointerTravel),
		fmt.Sprintf("Clicks:         %.0f", sec.Clicks),
		fmt.Sprintf("Fingerprint:    %.0f", sec.Fingerprint),
	)
	return strings.Join(lines, "\n")
}

func joinFloats(values []float64) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strings.Join(parts, " ")
}

func attemptColumns() []table.Column {
	return []table.Column{
		{Title: "Ended", Width: 19},
		{Title: "Identity", Width: 12},
		{Title: "Intent", Width: 12},
		{Title: "Outcome", Width: 19},
		{Title: "Features", Width: 8},
		{Title: "Speed", Width: 6},
	}
}

func attemptRows(attempts []model.Attempt) []table.Row {
	rows := make([]table.Row, 0, len(attempts))
	for _, a := range attempts {
		identity := a.Identity
		if identity == "" {
			identity = "<none>"
		}
		rows = append(rows, table.Row{
			a.EndedAt.Local().Format(time.DateTime),
			identity,
			string(a.Intent),
			string(a.Outcome),
			fmt.Sprintf("%d/%d", a.FeatureCount, a.ExpectedCount),
			fmt.Sprintf("%.2f", a.TypingSpeed),
		})
	}
	return rows
}

func attemptTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.filterInputs[filterIdentity].SetValue(m.cfg.Identity)
	m.filterInputs[filterSince].SetValue("")
	if m.cfg.Since != nil {
		m.filterInputs[filterSince].SetValue(m.cfg.Since.Format("2006-01-02"))
	}
	m.filterInputs[filterLast].SetValue("")
	if m.cfg.Last > 0 {
		m.filterInputs[filterLast].SetValue(strconv.Itoa(m.cfg.Last))
	}
	m.filterInputs[filterWindow].SetValue(strconv.Itoa(m.cfg.CurveWindow))
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		cfg, err := m.parseFilter()
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.cfg = cfg
		m.filterMode = false
		m.filterError = ""
		m.refreshReport()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	if idx < 0 {
		idx = count - 1
	}
	if idx >= count {
		idx = 0
	}
	m.filterIndex = idx
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == idx {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) parseFilter() (model.HistoryConfig, error) {
	cfg := model.HistoryConfig{
		Identity:    strings.TrimSpace(m.filterInputs[filterIdentity].Value()),
		CurveWindow: m.cfg.CurveWindow,
	}
	if raw := strings.TrimSpace(m.filterInputs[filterSince].Value()); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return cfg, fmt.Errorf("invalid since date (expected YYYY-MM-DD)")
		}
		cfg.Since = &parsed
	}
	if raw := strings.TrimSpace(m.filterInputs[filterLast].Value()); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return cfg, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		cfg.Last = parsed
	}
	if raw := strings.TrimSpace(m.filterInputs[filterWindow].Value()); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return cfg, fmt.Errorf("invalid curve window (use integer >= 1)")
		}
		cfg.CurveWindow = parsed
	}
	return cfg, nil
}

func nextCurveWindow(n int) int {
	if n < 5 {
		return 5
	}
	return (n/5 + 1) * 5
}

func prevCurveWindow(n int) int {
	if n <= 5 {
		return 1
	}
	if n%5 == 0 {
		return n - 5
	}
	return (n / 5) * 5
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	if w := lipgloss.Width(line); w < width {
		return line + strings.Repeat(" ", width-w)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
