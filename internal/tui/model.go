// Package tui provides the Bubble Tea enrollment and authentication form.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/keyrhythm/internal/attempt"
	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/schema"
)

const (
	fieldIdentity = iota
	fieldPassphrase
)

type messageKind int

const (
	messageInfo messageKind = iota
	messageWarn
	messageError
)

var (
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	incorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	overflowStyle  = incorrectStyle.Copy().Underline(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cursorStyle    = pendingStyle.Copy().Underline(true)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FB77E"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	formStyle      = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
)

type schemaMsg struct {
	identity string
	count    model.ExpectedCount
	err      error
}

type submitMsg struct {
	outcome attempt.Outcome
	err     error
}

// Model implements the Bubble Tea capture form.
type Model struct {
	flow       *attempt.Flow
	feed       *capture.Feed
	clock      capture.Clock
	log        *logger.Logger
	passphrase []rune

	width  int
	height int

	inputs []textinput.Model
	focus  int

	expected       model.ExpectedCount
	fetchedFor     string
	busy           bool
	message        string
	messageKind    messageKind
	lastSubmission string
}

// NewModel constructs the form. Key and mouse input is published to feed,
// which the flow's capture controller is expected to be attached to.
func NewModel(flow *attempt.Flow, feed *capture.Feed, passphrase string, log *logger.Logger) *Model {
	if log == nil {
		log = logger.Nop()
	}
	m := &Model{
		flow:       flow,
		feed:       feed,
		clock:      capture.SystemClock(),
		log:        log,
		passphrase: []rune(passphrase),
		expected:   flow.Expected(),
		fetchedFor: "\x00",
	}
	m.inputs = []textinput.Model{
		newInput("Identity:   ", "username"),
		newInput("Passphrase: ", passphrase),
	}
	m.inputs[fieldIdentity].Focus()
	return m
}

func newInput(prompt, placeholder string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.Placeholder = placeholder
	input.CharLimit = 256
	return input
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchSchema())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for i := range m.inputs {
			m.inputs[i].Width = maxInt(10, m.contentWidth()-lipgloss.Width(m.inputs[i].Prompt)-1)
		}
		return m, nil
	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil
	case schemaMsg:
		return m.handleSchema(msg), nil
	case submitMsg:
		return m.handleSubmit(msg), nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	lines := []string{
		titleStyle.Render("keyrhythm"),
		"",
		m.inputs[fieldIdentity].View(),
		m.inputs[fieldPassphrase].View(),
		"",
		m.renderGuide(),
		"",
		m.renderExpected(),
	}
	if line := m.renderMessage(); line != "" {
		lines = append(lines, line)
	}
	content := formStyle.Render(strings.Join(lines, "\n"))
	footer := m.renderFooter()
	if m.width == 0 || m.height < 3 {
		return content + "\n" + footer
	}
	body := lipgloss.Place(m.width, m.height-1, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyCtrlE:
		return m, m.submit(model.IntentEnroll)
	case tea.KeyCtrlA:
		return m, m.submit(model.IntentAuthenticate)
	case tea.KeyCtrlR:
		return m, m.fetchSchema()
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyEnter:
		if msg.Type == tea.KeyEnter && m.focus == fieldPassphrase {
			return m, nil
		}
		return m, m.toggleFocus()
	}

	if m.focus == fieldPassphrase {
		m.publishKey(msg)
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	m.syncForm()
	return m, cmd
}

// publishKey turns a terminal key into press and release events. Terminals
// report no key release, so both share one timestamp.
func (m *Model) publishKey(msg tea.KeyMsg) {
	now := m.clock.Now()
	emit := func(e capture.Event) {
		e.At = now
		e.Kind = capture.KeyPress
		m.feed.Publish(e)
		e.Kind = capture.KeyRelease
		m.feed.Publish(e)
	}
	switch msg.Type {
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			emit(capture.Event{Char: r})
		}
	case tea.KeySpace:
		emit(capture.Event{Char: ' '})
	case tea.KeyBackspace:
		emit(capture.Event{Erase: true})
	default:
		emit(capture.Event{})
	}
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	e := capture.Event{X: float64(msg.X), Y: float64(msg.Y), At: m.clock.Now()}
	switch {
	case msg.Action == tea.MouseActionMotion:
		e.Kind = capture.PointerMove
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		e.Kind = capture.PointerPress
	default:
		return
	}
	m.feed.Publish(e)
}

func (m *Model) toggleFocus() tea.Cmd {
	m.inputs[m.focus].Blur()
	leaving := m.focus
	m.focus = (m.focus + 1) % len(m.inputs)
	focusCmd := m.inputs[m.focus].Focus()
	// Device capture also sees identity keystrokes; start clean.
	if m.focus == fieldPassphrase && m.inputs[fieldPassphrase].Value() == "" {
		m.flow.Restart()
	}
	if leaving == fieldIdentity && m.identity() != m.fetchedFor {
		return tea.Batch(focusCmd, m.fetchSchema())
	}
	return focusCmd
}

func (m *Model) syncForm() {
	m.flow.SetIdentity(m.identity())
	m.flow.SetPassphrase(m.inputs[fieldPassphrase].Value())
}

func (m *Model) identity() string {
	return strings.TrimSpace(m.inputs[fieldIdentity].Value())
}

func (m *Model) fetchSchema() tea.Cmd {
	identity := m.identity()
	m.fetchedFor = identity
	flow := m.flow
	return func() tea.Msg {
		count, err := flow.RefreshSchema(context.Background())
		return schemaMsg{identity: identity, count: count, err: err}
	}
}

func (m *Model) handleSchema(msg schemaMsg) *Model {
	m.expected = msg.count
	if msg.err != nil {
		m.setMessage(messageWarn, "Could not fetch expected feature count.")
		return m
	}
	m.setMessage(messageInfo, fmt.Sprintf("Expected feature count: %d", msg.count.Value))
	return m
}

// submit runs extraction on the UI goroutine and hands the network call to
// a command. A second submission is refused while one is in flight.
func (m *Model) submit(intent model.Intent) tea.Cmd {
	if m.busy {
		m.setMessage(messageWarn, "A request is already in progress.")
		return nil
	}
	m.syncForm()
	sub, err := m.flow.Prepare(intent)
	if err != nil {
		m.reportPrepareError(err)
		return nil
	}
	m.busy = true
	m.lastSubmission = string(intent)
	m.setMessage(messageInfo, fmt.Sprintf("Sending %s request...", intent))
	flow := m.flow
	return func() tea.Msg {
		out, err := flow.Send(context.Background(), sub)
		return submitMsg{outcome: out, err: err}
	}
}

func (m *Model) reportPrepareError(err error) {
	var mismatch *schema.CountMismatchError
	switch {
	case errors.Is(err, attempt.ErrIdentityMissing):
		m.setMessage(messageWarn, "Identity is required.")
	case errors.Is(err, features.ErrPassphraseMismatch):
		m.setMessage(messageError, "Passphrase incorrect!")
	case errors.Is(err, features.ErrEmptySession):
		m.setMessage(messageWarn, "Type the passphrase first.")
	case errors.As(err, &mismatch):
		m.inputs[fieldPassphrase].SetValue("")
		m.setMessage(messageError, fmt.Sprintf(
			"Feature count mismatch! Expected %d, got %d. Please type the passphrase exactly and try again.",
			mismatch.Expected, mismatch.Actual))
	default:
		m.log.Error("TUI: failed to prepare submission", "error", err.Error())
		m.setMessage(messageError, err.Error())
	}
}

func (m *Model) handleSubmit(msg submitMsg) *Model {
	m.busy = false
	if msg.err != nil {
		m.setMessage(messageError, fmt.Sprintf("Request failed: %v", msg.err))
		return m
	}
	m.inputs[fieldPassphrase].SetValue("")
	kind := messageInfo
	if msg.outcome.Kind == model.OutcomeRejected {
		kind = messageWarn
	}
	m.setMessage(kind, msg.outcome.Summary())
	return m
}

func (m *Model) setMessage(kind messageKind, text string) {
	m.messageKind = kind
	m.message = text
}

func (m *Model) renderGuide() string {
	typed := []rune(m.inputs[fieldPassphrase].Value())
	cursorIndex := -1
	if m.focus == fieldPassphrase && len(typed) < len(m.passphrase) {
		cursorIndex = len(typed)
	}
	return wrapStyledRunes(buildStyledRunes(m.passphrase, typed, cursorIndex), m.contentWidth())
}

func (m *Model) renderExpected() string {
	return footerStyle.Render(fmt.Sprintf("Expected feature count: %d (%s)", m.expected.Value, m.expected.Source))
}

func (m *Model) renderMessage() string {
	if m.message == "" {
		return ""
	}
	style := infoStyle
	switch m.messageKind {
	case messageWarn:
		style = warnStyle
	case messageError:
		style = errorStyle
	}
	return style.Width(m.contentWidth()).Render(m.message)
}

func (m *Model) renderFooter() string {
	typed := len([]rune(m.inputs[fieldPassphrase].Value()))
	progress := 0
	if len(m.passphrase) > 0 {
		progress = minInt(100, typed*100/len(m.passphrase))
	}
	segments := []string{
		fmt.Sprintf("Typed %d%%", progress),
		"State " + m.flow.State().String(),
	}
	if m.busy {
		segments = append(segments, "Waiting for "+m.lastSubmission)
	}
	segments = append(segments, "ctrl+e enroll  ctrl+a authenticate  ctrl+r refresh  tab switch  ctrl+c quit")
	return footerStyle.Render(strings.Join(segments, "  "))
}

func (m *Model) contentWidth() int {
	if m.width <= 0 {
		return 60
	}
	return maxInt(20, int(float64(m.width)*0.70))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
