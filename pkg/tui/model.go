// Package tui is the terminal presentation of a live coaching session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// commandTimeout bounds a start, stop or toggle issued from the keyboard.
const commandTimeout = 30 * time.Second

// Controller is the session controller surface the TUI drives.
type Controller interface {
	Start(ctx context.Context, p coach.StartParams) error
	Stop(ctx context.Context) error
	ToggleCoach(ctx context.Context, enabled bool) error
	Phase() coach.Phase
	Snapshot() coach.Session
	Subscribe() (<-chan coach.Update, func())
}

// Model is the root bubbletea model.
type Model struct {
	ctrl    Controller
	updates <-chan coach.Update
	cancel  func()

	// Session state, refreshed from controller snapshots
	phase   coach.Phase
	session coach.Session
	level   float64

	// Reconnect
	attempt int
	retryIn time.Duration

	// UI state
	width          int
	height         int
	scroll         int
	live           bool
	pending        string
	errorMessage   string
	errorTransient bool
}

// New creates a Model subscribed to ctrl's updates.
func New(ctrl Controller) Model {
	updates, cancel := ctrl.Subscribe()
	return Model{
		ctrl:    ctrl,
		updates: updates,
		cancel:  cancel,
		phase:   ctrl.Phase(),
		session: ctrl.Snapshot(),
		live:    true,
	}
}

// Init starts listening for controller updates.
func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

// Close releases the update subscription.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func waitForUpdate(updates <-chan coach.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return UpdatesClosedMsg{}
		}
		return UpdateMsg{Update: u}
	}
}

func runCmd(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return CommandResultMsg{Action: action, Err: fn(ctx)}
	}
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		cmd := m.handleUpdate(msg.Update)
		return m, tea.Batch(cmd, waitForUpdate(m.updates))

	case UpdatesClosedMsg:
		m.errorMessage = "controller stopped"
		return m, nil

	case CommandResultMsg:
		m.pending = ""
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("%s: %v", msg.Action, msg.Err)
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		m.phase = m.ctrl.Phase()
		m.session = m.ctrl.Snapshot()
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// handleUpdate folds a controller update into the model.
func (m *Model) handleUpdate(u coach.Update) tea.Cmd {
	m.phase = u.Phase

	switch u.Kind {
	case coach.UpdateAudio:
		m.level = u.Level
		return nil

	case coach.UpdateLiveness:
		return nil

	case coach.UpdatePhase:
		if u.Phase == coach.PhaseReconnecting {
			m.attempt = u.Attempt
			m.retryIn = u.RetryIn
		} else {
			m.attempt = 0
			m.retryIn = 0
		}
		if u.Phase == coach.PhaseEnded {
			m.level = 0
		}

	case coach.UpdateSessionStarted:
		m.scroll = 0
		m.live = true

	case coach.UpdateError:
		m.errorMessage = u.Error
		m.errorTransient = false
	}

	m.session = m.ctrl.Snapshot()
	if m.live {
		m.scrollToBottom()
	}
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyQuit, keyCtrlC:
		return m, tea.Quit

	case keyStart:
		if m.pending != "" || !m.idle() {
			return m, nil
		}
		m.pending = "start"
		m.errorMessage = ""
		return m, runCmd("start", func(ctx context.Context) error {
			return m.ctrl.Start(ctx, coach.StartParams{})
		})

	case keyStop:
		if m.pending != "" || m.idle() {
			return m, nil
		}
		m.pending = "stop"
		return m, runCmd("stop", m.ctrl.Stop)

	case keyCoach:
		enabled := !m.session.CoachEnabled
		return m, runCmd("coach", func(ctx context.Context) error {
			return m.ctrl.ToggleCoach(ctx, enabled)
		})

	case keyUp:
		m.live = false
		if m.scroll > 0 {
			m.scroll--
		}
		return m, nil

	case keyDown:
		m.scroll++
		if limit := m.maxScroll(); m.scroll >= limit {
			m.scroll = limit
			m.live = true
		}
		return m, nil

	case keyBottom:
		m.live = true
		m.scrollToBottom()
		return m, nil
	}

	return m, nil
}

func (m Model) idle() bool {
	return m.phase == coach.PhaseIdle || m.phase == coach.PhaseEnded
}

func (m *Model) scrollToBottom() {
	m.scroll = m.maxScroll()
}

func (m Model) maxScroll() int {
	visible := m.visibleLines()
	if len(m.session.Transcript) <= visible {
		return 0
	}
	return len(m.session.Transcript) - visible
}

func (m Model) visibleLines() int {
	if m.height == 0 {
		return 20
	}
	// header, status, two dividers, panel title, error, footer
	return max(5, m.height-7)
}

func (m Model) sidePanelWidth() int {
	if m.width == 0 {
		return 36
	}
	return max(24, m.width*35/100)
}

func (m Model) transcriptPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.sidePanelWidth()-1)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("! "+m.errorMessage))
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("COACH")
	if m.session.CallID != "" {
		title += dimStyle.Render("  " + m.session.CallID)
	}
	if d := m.session.Duration(); d > 0 {
		title += dimStyle.Render("  " + d.Truncate(time.Second).String())
	}
	return title
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.phase {
	case coach.PhaseLive:
		dot = liveDotStyle.Render("● LIVE")
	case coach.PhaseConnecting:
		dot = warnDotStyle.Render("◌ CONNECTING")
	case coach.PhaseReconnecting:
		dot = warnDotStyle.Render(fmt.Sprintf("◌ RECONNECTING (attempt %d, retry in %s)", m.attempt, m.retryIn))
	case coach.PhaseEnding:
		dot = warnDotStyle.Render("◌ ENDING")
	case coach.PhaseEnded:
		dot = idleDotStyle.Render("○ ENDED")
		if m.session.EndReason != "" {
			dot += dimStyle.Render(" (" + string(m.session.EndReason) + ")")
		}
	default:
		dot = idleDotStyle.Render("○ IDLE")
	}

	coachState := dimStyle.Render("coach off")
	if m.session.CoachEnabled {
		coachState = suggestionStyle.Render("coach on")
	}

	parts := []string{dot, coachState}
	if m.phase == coach.PhaseLive || m.phase == coach.PhaseReconnecting {
		parts = append(parts, renderLevelMeter(m.level))
	}
	if m.pending != "" {
		parts = append(parts, dimStyle.Render(m.pending+"..."))
	}
	return strings.Join(parts, "  ")
}

func renderLevelMeter(level float64) string {
	const barLen = 10
	filled := int(level * barLen)
	if filled > barLen {
		filled = barLen
	}
	return "MIC " + levelOnStyle.Render(strings.Repeat("█", filled)) +
		levelOffStyle.Render(strings.Repeat("░", barLen-filled))
}

func (m Model) renderMainContent() string {
	sideW := m.sidePanelWidth()
	height := m.visibleLines() + 1

	left := strings.Split(m.renderTranscriptPanel(m.transcriptPanelWidth()), "\n")
	right := strings.Split(m.renderSidePanel(sideW, height), "\n")

	divider := dividerStyle.Render("│")
	rows := make([]string, 0, height)
	for i := 0; i < height; i++ {
		l, r := "", ""
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		rows = append(rows, padRight(l, m.transcriptPanelWidth())+divider+r)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderTranscriptPanel(width int) string {
	title := fmt.Sprintf("TRANSCRIPT (%d)", len(m.session.Transcript))
	if !m.live {
		title += " [scrolled]"
	}
	lines := []string{panelTitleStyle.Render(title)}

	if len(m.session.Transcript) == 0 {
		lines = append(lines, dimStyle.Render("  Press s to start a call"))
		return strings.Join(lines, "\n")
	}

	end := min(len(m.session.Transcript), m.scroll+m.visibleLines())
	for _, seg := range m.session.Transcript[m.scroll:end] {
		label := selfLabelStyle.Render("You ")
		if seg.Speaker == protocol.SpeakerCounterpart {
			label = counterpartLabelStyle.Render("Them")
		}
		text := truncate(seg.Text, width-6)
		if seg.IsObjection {
			text = objectionStyle.Render(text)
		}
		lines = append(lines, label+"  "+text)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderSidePanel(width, height int) string {
	var lines []string

	lines = append(lines, panelTitleStyle.Render(fmt.Sprintf("OBJECTIONS (%d)", len(m.session.Objections))))
	objections := m.session.Objections
	if len(objections) > 5 {
		objections = objections[len(objections)-5:]
	}
	for _, o := range objections {
		lines = append(lines, objectionStyle.Render(truncate(o.Type+": "+o.Text, width-1)))
	}
	if len(objections) == 0 {
		lines = append(lines, dimStyle.Render("  none yet"))
	}

	lines = append(lines, "", panelTitleStyle.Render("SUGGESTIONS"))
	suggestions := m.session.RecentSuggestions(3)
	for _, s := range suggestions {
		for _, l := range wrap(s.Text, width-2) {
			lines = append(lines, suggestionStyle.Render("› "+l))
		}
	}
	if len(suggestions) == 0 {
		lines = append(lines, dimStyle.Render("  none yet"))
	}

	if s := m.session.Summary; s != nil {
		lines = append(lines, "", panelTitleStyle.Render("SUMMARY"))
		lines = append(lines, wrap(s.Overview, width-1)...)
		for _, step := range s.NextSteps {
			lines = append(lines, dimStyle.Render(truncate("- "+step, width-1)))
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{keyStart, "start"},
		{keyStop, "stop"},
		{keyCoach, "coach"},
		{"↑↓", "scroll"},
		{keyQuit, "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+" "+footerDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func wrap(s string, width int) []string {
	if width < 10 {
		width = 10
	}
	var lines []string
	var line string
	for _, word := range strings.Fields(s) {
		switch {
		case line == "":
			line = word
		case len([]rune(line))+1+len([]rune(word)) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
