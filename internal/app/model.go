package app

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/daemon"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// barCents is the deviation at which the tendency bar is full.
const barCents = 50.0

// Model is the root bubbletea model for the pitchtend dashboard.
type Model struct {
	socketPath string

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Instruments, and the index of the one being shown. -1 shows all.
	instruments     []tendency.Instrument
	instrumentIndex int

	// Tendency table
	rows     []tendency.Summary
	selected int
	loading  bool

	lastSession string

	// UI state
	width  int
	height int

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a new Model that talks to the daemon at socketPath.
func New(socketPath string) Model {
	return Model{
		socketPath:      socketPath,
		instrumentIndex: -1,
		statusText:      "Connecting to pitchtend daemon...",
	}
}

// Init returns the initial command: connect to the daemon.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd attempts to connect to the daemon with two connections:
// one for commands, one for event subscription.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd sends a subscribe command on the event client and starts reading events.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := evClient.SendCommand(daemon.Command{Cmd: daemon.CmdSubscribe})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		if err := resp.Err(); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

// readEventCmd reads the next event from the event client.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

// instrumentsCmd fetches the instrument list.
func instrumentsCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		instruments, err := client.Instruments()
		return InstrumentsLoadedMsg{Instruments: instruments, Err: err}
	}
}

// tendenciesCmd fetches the tendency table for instrumentID, nil for all.
func tendenciesCmd(client *daemon.Client, instrumentID *int64) tea.Cmd {
	return func() tea.Msg {
		rows, err := client.Tendencies(instrumentID)
		return TendenciesLoadedMsg{InstrumentID: instrumentID, Rows: rows, Err: err}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectDelay is the exponential backoff for attempt: 1s, 2s, 4s, 8s, 16s cap.
func reconnectDelay(attempt int) time.Duration {
	return time.Duration(1<<min(max(attempt, 0), 4)) * time.Second
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	return tea.Tick(reconnectDelay(attempt), func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// filter returns the instrument id currently shown, nil for all.
func (m Model) filter() *int64 {
	if m.instrumentIndex < 0 || m.instrumentIndex >= len(m.instruments) {
		return nil
	}
	id := m.instruments[m.instrumentIndex].InstrumentID
	return &id
}

func (m *Model) refresh() tea.Cmd {
	if !m.connected || m.client == nil {
		return nil
	}
	m.loading = true
	return tea.Batch(instrumentsCmd(m.client), tendenciesCmd(m.client, m.filter()))
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

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		// Subscribe on event client, fetch data on command client
		cmd := tea.Batch(subscribeCmd(m.evClient), m.refresh())
		return m, cmd

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case InstrumentsLoadedMsg:
		if msg.Err != nil {
			return m.handleFetchError(msg.Err)
		}
		m.setInstruments(msg.Instruments)
		return m, nil

	case TendenciesLoadedMsg:
		if msg.Err != nil {
			m.loading = false
			return m.handleFetchError(msg.Err)
		}
		// Drop answers for a filter the user has already moved away from.
		if !sameFilter(msg.InstrumentID, m.filter()) {
			return m, nil
		}
		m.loading = false
		m.rows = msg.Rows
		if m.selected >= len(m.rows) {
			m.selected = max(0, len(m.rows)-1)
		}
		return m, nil

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		// Continue reading events on event client
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		return m.disconnect(msg.Err)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// handleFetchError shows errors the daemon reported and treats anything
// else as a broken connection.
func (m Model) handleFetchError(err error) (tea.Model, tea.Cmd) {
	var remote *daemon.RemoteError
	if errors.As(err, &remote) {
		m.errorMessage = remote.Message
		m.errorTransient = true
		return m, clearTransientErrorCmd()
	}
	return m.disconnect(err)
}

func (m Model) disconnect(err error) (tea.Model, tea.Cmd) {
	if m.reconnecting {
		// Both connections fail together; schedule one retry.
		return m, nil
	}
	m.connected = false
	m.connError = err.Error()
	m.statusText = "Disconnected. Reconnecting..."
	m.reconnecting = true
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.evClient != nil {
		m.evClient.Close()
		m.evClient = nil
	}
	return m, reconnectCmd(m.reconnectAttempt)
}

// setInstruments replaces the instrument list, keeping the current
// selection when that instrument is still present.
func (m *Model) setInstruments(instruments []tendency.Instrument) {
	current := m.filter()
	m.instruments = instruments
	m.instrumentIndex = -1
	if current == nil {
		return
	}
	for i, in := range instruments {
		if in.InstrumentID == *current {
			m.instrumentIndex = i
			return
		}
	}
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventSession:
		m.lastSession = ev.SessionID
		m.statusText = "Session " + ev.SessionID + " received"
		return m.refresh()
	}
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.client != nil {
			m.client.Close()
		}
		if m.evClient != nil {
			m.evClient.Close()
		}
		return m, tea.Quit

	case KeyRefresh:
		cmd := m.refresh()
		return m, cmd

	case KeyJ, KeyDown:
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyNextInstr:
		return m.cycleInstrument(1)

	case KeyPrevInstr:
		return m.cycleInstrument(-1)

	case KeyAllInstrument:
		if m.instrumentIndex == -1 {
			return m, nil
		}
		m.instrumentIndex = -1
		m.selected = 0
		cmd := m.refresh()
		return m, cmd
	}

	return m, nil
}

// cycleInstrument steps through [all, instrument 0, instrument 1, ...].
func (m Model) cycleInstrument(delta int) (tea.Model, tea.Cmd) {
	if !m.connected || len(m.instruments) == 0 {
		return m, nil
	}
	n := len(m.instruments) + 1
	pos := (m.instrumentIndex + 1 + delta + n) % n
	m.instrumentIndex = pos - 1
	m.selected = 0
	cmd := m.refresh()
	return m, cmd
}

func sameFilter(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m Model) totalSamples() int64 {
	var total int64
	for _, r := range m.rows {
		total += r.TotalSamples
	}
	return total
}

func (m Model) filterLabel() string {
	if m.instrumentIndex < 0 || m.instrumentIndex >= len(m.instruments) {
		return "All instruments"
	}
	return instrumentName(m.instruments[m.instrumentIndex])
}

func instrumentName(in tendency.Instrument) string {
	if in.Instrument == "" {
		return fmt.Sprintf("Instrument %d", in.InstrumentID)
	}
	return in.Instrument
}

func (m Model) tableVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(2) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) instrumentPanelWidth() int {
	if m.width == 0 {
		return 24
	}
	return max(18, m.width*25/100)
}

func (m Model) tablePanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.instrumentPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	// Main content: instruments | tendencies
	sections = append(sections, m.renderMainContent())

	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("PITCHTEND")
	scope := ui.DimStyle.Render(" — " + m.filterLabel())
	samples := ui.DimStyle.Render(fmt.Sprintf("  [%d samples]", m.totalSamples()))
	return title + scope + samples
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.connected {
		dot = ui.ConnectedDotStyle.Render("● LIVE")
	} else {
		dot = ui.OfflineDotStyle.Render("○ OFFLINE")
	}

	status := "  " + ui.DimStyle.Render(m.statusText)
	if m.loading {
		status += ui.DimStyle.Render(" (loading)")
	}
	return dot + status
}

func (m Model) renderMainContent() string {
	instrW := m.instrumentPanelWidth()
	tableW := m.tablePanelWidth()
	contentH := m.tableVisibleLines()

	instrPanel := m.renderInstrumentPanel(instrW, contentH)
	tablePanel := m.renderTablePanel(tableW, contentH)

	divider := ui.DividerStyle.Render("│")

	instrLines := strings.Split(instrPanel, "\n")
	tableLines := strings.Split(tablePanel, "\n")

	// Pad to same height
	for len(instrLines) < contentH {
		instrLines = append(instrLines, strings.Repeat(" ", instrW))
	}
	for len(tableLines) < contentH {
		tableLines = append(tableLines, "")
	}

	var rows []string
	for i := 0; i < contentH; i++ {
		rows = append(rows, instrLines[i]+divider+tableLines[i])
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderInstrumentPanel(width, height int) string {
	var lines []string
	lines = append(lines, ui.PanelTitleStyle.Render(fmt.Sprintf("INSTRUMENTS (%d)", len(m.instruments))))

	entry := func(active bool, label string) string {
		if active {
			return ui.SelectedStyle.Render("> " + label)
		}
		return "  " + label
	}

	lines = append(lines, entry(m.instrumentIndex == -1, "All"))
	for i, in := range m.instruments {
		label := fmt.Sprintf("%s (%d)", instrumentName(in), in.Sessions)
		lines = append(lines, truncateToWidth(entry(i == m.instrumentIndex, label), width))
	}

	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderTablePanel(width, height int) string {
	var lines []string
	lines = append(lines, ui.PanelTitleActiveStyle.Render("TENDENCIES"))

	contentHeight := height - 2 // title and column header

	if !m.connected {
		if m.reconnecting {
			lines = append(lines, "")
			lines = append(lines, ui.ErrorTextStyle.Render("  Daemon disconnected. Reconnecting..."))
		} else if m.connError != "" {
			lines = append(lines, "")
			lines = append(lines, ui.ErrorStyle.Render("  Daemon not running."))
			lines = append(lines, ui.DimStyle.Render("  Start with: pitchtend serve"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Connecting to pitchtend daemon..."))
		}
	} else if len(m.rows) == 0 {
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  No tuning data yet. Submit a session to begin."))
	} else {
		lines = append(lines, ui.DimStyle.Render(fmt.Sprintf("  %-6s %6s %9s %8s  %s", "NOTE", "INSTR", "CENTS", "SAMPLES", "FLAT | SHARP")))

		// Keep the selection on screen.
		start := 0
		if m.selected >= contentHeight {
			start = m.selected - contentHeight + 1
		}
		end := min(start+contentHeight, len(m.rows))

		for i := start; i < end; i++ {
			lines = append(lines, truncateToWidth(m.renderRow(m.rows[i], i == m.selected), width))
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderRow(r tendency.Summary, selected bool) string {
	text := fmt.Sprintf("%-6s %6d %+9.2f %8d", r.NoteString, r.InstrumentID, r.MeanCents, r.TotalSamples)
	styled := centsStyle(r.MeanCents).Render(text)
	if selected {
		return ui.SelectedStyle.Render("> ") + styled + "  " + renderDeviationBar(r.MeanCents)
	}
	return "  " + styled + "  " + renderDeviationBar(r.MeanCents)
}

func centsStyle(cents float64) lipgloss.Style {
	switch {
	case cents > 0:
		return ui.SharpStyle
	case cents < 0:
		return ui.FlatStyle
	}
	return ui.InTuneStyle
}

// renderDeviationBar draws a centred bar: flat fills left, sharp fills right.
func renderDeviationBar(cents float64) string {
	const half = 6
	filled := int(math.Round(math.Min(math.Abs(cents), barCents) / barCents * half))

	var left, right string
	for i := half - 1; i >= 0; i-- {
		if cents < 0 && i < filled {
			left += ui.FlatStyle.Render("█")
		} else {
			left += ui.BarGrayStyle.Render("░")
		}
	}
	for i := 0; i < half; i++ {
		if cents > 0 && i < filled {
			right += ui.SharpStyle.Render("█")
		} else {
			right += ui.BarGrayStyle.Render("░")
		}
	}
	return left + ui.DividerStyle.Render("|") + right
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.connected {
		parts = append(parts, ui.FooterKeyStyle.Render("i/I")+ui.FooterDescStyle.Render(" Instrument"))
		parts = append(parts, ui.FooterKeyStyle.Render("a")+ui.FooterDescStyle.Render(" All"))
		parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Nav"))
		parts = append(parts, ui.FooterKeyStyle.Render("r")+ui.FooterDescStyle.Render(" Refresh"))
	}

	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible <= width {
		return s
	}
	// Simple truncation for non-styled strings
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}
