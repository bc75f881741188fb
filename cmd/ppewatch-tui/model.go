package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"ppewatch/internal/dispatch"
	"ppewatch/internal/reconcile"
	"ppewatch/internal/remote"
	"ppewatch/internal/session"
)

const (
	logLimit = 50
	// the media surface is probed every this many poll ticks
	mediaCheckEvery = 5
)

type tabID int

const (
	tabMonitor tabID = iota
	tabHelp
	tabCount
)

type commands interface {
	Seed(ctx context.Context) (dispatch.Outcome, error)
	Resync(ctx context.Context) (dispatch.Outcome, error)
	LoadSource(ctx context.Context, path string) (dispatch.Outcome, error)
	ToggleCamera(ctx context.Context) (dispatch.Outcome, error)
	ToggleDetection(ctx context.Context) (dispatch.Outcome, error)
	ToggleRecognition(ctx context.Context) (dispatch.Outcome, error)
	CaptureFrame(ctx context.Context) (dispatch.Outcome, error)
	Reset(ctx context.Context) (dispatch.Outcome, error)
	OpenRecords(ctx context.Context) (dispatch.Outcome, error)
	VerifyMedia(ctx context.Context) (dispatch.Outcome, error)
}

type poller interface {
	Tick(ctx context.Context) reconcile.Result
}

type model struct {
	cfg   appConfig
	store *session.Store
	disp  commands
	recon poller
	log   zerolog.Logger

	state session.State

	ready          bool
	statusLine     string
	statusErr      bool
	logs           []string
	activeTab      tabID
	launcherActive bool
	launcherIndex  int
	launcherItems  []string
	launcherPulse  int
	inflight       bool
	pending        string
	polling        bool
	lastPoll       time.Time
	lastPollResult reconcile.Outcome
	pollTicks      int
	mediaChecking  bool
	prompting      bool
	resetConfirm   bool
	quitConfirm    bool
	stateInbound   chan tea.Msg
	unsubscribe    func()

	width  int
	height int

	input   textinput.Model
	feed    viewport.Model
	spinner spinner.Model

	theme uiTheme
}

type initDoneMsg struct {
	outcome dispatch.Outcome
	err     error
}

type actionDoneMsg struct {
	op      string
	outcome dispatch.Outcome
	err     error
}

type pollDoneMsg struct {
	result reconcile.Result
}

type mediaCheckedMsg struct {
	outcome dispatch.Outcome
	err     error
}

type stateChangedMsg struct {
	state session.State
}

type tickMsg time.Time

func newModel(cfg appConfig, store *session.Store, disp commands, recon poller, log zerolog.Logger) model {
	input := textinput.New()
	input.Prompt = "file ❯ "
	input.CharLimit = 4096
	input.Placeholder = "path to an image (.jpg .png .bmp) or video (.mp4 .avi .mov .mkv)"
	input.Blur()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	feed := viewport.New(0, 0)
	feed.MouseWheelEnabled = true
	feed.MouseWheelDelta = 2

	m := model{
		cfg:            cfg,
		store:          store,
		disp:           disp,
		recon:          recon,
		log:            log,
		state:          store.Read(),
		statusLine:     "starting...",
		logs:           []string{},
		activeTab:      tabMonitor,
		launcherActive: cfg.Launcher,
		launcherItems: []string{
			"Start Monitoring",
			"Open Help",
			"Quit",
		},
		input:   input,
		feed:    feed,
		spinner: sp,
		theme:   newTheme(),
	}
	m.stateInbound, m.unsubscribe = subscribeState(store)
	return m
}

// subscribeState forwards store commits into the program. The channel holds
// only the newest state; a commit that finds it full replaces what is there.
func subscribeState(store *session.Store) (chan tea.Msg, func()) {
	ch := make(chan tea.Msg, 1)
	cancel := store.Subscribe(func(state session.State) {
		msg := stateChangedMsg{state: state}
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	})
	return ch, cancel
}

func waitStateMsg(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.initCmd(),
		waitStateMsg(m.stateInbound),
		tickEvery(m.cfg.PollInterval),
	)
}

func (m model) initCmd() tea.Cmd {
	disp := m.disp
	return func() tea.Msg {
		outcome, err := disp.Seed(context.Background())
		return initDoneMsg{outcome: outcome, err: err}
	}
}

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = time.Second
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) pollCmd() tea.Cmd {
	recon := m.recon
	return func() tea.Msg {
		return pollDoneMsg{result: recon.Tick(context.Background())}
	}
}

func (m model) mediaCheckCmd() tea.Cmd {
	disp := m.disp
	return func() tea.Msg {
		outcome, err := disp.VerifyMedia(context.Background())
		return mediaCheckedMsg{outcome: outcome, err: err}
	}
}

// actionCmd runs one dispatcher operation off the update loop.
func (m *model) actionCmd(op string, run func(ctx context.Context) (dispatch.Outcome, error)) tea.Cmd {
	if m.inflight {
		return nil
	}
	m.inflight = true
	m.pending = op
	return func() tea.Msg {
		outcome, err := run(context.Background())
		return actionDoneMsg{op: op, outcome: outcome, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case initDoneMsg:
		m.ready = true
		if msg.err != nil {
			m.reportError("startup sync failed", msg.err)
			m.statusLine = "service unreachable · press r to retry"
			break
		}
		m.report(msg.outcome)
	case stateChangedMsg:
		m.state = msg.state
		m.renderPanes()
		cmds = append(cmds, waitStateMsg(m.stateInbound))
	case actionDoneMsg:
		m.inflight = false
		m.pending = ""
		if msg.err != nil {
			m.log.Debug().Str("op", msg.op).Err(msg.err).Msg("action failed")
			m.statusErr = true
			m.statusLine = msg.outcome.Message
			if strings.TrimSpace(m.statusLine) == "" {
				m.statusLine = msg.op + " failed"
			}
			m.appendLog("error: " + msg.err.Error())
			break
		}
		m.report(msg.outcome)
	case pollDoneMsg:
		m.polling = false
		m.lastPoll = time.Now()
		m.lastPollResult = msg.result.Outcome
		if msg.result.Outcome == reconcile.Failed && msg.result.Err != nil {
			m.appendLog("poll failed: " + compactSingleLine(msg.result.Err.Error(), 160))
		}
	case mediaCheckedMsg:
		m.mediaChecking = false
		if msg.err != nil && !remote.IsCanceled(msg.err) {
			m.statusErr = true
			m.statusLine = nullCoalesce(msg.outcome.Message, "media error")
			m.appendLog("media: " + msg.err.Error())
		}
	case tickMsg:
		if m.ready && !m.polling && m.state.DetectionEnabled {
			m.polling = true
			cmds = append(cmds, m.pollCmd())
		}
		m.pollTicks++
		if m.ready && !m.mediaChecking && m.state.Source != session.SourceNone && m.pollTicks%mediaCheckEvery == 0 {
			m.mediaChecking = true
			cmds = append(cmds, m.mediaCheckCmd())
		}
		cmds = append(cmds, tickEvery(m.cfg.PollInterval))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.launcherActive {
			m.launcherPulse = (m.launcherPulse + 1) % 24
		}
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.launcherActive || m.quitConfirm || m.activeTab != tabMonitor {
			break
		}
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.shutdown()
		return m, tea.Quit
	}
	if m.quitConfirm {
		switch key {
		case "y", "Y", "enter":
			m.shutdown()
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
		}
		return m, tea.Batch(cmds...)
	}
	if m.resetConfirm {
		switch key {
		case "y", "Y", "enter":
			m.resetConfirm = false
			cmds = append(cmds, m.actionCmd("reset", m.disp.Reset))
		case "n", "N", "esc":
			m.resetConfirm = false
			m.statusLine = "reset canceled"
		}
		return m, tea.Batch(cmds...)
	}
	if m.launcherActive {
		return m.handleLauncherKey(key, cmds)
	}
	if m.prompting {
		switch key {
		case "esc":
			m.closePrompt()
			m.statusLine = "load canceled"
			return m, tea.Batch(cmds...)
		case "enter":
			path := strings.TrimSpace(m.input.Value())
			m.closePrompt()
			cmds = append(cmds, m.actionCmd("load source", func(ctx context.Context) (dispatch.Outcome, error) {
				return m.disp.LoadSource(ctx, path)
			}))
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	switch key {
	case "esc":
		if m.activeTab == tabMonitor {
			m.beginQuitConfirm()
			return m, tea.Batch(cmds...)
		}
		m.launcherActive = true
		m.launcherIndex = launcherIndexForTab(m.activeTab)
		m.statusLine = "launcher menu"
		return m, tea.Batch(cmds...)
	case "tab":
		m.activeTab = (m.activeTab + 1) % tabCount
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "shift+tab":
		m.activeTab = (m.activeTab + tabCount - 1) % tabCount
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "q":
		m.beginQuitConfirm()
		return m, tea.Batch(cmds...)
	}

	if m.activeTab != tabMonitor || !m.ready {
		return m, tea.Batch(cmds...)
	}
	if m.inflight && isCommandKey(key) {
		m.statusLine = "busy: " + m.pending
		return m, tea.Batch(cmds...)
	}
	switch key {
	case "1":
		m.prompting = true
		m.input.SetValue("")
		m.input.Focus()
		m.statusLine = "enter a file path · enter load · esc cancel"
	case "2":
		cmds = append(cmds, m.actionCmd("open records", m.disp.OpenRecords))
	case "3":
		cmds = append(cmds, m.actionCmd("toggle recognition", m.disp.ToggleRecognition))
	case "4":
		cmds = append(cmds, m.actionCmd("toggle detection", m.disp.ToggleDetection))
	case "5":
		cmds = append(cmds, m.actionCmd("capture", m.disp.CaptureFrame))
	case "6":
		cmds = append(cmds, m.actionCmd("camera", m.disp.ToggleCamera))
	case "r":
		cmds = append(cmds, m.actionCmd("resync", m.disp.Resync))
	case "ctrl+r":
		m.resetConfirm = true
		m.statusLine = "reset the whole system? y/n"
	case "pgup", "k", "up":
		m.feed.LineUp(2)
	case "pgdown", "j", "down":
		m.feed.LineDown(2)
	case "home":
		m.feed.GotoTop()
	case "end":
		m.feed.GotoBottom()
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleLauncherKey(key string, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch key {
	case "up", "k":
		m.launcherIndex = (m.launcherIndex + len(m.launcherItems) - 1) % len(m.launcherItems)
	case "down", "j":
		m.launcherIndex = (m.launcherIndex + 1) % len(m.launcherItems)
	case "esc":
		m.launcherActive = false
		m.activeTab = tabMonitor
		m.statusLine = "launcher skipped · monitor ready"
		m.renderPanes()
	case "q":
		m.beginQuitConfirm()
	case "enter":
		switch m.launcherIndex {
		case 0:
			m.launcherActive = false
			m.activeTab = tabMonitor
			m.statusLine = "connecting to service..."
			if m.ready {
				m.statusLine = "monitor ready"
			}
			m.renderPanes()
		case 1:
			m.launcherActive = false
			m.activeTab = tabHelp
			m.statusLine = "help panel"
		case 2:
			m.beginQuitConfirm()
		}
	}
	return m, tea.Batch(cmds...)
}

func isCommandKey(key string) bool {
	switch key {
	case "1", "2", "3", "4", "5", "6", "r", "ctrl+r":
		return true
	}
	return false
}

func launcherIndexForTab(tab tabID) int {
	if tab == tabHelp {
		return 1
	}
	return 0
}

func (m *model) closePrompt() {
	m.prompting = false
	m.input.SetValue("")
	m.input.Blur()
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "quit ppewatch?"
}

func (m *model) shutdown() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *model) report(outcome dispatch.Outcome) {
	m.statusErr = outcome.Level == session.LevelError
	if strings.TrimSpace(outcome.Message) != "" {
		m.statusLine = outcome.Message
		m.appendLog(outcome.Message)
	}
}

func (m *model) reportError(what string, err error) {
	if err == nil {
		return
	}
	m.log.Warn().Err(err).Msg(what)
	m.statusErr = true
	m.appendLog(what + ": " + err.Error())
	m.statusLine = what + ": " + compactSingleLine(err.Error(), 160)
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > logLimit {
		m.logs = m.logs[len(m.logs)-logLimit:]
	}
}
