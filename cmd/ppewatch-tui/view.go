package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ppewatch/internal/reconcile"
	"ppewatch/internal/session"
)

type uiTheme struct {
	root               lipgloss.Style
	header             lipgloss.Style
	tabActive          lipgloss.Style
	tabInactive        lipgloss.Style
	panel              lipgloss.Style
	panelTitle         lipgloss.Style
	footer             lipgloss.Style
	status             lipgloss.Style
	errorStatus        lipgloss.Style
	inputPanel         lipgloss.Style
	helpText           lipgloss.Style
	fieldKey           lipgloss.Style
	fieldValue         lipgloss.Style
	badgeOn            lipgloss.Style
	badgeOff           lipgloss.Style
	barFull            lipgloss.Style
	barHigh            lipgloss.Style
	barLow             lipgloss.Style
	barEmpty           lipgloss.Style
	level              map[session.Level]lipgloss.Style
	launcherFrame      lipgloss.Style
	launcherFrameAlt   lipgloss.Style
	launcherTitle      lipgloss.Style
	launcherTitlePulse lipgloss.Style
	launcherAccent     lipgloss.Style
	launcherOption     lipgloss.Style
	launcherSelect     lipgloss.Style
	launcherBoot       lipgloss.Style
	launcherReady      lipgloss.Style
	launcherMuted      lipgloss.Style
	launcherScanlineA  lipgloss.Style
	launcherScanlineB  lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	amber := lipgloss.Color("#ffd166")
	bg := lipgloss.Color("#120924")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")
	ink := lipgloss.Color("#22062f")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(pink).
			Foreground(ink).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		helpText:   lipgloss.NewStyle().Foreground(muted),
		fieldKey:   lipgloss.NewStyle().Foreground(blue),
		fieldValue: lipgloss.NewStyle().Foreground(text),
		badgeOn: lipgloss.NewStyle().
			Background(mint).
			Foreground(ink).
			Bold(true).
			Padding(0, 1),
		badgeOff: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		barFull:  lipgloss.NewStyle().Foreground(mint),
		barHigh:  lipgloss.NewStyle().Foreground(amber),
		barLow:   lipgloss.NewStyle().Foreground(pink),
		barEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("#3b2a66")),
		level: map[session.Level]lipgloss.Style{
			session.LevelInfo:    lipgloss.NewStyle().Foreground(blue),
			session.LevelSuccess: lipgloss.NewStyle().Foreground(mint).Bold(true),
			session.LevelWarning: lipgloss.NewStyle().Foreground(amber).Bold(true),
			session.LevelError:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		},
		launcherFrame: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(pink).
			Padding(1, 2),
		launcherFrameAlt: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(blue).
			Padding(1, 2),
		launcherTitle: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),
		launcherTitlePulse: lipgloss.NewStyle().
			Foreground(pink).
			Bold(true),
		launcherAccent: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		launcherOption: lipgloss.NewStyle().
			Foreground(text),
		launcherSelect: lipgloss.NewStyle().
			Foreground(ink).
			Background(pink).
			Bold(true).
			Padding(0, 1),
		launcherBoot:  lipgloss.NewStyle().Foreground(amber).Bold(true),
		launcherReady: lipgloss.NewStyle().Foreground(mint).Bold(true),
		launcherMuted: lipgloss.NewStyle().Foreground(muted),
		launcherScanlineA: lipgloss.NewStyle().
			Background(lipgloss.Color("#150b2d")),
		launcherScanlineB: lipgloss.NewStyle().
			Background(lipgloss.Color("#311a63")),
	}
}

func (m model) View() string {
	out := ""
	if m.launcherActive {
		out = m.renderLauncher()
	} else {
		parts := []string{m.renderHeader(), m.renderContent()}
		if m.prompting {
			parts = append(parts, m.renderInput())
		}
		parts = append(parts, m.renderFooter())
		out = lipgloss.JoinVertical(lipgloss.Left, parts...)
	}
	if m.quitConfirm {
		out = m.renderModal("QUIT PPEWATCH?", "The service keeps running; only this console closes.", "[Y / Enter] Quit")
	} else if m.resetConfirm {
		out = m.renderModal("RESET SYSTEM?", "Stops the source and turns detection and recognition off on the service.", "[Y / Enter] Reset")
	}
	return m.theme.root.Render(out)
}

// scanlines pads every line of text to the widest one and alternates the two
// launcher scanline styles.
func (t uiTheme) scanlines(text string) string {
	lines := strings.Split(text, "\n")
	width := 0
	for _, line := range lines {
		width = max(width, lipgloss.Width(line))
	}
	if width == 0 {
		return text
	}
	for i, line := range lines {
		style := t.launcherScanlineA
		if i%2 == 1 {
			style = t.launcherScanlineB
		}
		lines[i] = style.Width(width).Render(line)
	}
	return strings.Join(lines, "\n")
}

func (m model) renderLauncher() string {
	contentWidth := max(48, min(100, m.width-4))

	pulseOn := ((m.launcherPulse / 2) % 2) == 0
	titleStyle := m.theme.launcherTitle
	frameStyle := m.theme.launcherFrame
	if pulseOn {
		titleStyle = m.theme.launcherTitlePulse
		frameStyle = m.theme.launcherFrameAlt
	}

	innerWidth := clampInt(contentWidth-8, 34, 74)
	rule := "+" + strings.Repeat("-", innerWidth) + "+"
	headerA := "| " + padRight("PPE COMPLIANCE CONSOLE", innerWidth-2) + " |"
	headerB := "| " + padRight("helmet · glasses · vest · gloves", innerWidth-2) + " |"

	statusLabel := "BOOTING"
	statusStyle := m.theme.launcherBoot
	statusDetail := "syncing with the detection service at " + m.cfg.ServiceURL
	if m.ready {
		statusLabel = "ONLINE"
		statusStyle = m.theme.launcherReady
		statusDetail = "session synced. pick a pane or start monitoring."
		if m.statusErr {
			statusLabel = "OFFLINE"
			statusStyle = m.theme.errorStatus
			statusDetail = compactSingleLine(m.statusLine, 120)
		}
	}
	bootLine := statusStyle.Render("["+statusLabel+"]") + " " + statusDetail

	var options strings.Builder
	for idx, item := range m.launcherItems {
		prefix := "   "
		if idx == m.launcherIndex {
			prefix = ">> "
		}
		line := fmt.Sprintf("%s%d. %s", prefix, idx+1, item)
		if idx == m.launcherIndex {
			options.WriteString(m.theme.launcherSelect.Render(line))
		} else {
			options.WriteString(m.theme.launcherOption.Render(line))
		}
		options.WriteString("\n")
	}

	art := []string{
		"     ___        ___        ___",
		"    (o o)      (o o)      (o o)",
		"   /|[#]|\\    /|[#]|\\    /|[#]|\\",
	}

	body := strings.Join([]string{
		titleStyle.Render("ppewatch"),
		m.theme.launcherMuted.Render("Operator console for the PPE detection service"),
		"",
		m.theme.launcherAccent.Render(rule),
		m.theme.launcherAccent.Render(headerA),
		m.theme.launcherAccent.Render(headerB),
		m.theme.launcherAccent.Render(rule),
		"",
		m.theme.launcherAccent.Render(strings.Join(art, "\n")),
		"",
		m.spinner.View() + " " + bootLine,
		m.theme.launcherMuted.Render("Source: " + m.state.Source.String()),
		"",
		strings.TrimRight(options.String(), "\n"),
		"",
		m.theme.launcherMuted.Render("Keys: up/down choose | enter launch | esc skip to monitor | q quit prompt"),
	}, "\n")
	body = m.theme.scanlines(body)

	panel := frameStyle.Width(contentWidth).Render(body)
	return lipgloss.Place(
		max(contentWidth+2, m.width-2),
		max(16, m.height-2),
		lipgloss.Center,
		lipgloss.Center,
		panel,
	)
}

func (m model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabMonitor, "Monitor"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+1)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	meta := fmt.Sprintf(" Service: %s · gen %d", m.cfg.ServiceURL, m.state.Generation)
	segments = append(segments, m.theme.helpText.Render(meta))
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(max(20, m.width-4)).Render(joined)
}

func (m model) renderContent() string {
	contentHeight := max(8, m.height-10)
	contentWidth := max(40, m.width-4)

	if m.activeTab == tabHelp {
		return m.theme.panel.Width(contentWidth).Height(contentHeight).Render(m.renderHelp())
	}

	leftWidth, rightWidth := splitWidths(contentWidth)
	left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
		m.theme.panelTitle.Render("Compliance") + "\n" +
			m.renderCompliance(leftWidth-4) + "\n\n" +
			m.theme.panelTitle.Render("Session") + "\n" +
			m.renderSession(leftWidth-4),
	)
	right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
		m.theme.panelTitle.Render("Activity") + "\n" + m.feed.View(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func splitWidths(contentWidth int) (int, int) {
	leftWidth := int(float64(contentWidth) * 0.5)
	rightWidth := contentWidth - leftWidth - 1
	if rightWidth < 28 {
		rightWidth = 28
		leftWidth = contentWidth - rightWidth - 1
	}
	return leftWidth, rightWidth
}

func (m model) renderCompliance(width int) string {
	snap := m.state.Snapshot
	if !m.state.DetectionEnabled {
		return m.theme.helpText.Render("detection off · press 4 to enable")
	}

	badges := make([]string, 0, session.ItemCount)
	for _, item := range session.Items {
		style := m.theme.badgeOff
		mark := "✗"
		if snap.Detected(item) {
			style = m.theme.badgeOn
			mark = "✓"
		}
		badges = append(badges, style.Render(mark+" "+item.String()))
	}
	person := m.theme.helpText.Render("no person in view")
	if snap.PersonPresent {
		person = m.theme.fieldValue.Render("person in view")
	}
	lines := []string{
		person,
		strings.Join(badges, " "),
		m.renderBar(snap, max(10, width-12)),
	}
	if m.lastPollResult == reconcile.Failed {
		lines = append(lines, m.theme.errorStatus.Render("last poll failed · showing previous reading"))
	}
	return strings.Join(lines, "\n")
}

// renderBar draws the compliance percentage. Full compliance, three quarters
// and below get distinct colours.
func (m model) renderBar(snap session.Snapshot, width int) string {
	percent := snap.Percent()
	filled := clampInt(width*percent/100, 0, width)
	style := barStyle(m.theme, percent)
	bar := style.Render(strings.Repeat("█", filled)) + m.theme.barEmpty.Render(strings.Repeat("░", width-filled))
	label := style.Render(fmt.Sprintf(" %3d%% %d/%d", percent, snap.CompliantCount(), session.ItemCount))
	return bar + label
}

func barStyle(theme uiTheme, percent int) lipgloss.Style {
	switch {
	case percent >= 100:
		return theme.barFull
	case percent >= 75:
		return theme.barHigh
	default:
		return theme.barLow
	}
}

func (m model) renderSession(width int) string {
	field := func(key, value string) string {
		return m.theme.fieldKey.Render(padRight(key, 12)) + m.theme.fieldValue.Render(truncate(value, max(8, width-12)))
	}
	media := nullCoalesce(m.state.Media, "-")
	poll := "idle"
	if m.polling {
		poll = m.spinner.View() + " polling"
	} else if !m.lastPoll.IsZero() {
		poll = fmt.Sprintf("%s at %s", m.lastPollResult, m.lastPoll.Format("15:04:05"))
	}
	return strings.Join([]string{
		field("source", m.state.Source.String()),
		field("media", media),
		field("detection", onOff(m.state.DetectionEnabled)),
		field("recognition", onOff(m.state.RecognitionEnabled)),
		field("poll", poll),
	}, "\n")
}

func (m model) renderActivity(width int) string {
	if len(m.state.Activity) == 0 {
		return m.theme.helpText.Render("no activity yet")
	}
	lines := make([]string, 0, len(m.state.Activity))
	for _, rec := range m.state.Activity {
		style, ok := m.theme.level[rec.Level]
		if !ok {
			style = m.theme.fieldValue
		}
		stamp := m.theme.helpText.Render(rec.At.Format("15:04:05"))
		lines = append(lines, stamp+" "+style.Width(max(10, width-10)).Render(rec.Message))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderInput() string {
	contentWidth := max(40, m.width-4)
	return m.theme.inputPanel.Width(contentWidth).Render(m.input.View())
}

func (m model) renderFooter() string {
	contentWidth := max(40, m.width-4)
	statusStyle := m.theme.status
	if m.statusErr {
		statusStyle = m.theme.errorStatus
	}
	status := compactSingleLine(m.statusLine, 180)
	if m.inflight {
		status = m.spinner.View() + " " + m.pending + "... " + status
	}
	line := statusStyle.Render(status)
	hints := m.theme.helpText.Render("1 load · 2 records · 3 recognition · 4 detection · 5 capture · 6 camera · r resync · ctrl+r reset · Tab view · Esc quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m model) renderModal(title, subtitle, confirm string) string {
	canvasWidth := max(40, m.width-4)
	canvasHeight := max(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.56), 42, 78)
	if modalWidth > canvasWidth-2 {
		modalWidth = canvasWidth - 2
	}
	if modalWidth < 32 {
		modalWidth = 32
	}

	prompt := m.theme.errorStatus.Render(confirm) + "    " + m.theme.helpText.Render("[N / Esc] Return")
	accent := m.theme.launcherAccent.Render("========================================")
	body := strings.Join([]string{
		m.theme.errorStatus.Render(title),
		m.theme.helpText.Render(subtitle),
		"",
		accent,
		"",
		prompt,
	}, "\n")
	panel := m.theme.launcherFrameAlt.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("#120924")),
	)
}

func (m *model) renderPanes() {
	contentHeight := max(8, m.height-10)
	_, rightWidth := splitWidths(max(40, m.width-4))
	m.feed.Width = max(20, rightWidth-4)
	m.feed.Height = max(4, contentHeight-3)
	// newest first, so keep the view pinned to the top
	m.feed.SetContent(m.renderActivity(m.feed.Width))
	m.feed.GotoTop()
}

func (m *model) resize() {
	contentWidth := max(40, m.width-4)
	m.input.Width = max(20, contentWidth-12)
}

func (m model) renderHelp() string {
	lines := []string{
		"Keys",
		"- 1: load an image or video file (type a path, Enter to upload, Esc to cancel)",
		"- 2: open the compliance records on the service host",
		"- 3: toggle face recognition",
		"- 4: toggle PPE detection (turning it off clears the reading)",
		"- 5: capture the current frame",
		"- 6: start or stop the camera",
		"- r: resync from the service",
		"- Ctrl+R: reset the whole system (asks first)",
		"- Up/Down, PgUp/PgDn: scroll the activity feed",
		"- Tab / Shift+Tab: switch views",
		"- Esc: from Help, back to the launcher; on Monitor, quit prompt",
		"- Ctrl+C: quit",
		"",
		"Reading the monitor",
		"- The bar is green at 100%, amber from 75%, pink below",
		"- The activity feed keeps the ten newest events, newest on top",
		"- Readings that arrive after a source or detection change are dropped",
		fmt.Sprintf("- Polling every %s while detection is on", m.cfg.PollInterval),
		"",
		"Diagnostics are written to " + nullCoalesce(m.cfg.LogFile, "nowhere (logging off)"),
	}
	return m.theme.helpText.Render(strings.Join(lines, "\n"))
}
