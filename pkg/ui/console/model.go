package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"squadbot/pkg/bus"
	"squadbot/pkg/channel"
	"squadbot/pkg/envelope"
	"squadbot/pkg/message"
)

const (
	// Transport is the channel name stamped on console messages.
	Transport = "console"

	wheelStep = 3
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

type entryKind int

const (
	entryUser entryKind = iota
	entryReply
	entryError
	entryNotice
)

type entry struct {
	kind    entryKind
	content string
	code    envelope.Code
}

type replyMsg struct {
	reply envelope.Envelope
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	handle       channel.Handler
	mode         mode
	oneShotInput string

	session Session

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   envelope.Code
	booting   bool
	bootStep  int
	followLog bool
	requests  int
	failures  int
}

func newModel(ctx context.Context, handle channel.Handler, runMode mode, text string, session Session) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Send a command like /help, or plain text..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		handle:       handle,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(text),
		session:      session.withDefaults(),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		return m.submit(m.oneShotInput)
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.SetValue("")

			if isExitCommand(text) {
				return m, tea.Quit
			}
			if m.applyLocalCommand(text) {
				m.refreshViewport(true)
				return m, nil
			}

			return m, m.submit(text)
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.isLoading = false
		m.record(typed.reply)
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

// submit queues text for the router and starts the busy spinner.
func (m *model) submit(text string) tea.Cmd {
	m.lastErr = ""
	m.entries = append(m.entries, entry{kind: entryUser, content: text})
	m.isLoading = true
	m.followLog = true
	m.requests++
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.handle, m.session.inbound(text)))
}

func (m *model) record(reply envelope.Envelope) {
	if reply.Success {
		m.lastErr = ""
		m.entries = append(m.entries, entry{kind: entryReply, content: reply.Message})
		return
	}

	m.failures++
	m.lastErr = reply.ErrorCode
	m.entries = append(m.entries, entry{kind: entryError, content: reply.Message, code: reply.ErrorCode})
}

// applyLocalCommand handles console-only commands that change who is speaking
// and where. They never reach the router.
func (m *model) applyLocalCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}

	var notice string
	switch strings.ToLower(fields[0]) {
	case ":as":
		if len(fields) != 2 {
			notice = "usage: :as <sender id>"
			break
		}
		id, err := message.ParseSenderID(fields[1])
		if err != nil {
			notice = err.Error()
			break
		}
		m.session.SenderID = id
		notice = "now speaking as sender " + id.String()
	case ":in":
		if len(fields) != 2 {
			notice = "usage: :in broadcast|restricted|direct"
			break
		}
		channelType, err := message.ParseChannelType(fields[1])
		if err != nil {
			notice = err.Error()
			break
		}
		m.session.ChannelType = channelType
		notice = "now writing in the " + string(channelType) + " channel"
	case ":tenant":
		if len(fields) != 2 {
			notice = "usage: :tenant <tenant id>"
			break
		}
		m.session.TenantID = fields[1]
		notice = "now writing to tenant " + fields[1]
	default:
		return false
	}

	m.entries = append(m.entries, entry{kind: entryNotice, content: notice})
	return true
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📟 Squadbot Routing Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"tenant:%s · sender:%s · channel:%s · requests:%d · failed:%d",
		displayOrNA(m.session.TenantID),
		m.session.SenderID.String(),
		m.session.ChannelType,
		m.requests,
		m.failures,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  :as :in :tenant switch identity  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s routing request...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last request failed: " + string(m.lastErr))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry, width int) string {
	body := strings.TrimSpace(item.content)
	switch item.kind {
	case entryUser:
		return m.renderCard(m.theme.userTitle.Render("[ YOU ]"), m.theme.userBox.Width(width).Render(body))
	case entryReply:
		return m.renderCard(m.theme.replyTitle.Render("[ BOT ]"), m.theme.replyBox.Width(width).Render(body))
	case entryError:
		if item.code != "" {
			body = body + "\n" + m.theme.code.Render(string(item.code))
		}
		return m.renderCard(m.theme.errorTitle.Render("[ REJECTED ]"), m.theme.errorBox.Width(width).Render(body))
	default:
		return m.renderCard(m.theme.noticeTitle.Render("[ CONSOLE ]"), m.theme.noticeBox.Width(width).Render(body))
	}
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderEntry(entry{kind: entryUser, content: m.oneShotInput}, contentWidth)}

	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s routing request...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].kind == entryReply || m.entries[i].kind == entryError {
			parts = append(parts, m.renderEntry(m.entries[i], contentWidth))
			break
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📟 Squadbot Routing Console")
	meta := m.theme.headerMeta.Render("warming up")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ router online"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + wheelStep)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loading routing tables",
		"[BOOT] opening member directories",
		"[BOOT] arming admission control",
	}
}

func sendCmd(ctx context.Context, handle channel.Handler, inbound bus.InboundMessage) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{reply: handle(ctx, inbound)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}

// Session is the identity and channel console messages are sent under.
type Session struct {
	TenantID    string
	SenderID    message.SenderID
	SenderName  string
	ChannelType message.ChannelType
}

func (s Session) withDefaults() Session {
	if s.ChannelType == "" {
		s.ChannelType = message.ChannelDirect
	}
	if s.SenderName == "" {
		s.SenderName = "console"
	}

	return s
}

func (s Session) inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:     Transport,
		TenantID:    s.TenantID,
		SenderID:    s.SenderID.String(),
		SenderName:  s.SenderName,
		ChatID:      Transport + ":" + s.TenantID + ":" + strconv.FormatInt(int64(s.SenderID), 10),
		ChannelType: string(s.ChannelType),
		Content:     text,
		ReceivedAt:  time.Now().UTC(),
	}
}
